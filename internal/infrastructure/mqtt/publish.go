package mqtt

import (
	"fmt"
)

// maxPayloadSize caps outgoing payloads at 1 MiB. NVL value documents
// are a few hundred bytes at most, so reaching this cap indicates a bug
// upstream rather than a legitimate message; brokers commonly enforce
// a similar limit anyway.
const maxPayloadSize = 1 << 20

// Publish sends one message to the broker.
//
// QoS 0 is fire-and-forget, 1 guarantees delivery but may duplicate,
// 2 guarantees exactly-once at higher cost. Retained messages are kept
// by the broker and handed to new subscribers immediately; the bridge
// retains value and status topics so late joiners see current state,
// but never diagnostics (a stale unknown-COB report only misleads).
//
// The call waits for broker acknowledgment with a bounded timeout.
// On a disconnected client it returns ErrNotConnected immediately, so
// a broker outage never stalls the caller for the full timeout.
//
// Parameters:
//   - topic: Destination topic (e.g. "wago/nvl/climate/temperature")
//   - payload: Message body, typically JSON, at most 1 MiB
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker keeps the message for new subscribers
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected, or a
//     wrapped ErrPublishFailed
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// PublishString publishes a string payload. Shorthand for Publish with
// []byte(payload).
func (c *Client) PublishString(topic string, payload string, qos byte, retained bool) error {
	return c.Publish(topic, []byte(payload), qos, retained)
}
