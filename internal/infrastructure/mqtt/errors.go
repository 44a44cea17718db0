package mqtt

import "errors"

// Sentinel errors for broker operations, matched with errors.Is.
// Operation timeouts wrap the relevant sentinel rather than carrying
// one of their own.
var (
	// ErrNotConnected: the client has no live broker connection.
	// The bridge treats this as a transient condition and drops the value.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed: the initial connect did not succeed.
	// Fatal at startup; auto-reconnect only covers later drops.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed: the broker refused or never acknowledged a publish.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed: the broker refused or never acknowledged a subscribe.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed: the broker refused or never acknowledged an unsubscribe.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS: QoS outside 0-2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic: empty topic string.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
