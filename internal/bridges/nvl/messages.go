package nvl

import (
	"encoding/hex"
	"time"
)

// diagnosticHexCap bounds the hex dump in unknown-COB diagnostics.
// Datagrams can be 4 KiB; the first bytes are what identify a stray
// sender, the rest is noise on the bus.
const diagnosticHexCap = 64

// ValueMessage is the JSON payload published for every decoded variable.
//
// The unit and device class are passed through from the schema so
// downstream consumers (dashboards, home automation discovery) need no
// second lookup.
type ValueMessage struct {
	// Value is the decoded, scaled value: a number, or a bool for BOOL
	// variables.
	Value any `json:"value"`

	// Unit is the variable's unit_of_measurement, if configured.
	Unit string `json:"unit_of_measurement,omitempty"`

	// DeviceClass is the variable's device_class, if configured.
	DeviceClass string `json:"device_class,omitempty"`
}

// UnknownCOBMessage is the diagnostic payload published when a datagram
// carries a COB-ID with no matching message group.
// Topic: {base}/unknown_cob/{cob_id}
type UnknownCOBMessage struct {
	// Len is the header's declared total length.
	Len uint16 `json:"len"`

	// Counter is the header's sequence counter.
	Counter uint16 `json:"counter"`

	// Flags is the header's flags byte.
	Flags byte `json:"flags"`

	// Checksum is the header's checksum byte.
	Checksum byte `json:"checksum"`

	// DataHex is a hex dump of the datagram, truncated to keep the
	// diagnostic payload small.
	DataHex string `json:"data_hex"`

	// From is the sender's address ("host:port").
	From string `json:"from"`
}

// NewUnknownCOBMessage builds the diagnostic record for an unroutable
// datagram.
func NewUnknownCOBMessage(h Header, data []byte, from string) UnknownCOBMessage {
	dump := data
	if len(dump) > diagnosticHexCap {
		dump = dump[:diagnosticHexCap]
	}
	return UnknownCOBMessage{
		Len:      h.Length,
		Counter:  h.Counter,
		Flags:    h.Flags,
		Checksum: h.Checksum,
		DataHex:  hex.EncodeToString(dump),
		From:     from,
	}
}

// BridgeStatus represents the operational status of the bridge.
type BridgeStatus string

// Bridge status values.
const (
	// StatusOnline means the bridge is listening and connected to the broker.
	StatusOnline BridgeStatus = "online"

	// StatusDegraded means the bridge is running but a collaborator is down.
	StatusDegraded BridgeStatus = "degraded"

	// StatusOffline is published via LWT when the bridge dies unannounced.
	StatusOffline BridgeStatus = "offline"

	// StatusStarting is published while the bridge initialises.
	StatusStarting BridgeStatus = "starting"

	// StatusStopping is published during clean shutdown.
	StatusStopping BridgeStatus = "stopping"
)

// StatusMessage is the retained JSON document on the bridge status topic.
// Topic: {base}/bridge/status
type StatusMessage struct {
	// Status is the current operational status.
	Status BridgeStatus `json:"status"`

	// InstanceID identifies this bridge process.
	InstanceID string `json:"instance_id"`

	// Version is the bridge software version.
	Version string `json:"version"`

	// Timestamp is when the status was generated (UTC).
	Timestamp time.Time `json:"timestamp"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Groups is the number of message groups in the routing table.
	Groups int `json:"groups"`

	// Listener contains UDP socket counters.
	Listener *ListenerStats `json:"listener,omitempty"`

	// Dispatch contains decode and publish counters.
	Dispatch *BridgeStats `json:"dispatch,omitempty"`

	// Reason explains the status (for degraded/stopping).
	Reason string `json:"reason,omitempty"`
}

// NewStatusMessage builds a status document with the timestamp set.
func NewStatusMessage(status BridgeStatus, instanceID, version string, startTime time.Time) StatusMessage {
	now := time.Now().UTC()
	return StatusMessage{
		Status:        status,
		InstanceID:    instanceID,
		Version:       version,
		Timestamp:     now,
		UptimeSeconds: int64(now.Sub(startTime).Seconds()),
	}
}

// NewLWTMessage builds the Last Will payload the broker publishes when
// the bridge connection dies without a clean disconnect.
func NewLWTMessage(instanceID, version string) StatusMessage {
	return StatusMessage{
		Status:     StatusOffline,
		InstanceID: instanceID,
		Version:    version,
		Timestamp:  time.Now().UTC(),
		Reason:     "connection lost",
	}
}
