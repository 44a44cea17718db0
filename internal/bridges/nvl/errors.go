package nvl

import "errors"

// Domain errors for the NVL bridge package.
var (
	// ErrSchema is returned when a schema document fails validation.
	// Schema errors are fatal at load time; the bridge must not start
	// with a partially valid routing table.
	ErrSchema = errors.New("nvl: invalid schema")

	// ErrPacketTooShort is returned when a datagram is smaller than the
	// fixed header, or when field decoding would read past the buffer.
	ErrPacketTooShort = errors.New("nvl: packet too short")

	// ErrNotProcessData is returned when the message-type discriminator
	// is not the PDO value. Such datagrams are dropped quietly.
	ErrNotProcessData = errors.New("nvl: not a process data message")

	// ErrImplausibleLength is returned when the declared total length
	// is smaller than the fixed header size.
	ErrImplausibleLength = errors.New("nvl: implausible declared length")

	// ErrTruncatedPacket is returned when the buffer holds fewer bytes
	// than the header's declared total length.
	ErrTruncatedPacket = errors.New("nvl: truncated packet")

	// ErrChecksumMismatch is returned when the additive checksum over the
	// data region does not match the header's checksum byte.
	ErrChecksumMismatch = errors.New("nvl: checksum mismatch")

	// ErrUnknownRouting is returned when no message group is registered
	// for a datagram's COB-ID. A diagnostic record is published instead.
	ErrUnknownRouting = errors.New("nvl: unknown COB-ID")

	// ErrDecode is returned when field decoding fails for a matched
	// message group. The datagram is dropped; the loop continues.
	ErrDecode = errors.New("nvl: field decoding failed")

	// ErrNotListening is returned when an operation requires an open
	// UDP socket but the listener is closed.
	ErrNotListening = errors.New("nvl: listener not active")

	// ErrListenFailed is returned when binding the UDP socket fails.
	ErrListenFailed = errors.New("nvl: listen failed")
)
