package nvl

import (
	"encoding/binary"
	"fmt"
)

// NVL datagram framing constants.
const (
	// HeaderSize is the fixed size of the NVL datagram header in bytes.
	// Every datagram carries this header; the data region follows it.
	HeaderSize = 20

	// identitySize is the width of the identity marker at offset 0.
	identitySize = 4

	// MsgTypePDO is the message-type discriminator for process data.
	// Datagrams with any other discriminator are dropped after a
	// low-severity log line; they carry no decodable payload for us.
	MsgTypePDO uint32 = 0

	// FlagChecksum is bit 1 of the flags byte. When set, the sender has
	// filled the checksum byte and the receiver must verify it.
	FlagChecksum byte = 0x02

	// MaxDatagramSize is the largest datagram the listener accepts.
	MaxDatagramSize = 4096
)

// identityTag is the identity marker expected at the start of every NVL
// datagram ("\0-S3" in CODESYS network variable framing). Mismatches are
// advisory: logged by the dispatch path, never fatal.
var identityTag = [identitySize]byte{0x00, '-', 'S', '3'}

// Header is the fixed 20-byte header of an NVL datagram.
//
// Parsed fresh for every received datagram and discarded after dispatch.
// All multi-byte fields are little-endian on the wire regardless of the
// byte order configured for the data region.
type Header struct {
	// Identity is the 4-byte identity marker (advisory only).
	Identity [identitySize]byte

	// MsgType is the message-type discriminator. Only MsgTypePDO is
	// processed further.
	MsgType uint32

	// COBID is the routing identifier selecting the message group.
	COBID uint16

	// SubIndex is the sub-index within the variable list.
	SubIndex uint16

	// Items is the sender's declared count of variables in the payload.
	Items uint16

	// Length is the declared total datagram length, header included.
	Length uint16

	// Counter is the sender's wrapping sequence counter.
	Counter uint16

	// Flags carries per-datagram option bits (see FlagChecksum).
	Flags byte

	// Checksum is the additive checksum byte over the data region,
	// meaningful only when Flags has FlagChecksum set.
	Checksum byte
}

// ParseHeader parses and sanity-checks the fixed header of a raw datagram.
//
// Layout (all multi-byte fields little-endian):
//
//	Byte 0-3:   Identity marker (advisory, expected "\0-S3")
//	Byte 4-7:   Message type (uint32, 0 = PDO)
//	Byte 8-9:   COB-ID (routing identifier)
//	Byte 10-11: Sub-index
//	Byte 12-13: Item count
//	Byte 14-15: Declared total length (header included)
//	Byte 16-17: Sequence counter
//	Byte 18:    Flags
//	Byte 19:    Checksum
//
// A non-nil error is the drop signal. For ErrNotProcessData only the
// identity and message type are populated; for ErrImplausibleLength and
// ErrTruncatedPacket the full header is returned alongside the error so
// the caller can log its fields.
//
// Parameters:
//   - data: Raw datagram bytes as received from the socket
//
// Returns:
//   - Header: Parsed header fields (see above for partial cases)
//   - error: ErrPacketTooShort, ErrNotProcessData, ErrImplausibleLength
//     or ErrTruncatedPacket; nil when the datagram should be decoded
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrPacketTooShort, len(data), HeaderSize)
	}

	var h Header
	copy(h.Identity[:], data[0:4])

	// Bytes 4-7: message type. Anything but PDO is dropped before the
	// routing fields are even read.
	h.MsgType = binary.LittleEndian.Uint32(data[4:8])
	if h.MsgType != MsgTypePDO {
		return h, fmt.Errorf("%w: message type %d", ErrNotProcessData, h.MsgType)
	}

	h.COBID = binary.LittleEndian.Uint16(data[8:10])
	h.SubIndex = binary.LittleEndian.Uint16(data[10:12])
	h.Items = binary.LittleEndian.Uint16(data[12:14])
	h.Length = binary.LittleEndian.Uint16(data[14:16])
	h.Counter = binary.LittleEndian.Uint16(data[16:18])
	h.Flags = data[18]
	h.Checksum = data[19]

	if h.Length < HeaderSize {
		return h, fmt.Errorf("%w: declared %d bytes, header alone is %d", ErrImplausibleLength, h.Length, HeaderSize)
	}

	if len(data) < int(h.Length) {
		return h, fmt.Errorf("%w: declared %d bytes, received %d", ErrTruncatedPacket, h.Length, len(data))
	}

	return h, nil
}

// IdentityOK reports whether the identity marker matches the expected
// tag. A mismatch does not stop processing; the dispatch path logs it.
func (h Header) IdentityOK() bool {
	return h.Identity == identityTag
}

// WantsChecksum reports whether the sender requested checksum
// verification for this datagram.
func (h Header) WantsChecksum() bool {
	return h.Flags&FlagChecksum != 0
}

// String returns a compact representation for log output.
func (h Header) String() string {
	return fmt.Sprintf("Header{COB:%d, Sub:%d, Items:%d, Len:%d, Ctr:%d, Flags:0x%02X}",
		h.COBID, h.SubIndex, h.Items, h.Length, h.Counter, h.Flags)
}
