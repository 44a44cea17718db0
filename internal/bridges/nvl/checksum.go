package nvl

import "fmt"

// AdditiveChecksum computes the one-byte additive checksum used by NVL
// senders: the sum of all bytes modulo 256. Senders compute it over the
// data region only, never the header.
func AdditiveChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// VerifyChecksum conditionally verifies a datagram's checksum byte.
//
// Verification is requested via FlagChecksum in the flags byte; without
// it the checksum byte is unspecified and this trivially succeeds. When
// requested, the additive checksum over [HeaderSize, length) must match.
//
// The caller must have validated the header first: length is the
// header's declared total length, already checked to be >= HeaderSize
// and <= len(buf).
//
// Parameters:
//   - buf: The full datagram buffer
//   - length: Declared total length from the header
//   - flags: Flags byte from the header
//   - checksum: Checksum byte from the header
//
// Returns:
//   - error: ErrChecksumMismatch on failure, nil otherwise
func VerifyChecksum(buf []byte, length int, flags byte, checksum byte) error {
	if flags&FlagChecksum == 0 {
		return nil
	}

	computed := AdditiveChecksum(buf[HeaderSize:length])
	if computed != checksum {
		return fmt.Errorf("%w: computed 0x%02X, header says 0x%02X", ErrChecksumMismatch, computed, checksum)
	}

	return nil
}
