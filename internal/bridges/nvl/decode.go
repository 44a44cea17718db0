package nvl

import (
	"fmt"
	"math"
)

// DecodeFields decodes a group's variables from a datagram buffer.
//
// Variables are decoded strictly in declared order starting at the
// group's header offset; each consumes exactly its type's wire width.
// Numeric values are scaled and, when the variable sets a precision,
// rounded half away from zero to that many decimal places. BOOL
// variables come out as Go bools.
//
// The caller bounds data to the header's declared total length, so a
// variable list longer than the payload fails here rather than reading
// trailing garbage. Any overrun aborts the whole group; no partial
// value list is returned.
//
// Parameters:
//   - data: Datagram buffer, already truncated to the declared length
//   - g: The matched message group
//
// Returns:
//   - []any: One decoded value per variable, in declaration order
//   - error: Satisfies both ErrDecode and ErrPacketTooShort on overrun
func DecodeFields(data []byte, g *Group) ([]any, error) {
	values := make([]any, 0, len(g.Fields))
	offset := g.HeaderBytes

	for _, f := range g.Fields {
		width := f.Type.Width()
		if offset+width > len(data) {
			return nil, fmt.Errorf("%w: %w: variable %q (%s) needs %d bytes at offset %d, %d available",
				ErrDecode, ErrPacketTooShort, f.Name, f.Type, width, offset, len(data))
		}

		raw := f.Type.decode(data[offset:], g.Order)
		offset += width

		v, ok := raw.(float64)
		if !ok {
			// BOOL: passes through unscaled (scale != 1 is rejected at
			// schema validation).
			values = append(values, raw)
			continue
		}

		v *= f.Scale
		if f.Precision >= 0 {
			v = roundTo(v, f.Precision)
		}

		values = append(values, v)
	}

	return values, nil
}

// roundTo rounds v half away from zero to the given number of decimal
// places.
func roundTo(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
