package nvl

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ScalarType identifies an IEC 61131-3 scalar variable type as carried in
// a network variable list. The set is fixed at compile time; schema
// validation rejects anything else, so decode paths can switch
// exhaustively without a default error case for unknown tags.
type ScalarType uint8

// Scalar types supported in NVL payloads.
const (
	// TypeBOOL is a single byte, zero = false, anything else = true.
	TypeBOOL ScalarType = iota

	// TypeSINT is a signed 8-bit integer.
	TypeSINT

	// TypeUSINT is an unsigned 8-bit integer.
	TypeUSINT

	// TypeBYTE is an unsigned 8-bit bit string, decoded as its numeric value.
	TypeBYTE

	// TypeINT is a signed 16-bit integer.
	TypeINT

	// TypeUINT is an unsigned 16-bit integer.
	TypeUINT

	// TypeWORD is an unsigned 16-bit bit string, decoded as its numeric value.
	TypeWORD

	// TypeDINT is a signed 32-bit integer.
	TypeDINT

	// TypeUDINT is an unsigned 32-bit integer.
	TypeUDINT

	// TypeREAL is an IEEE 754 single-precision float.
	TypeREAL

	// TypeLREAL is an IEEE 754 double-precision float.
	TypeLREAL
)

// ParseScalarType maps a schema type tag to its ScalarType.
// Tags are case-insensitive; "int" and "INT" are the same type.
//
// Parameters:
//   - tag: Type name from the schema document (e.g., "REAL", "uint")
//
// Returns:
//   - ScalarType: The matched type
//   - error: ErrSchema if the tag names no known type
func ParseScalarType(tag string) (ScalarType, error) {
	switch strings.ToUpper(strings.TrimSpace(tag)) {
	case "BOOL":
		return TypeBOOL, nil
	case "SINT":
		return TypeSINT, nil
	case "USINT":
		return TypeUSINT, nil
	case "BYTE":
		return TypeBYTE, nil
	case "INT":
		return TypeINT, nil
	case "UINT":
		return TypeUINT, nil
	case "WORD":
		return TypeWORD, nil
	case "DINT":
		return TypeDINT, nil
	case "UDINT":
		return TypeUDINT, nil
	case "REAL":
		return TypeREAL, nil
	case "LREAL":
		return TypeLREAL, nil
	default:
		return 0, fmt.Errorf("%w: unknown scalar type %q", ErrSchema, tag)
	}
}

// String returns the IEC type name.
func (t ScalarType) String() string {
	switch t {
	case TypeBOOL:
		return "BOOL"
	case TypeSINT:
		return "SINT"
	case TypeUSINT:
		return "USINT"
	case TypeBYTE:
		return "BYTE"
	case TypeINT:
		return "INT"
	case TypeUINT:
		return "UINT"
	case TypeWORD:
		return "WORD"
	case TypeDINT:
		return "DINT"
	case TypeUDINT:
		return "UDINT"
	case TypeREAL:
		return "REAL"
	case TypeLREAL:
		return "LREAL"
	default:
		return fmt.Sprintf("ScalarType(%d)", uint8(t))
	}
}

// Width returns the type's fixed wire width in bytes.
func (t ScalarType) Width() int {
	switch t {
	case TypeBOOL, TypeSINT, TypeUSINT, TypeBYTE:
		return 1
	case TypeINT, TypeUINT, TypeWORD:
		return 2
	case TypeDINT, TypeUDINT, TypeREAL:
		return 4
	case TypeLREAL:
		return 8
	default:
		return 0
	}
}

// IsNumeric reports whether scale and precision apply to this type.
// BOOL is the only non-numeric type; combining it with a scale factor
// is rejected at schema validation.
func (t ScalarType) IsNumeric() bool {
	return t != TypeBOOL
}

// decode reads one value of this type from the front of buf using the
// given byte order. The caller guarantees len(buf) >= Width().
//
// Numeric values are widened to float64 so scale and precision can be
// applied uniformly; every representable NVL integer fits a float64
// mantissa exactly (largest is UDINT, 32 bits). BOOL decodes to a Go
// bool, any non-zero byte being true.
func (t ScalarType) decode(buf []byte, order binary.ByteOrder) any {
	switch t {
	case TypeBOOL:
		return buf[0] != 0
	case TypeSINT:
		return float64(int8(buf[0]))
	case TypeUSINT, TypeBYTE:
		return float64(buf[0])
	case TypeINT:
		return float64(int16(order.Uint16(buf))) //nolint:gosec // sign reinterpretation is the decode
	case TypeUINT, TypeWORD:
		return float64(order.Uint16(buf))
	case TypeDINT:
		return float64(int32(order.Uint32(buf))) //nolint:gosec // sign reinterpretation is the decode
	case TypeUDINT:
		return float64(order.Uint32(buf))
	case TypeREAL:
		return float64(math.Float32frombits(order.Uint32(buf)))
	case TypeLREAL:
		return math.Float64frombits(order.Uint64(buf))
	default:
		return nil
	}
}
