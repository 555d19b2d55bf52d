// Package val implements the tagged numeric/pointer values passed to and
// returned from guest entry points, along with the bounds-checked
// conversions between them and the raw general-purpose/floating-point
// register slots a guest entry point's Go call signature expects.
package val

import (
	"fmt"
	"math"
)

// Type classifies the payload carried by a Value.
type Type byte

const (
	// TypePointer holds a guest-heap-relative address (unsigned, 32-bit
	// range: guest pointers never exceed the heap address space).
	TypePointer Type = iota
	// TypeU8, TypeU16, TypeU32, TypeU64 hold unsigned integers of the
	// indicated declared width, stored widened to 64 bits.
	TypeU8
	TypeU16
	TypeU32
	TypeU64
	// TypeI8, TypeI16, TypeI32, TypeI64 hold signed integers of the
	// indicated declared width, stored sign-extended to 64 bits.
	TypeI8
	TypeI16
	TypeI32
	TypeI64
	// TypeF32 holds a 32-bit float, TypeF64 a 64-bit float.
	TypeF32
	TypeF64
)

// String returns the type name used in diagnostics.
func (t Type) String() string {
	switch t {
	case TypePointer:
		return "ptr"
	case TypeU8:
		return "u8"
	case TypeU16:
		return "u16"
	case TypeU32:
		return "u32"
	case TypeU64:
		return "u64"
	case TypeI8:
		return "i8"
	case TypeI16:
		return "i16"
	case TypeI32:
		return "i32"
	case TypeI64:
		return "i64"
	case TypeF32:
		return "f32"
	case TypeF64:
		return "f64"
	default:
		return fmt.Sprintf("Type(%#x)", byte(t))
	}
}

// Value is a single tagged argument or return value crossing the
// host/guest boundary.
type Value struct {
	typ Type
	// raw holds integer and pointer payloads; f holds float payloads.
	// Keeping the classes separate means ToGPRegister and ToFPRegister
	// never need to reinterpret bits, matching the general-purpose/
	// floating-point register-class split a guest call convention keeps.
	raw uint64
	f   float64
}

// Type returns the declared type of v.
func (v Value) Type() Type { return v.typ }

// U8 constructs an unsigned 8-bit value.
func U8(x uint8) Value { return Value{typ: TypeU8, raw: uint64(x)} }

// U16 constructs an unsigned 16-bit value.
func U16(x uint16) Value { return Value{typ: TypeU16, raw: uint64(x)} }

// U32 constructs an unsigned 32-bit value.
func U32(x uint32) Value { return Value{typ: TypeU32, raw: uint64(x)} }

// U64 constructs an unsigned 64-bit value.
func U64(x uint64) Value { return Value{typ: TypeU64, raw: x} }

// I8 constructs a signed 8-bit value.
func I8(x int8) Value { return Value{typ: TypeI8, raw: uint64(uint8(x))} }

// I16 constructs a signed 16-bit value.
func I16(x int16) Value { return Value{typ: TypeI16, raw: uint64(uint16(x))} }

// I32 constructs a signed 32-bit value.
func I32(x int32) Value { return Value{typ: TypeI32, raw: uint64(uint32(x))} }

// I64 constructs a signed 64-bit value.
func I64(x int64) Value { return Value{typ: TypeI64, raw: uint64(x)} }

// Pointer constructs a guest-heap-relative pointer value. off is the byte
// offset from the heap base; its uint32 type keeps it below 2^32, the cap
// on Reserved heap size.
func Pointer(off uint32) Value { return Value{typ: TypePointer, raw: uint64(off)} }

// F32 constructs a 32-bit float value.
func F32(x float32) Value { return Value{typ: TypeF32, f: float64(x)} }

// F64 constructs a 64-bit float value.
func F64(x float64) Value { return Value{typ: TypeF64, f: x} }

// ToGPRegister converts v to the raw bit pattern that belongs in a
// general-purpose argument/return slot, verifying the value is
// representable in its declared type's range. Float-class values are
// rejected: they belong in ToFPRegister instead.
func (v Value) ToGPRegister() (uint64, error) {
	switch v.typ {
	case TypePointer, TypeU64, TypeI64:
		return v.raw, nil
	case TypeU8:
		if v.raw > math.MaxUint8 {
			return 0, fmt.Errorf("%w: u8 value %d out of range", ErrInvalidArgument, v.raw)
		}
		return v.raw, nil
	case TypeU16:
		if v.raw > math.MaxUint16 {
			return 0, fmt.Errorf("%w: u16 value %d out of range", ErrInvalidArgument, v.raw)
		}
		return v.raw, nil
	case TypeU32:
		if v.raw > math.MaxUint32 {
			return 0, fmt.Errorf("%w: u32 value %d out of range", ErrInvalidArgument, v.raw)
		}
		return v.raw, nil
	case TypeI8:
		x := int64(int8(v.raw))
		if x < math.MinInt8 || x > math.MaxInt8 {
			return 0, fmt.Errorf("%w: i8 value %d out of range", ErrInvalidArgument, x)
		}
		return uint64(x), nil
	case TypeI16:
		x := int64(int16(v.raw))
		if x < math.MinInt16 || x > math.MaxInt16 {
			return 0, fmt.Errorf("%w: i16 value %d out of range", ErrInvalidArgument, x)
		}
		return uint64(x), nil
	case TypeI32:
		x := int64(int32(v.raw))
		if x < math.MinInt32 || x > math.MaxInt32 {
			return 0, fmt.Errorf("%w: i32 value %d out of range", ErrInvalidArgument, x)
		}
		return uint64(x), nil
	default:
		return 0, fmt.Errorf("%w: %s is not a GP-class value", ErrInvalidArgument, v.typ)
	}
}

// ToFPRegister converts v to the bit pattern broadcast into a 128-bit
// xmm-class slot. Only float-class values are accepted.
func (v Value) ToFPRegister() (uint64, error) {
	switch v.typ {
	case TypeF32:
		return uint64(math.Float32bits(float32(v.f))), nil
	case TypeF64:
		return math.Float64bits(v.f), nil
	default:
		return 0, fmt.Errorf("%w: %s is not a FP-class value", ErrInvalidArgument, v.typ)
	}
}

// IsFloat reports whether v belongs in the floating-point register class.
func (v Value) IsFloat() bool { return v.typ == TypeF32 || v.typ == TypeF64 }

// FromGPReturn decodes a GP-class return register into a Value of type t.
func FromGPReturn(t Type, raw uint64) Value {
	switch t {
	case TypeF32, TypeF64:
		return FromFPReturn(t, raw)
	default:
		return Value{typ: t, raw: raw}
	}
}

// FromFPReturn decodes an FP-class return register into a Value of type t.
func FromFPReturn(t Type, raw uint64) Value {
	switch t {
	case TypeF32:
		return Value{typ: t, f: float64(math.Float32frombits(uint32(raw)))}
	case TypeF64:
		return Value{typ: t, f: math.Float64frombits(raw)}
	default:
		return Value{typ: t, raw: raw}
	}
}

// U64 reinterprets an integer-class Value as an unsigned 64-bit number.
func (v Value) U64() uint64 { return v.raw }

// I64 reinterprets an integer-class Value as a signed 64-bit number.
func (v Value) I64() int64 { return int64(v.raw) }

// F32 reads a TypeF32 Value.
func (v Value) F32() float32 { return float32(v.f) }

// F64 reads a TypeF64 Value.
func (v Value) F64() float64 { return v.f }

func (v Value) String() string {
	switch v.typ {
	case TypeF32, TypeF64:
		return fmt.Sprintf("%s(%v)", v.typ, v.f)
	default:
		return fmt.Sprintf("%s(%v)", v.typ, v.raw)
	}
}
