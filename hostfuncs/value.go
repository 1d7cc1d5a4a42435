package hostfuncs

import (
	"fmt"
	"math"
)

// ValueType is a wire value type understood by the guest VM boundary.
type ValueType byte

// Wire value types. Only I32, I64, F32 and F64 are produced by signature
// inference; the remaining types exist in the VM type system and may only be
// used through an explicit wire signature.
const (
	ValueTypeI32 ValueType = iota
	ValueTypeI64
	ValueTypeF32
	ValueTypeF64
	ValueTypeV128
	ValueTypeFuncRef
	ValueTypeExternRef
)

func (t ValueType) String() string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeV128:
		return "v128"
	case ValueTypeFuncRef:
		return "funcref"
	case ValueTypeExternRef:
		return "externref"
	default:
		return fmt.Sprintf("ValueType(%d)", byte(t))
	}
}

// Numeric reports whether t is one of the four primitive register types.
func (t ValueType) Numeric() bool {
	return t <= ValueTypeF64
}

// Value is a single wire value: a type tag plus its raw 64-bit encoding.
// The encoding matches the VM stack: i32 is zero-extended, floats are stored
// as their IEEE-754 bits.
type Value struct {
	Type ValueType
	bits uint64
}

// ValueI32 returns an i32 wire value.
func ValueI32(v int32) Value {
	return Value{Type: ValueTypeI32, bits: uint64(uint32(v))}
}

// ValueI64 returns an i64 wire value.
func ValueI64(v int64) Value {
	return Value{Type: ValueTypeI64, bits: uint64(v)}
}

// ValueF32 returns an f32 wire value.
func ValueF32(v float32) Value {
	return Value{Type: ValueTypeF32, bits: uint64(math.Float32bits(v))}
}

// ValueF64 returns an f64 wire value.
func ValueF64(v float64) Value {
	return Value{Type: ValueTypeF64, bits: math.Float64bits(v)}
}

// ValueFromRaw builds a Value of type t from its raw stack encoding.
func ValueFromRaw(t ValueType, raw uint64) Value {
	return Value{Type: t, bits: raw}
}

// Raw returns the raw stack encoding of v.
func (v Value) Raw() uint64 {
	return v.bits
}

func (v Value) I32() int32 {
	return int32(uint32(v.bits))
}

func (v Value) I64() int64 {
	return int64(v.bits)
}

func (v Value) F32() float32 {
	return math.Float32frombits(uint32(v.bits))
}

func (v Value) F64() float64 {
	return math.Float64frombits(v.bits)
}

func (v Value) String() string {
	switch v.Type {
	case ValueTypeI32:
		return fmt.Sprintf("i32(%d)", v.I32())
	case ValueTypeI64:
		return fmt.Sprintf("i64(%d)", v.I64())
	case ValueTypeF32:
		return fmt.Sprintf("f32(%g)", v.F32())
	case ValueTypeF64:
		return fmt.Sprintf("f64(%g)", v.F64())
	default:
		return fmt.Sprintf("%s(%#x)", v.Type, v.bits)
	}
}

// offset interprets an i32 or i64 wire value as a guest memory offset.
func (v Value) offset() (uint64, bool) {
	switch v.Type {
	case ValueTypeI64:
		return v.bits, true
	case ValueTypeI32:
		return uint64(uint32(v.bits)), true
	default:
		return 0, false
	}
}
