// Package wudf provides the core types shared by the UDF/UDAF bridge: the
// primitive kind lattice used by method descriptors, guest object references,
// and the tagged value union passed across the host/guest boundary.
package wudf

import (
	"fmt"
	"math"
)

// Kind classifies a value crossing the bridge.  The bridge understands the
// seven primitive kinds plus strings and opaque object references; anything
// else a guest method declares is treated as KindObject and handled as a Ref.
type Kind int

const (
	KindInvalid Kind = iota
	KindVoid
	KindBoolean
	KindByte
	KindShort
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindString
	KindObject
)

var kindNames = []string{
	KindInvalid: "invalid",
	KindVoid:    "void",
	KindBoolean: "boolean",
	KindByte:    "byte",
	KindShort:   "short",
	KindInt:     "int",
	KindLong:    "long",
	KindFloat:   "float",
	KindDouble:  "double",
	KindString:  "string",
	KindObject:  "object",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Code returns the descriptor letter for a primitive kind and 0 for
// reference kinds, which are spelled L<name>; in descriptor text.
func (k Kind) Code() byte {
	switch k {
	case KindVoid:
		return 'V'
	case KindBoolean:
		return 'Z'
	case KindByte:
		return 'B'
	case KindShort:
		return 'S'
	case KindInt:
		return 'I'
	case KindLong:
		return 'J'
	case KindFloat:
		return 'F'
	case KindDouble:
		return 'D'
	}
	return 0
}

// Primitive reports whether k is one of the seven primitive kinds.
func (k Kind) Primitive() bool {
	return k >= KindBoolean && k <= KindDouble
}

// Ref is a handle to an object in guest memory.  Zero is the null reference.
type Ref uint32

// Null is the null object reference.
const Null Ref = 0

func (r Ref) IsNull() bool { return r == Null }

// Value is the union type carried in argument vectors and returned by
// evaluate/finalize.  Bits holds the raw 64-bit representation appropriate
// for Kind: sign-extended integers, IEEE 754 bits for floats, and a Ref for
// string and object kinds.
type Value struct {
	Kind Kind
	Bits uint64
}

func BoolValue(b bool) Value {
	var bits uint64
	if b {
		bits = 1
	}
	return Value{KindBoolean, bits}
}

func ByteValue(v int8) Value { return Value{KindByte, uint64(int64(v))} }
func ShortValue(v int16) Value { return Value{KindShort, uint64(int64(v))} }
func IntValue(v int32) Value { return Value{KindInt, uint64(int64(v))} }
func LongValue(v int64) Value { return Value{KindLong, uint64(v)} }

func FloatValue(v float32) Value {
	return Value{KindFloat, uint64(math.Float32bits(v))}
}

func DoubleValue(v float64) Value {
	return Value{KindDouble, math.Float64bits(v)}
}

func RefValue(k Kind, r Ref) Value { return Value{k, uint64(r)} }

// VoidValue is returned by methods declared to return V.
var VoidValue = Value{Kind: KindVoid}

func (v Value) Bool() bool { return v.Bits != 0 }
func (v Value) Byte() int8 { return int8(v.Bits) }
func (v Value) Short() int16 { return int16(v.Bits) }
func (v Value) Int() int32 { return int32(v.Bits) }
func (v Value) Long() int64 { return int64(v.Bits) }
func (v Value) Float() float32 { return math.Float32frombits(uint32(v.Bits)) }
func (v Value) Double() float64 { return math.Float64frombits(v.Bits) }
func (v Value) Ref() Ref { return Ref(v.Bits) }

func (v Value) String() string {
	switch v.Kind {
	case KindVoid:
		return "void"
	case KindBoolean:
		return fmt.Sprintf("boolean(%t)", v.Bool())
	case KindByte:
		return fmt.Sprintf("byte(%d)", v.Byte())
	case KindShort:
		return fmt.Sprintf("short(%d)", v.Short())
	case KindInt:
		return fmt.Sprintf("int(%d)", v.Int())
	case KindLong:
		return fmt.Sprintf("long(%d)", v.Long())
	case KindFloat:
		return fmt.Sprintf("float(%g)", v.Float())
	case KindDouble:
		return fmt.Sprintf("double(%g)", v.Double())
	case KindString, KindObject:
		return fmt.Sprintf("%s(ref=%d)", v.Kind, v.Ref())
	}
	return "invalid"
}
