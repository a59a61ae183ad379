package box

import (
	"github.com/colbridge/wudf"
	"github.com/colbridge/wudf/sig"
)

// StackWord encodes one value as a wasm stack word.  Sub-64-bit integer
// kinds and references occupy the low 32 bits; long and double use all 64.
func StackWord(v wudf.Value) uint64 {
	switch v.Kind {
	case wudf.KindLong, wudf.KindDouble:
		return v.Bits
	default:
		return uint64(uint32(v.Bits))
	}
}

// StackArgs encodes an argument vector for a guest call.
func StackArgs(args []wudf.Value) []uint64 {
	words := make([]uint64, len(args))
	for i, a := range args {
		words[i] = StackWord(a)
	}
	return words
}

// ValueFromStack decodes a guest return word according to the method's
// declared return descriptor.
func ValueFromStack(d sig.TypeDesc, w uint64) wudf.Value {
	if d.Array || d.Boxed || d.Kind == wudf.KindObject {
		return wudf.RefValue(wudf.KindObject, wudf.Ref(uint32(w)))
	}
	switch d.Kind {
	case wudf.KindVoid:
		return wudf.VoidValue
	case wudf.KindBoolean:
		return wudf.BoolValue(uint32(w) != 0)
	case wudf.KindByte:
		return wudf.ByteValue(int8(w))
	case wudf.KindShort:
		return wudf.ShortValue(int16(w))
	case wudf.KindInt:
		return wudf.IntValue(int32(w))
	case wudf.KindLong:
		return wudf.LongValue(int64(w))
	case wudf.KindFloat:
		return wudf.Value{Kind: wudf.KindFloat, Bits: uint64(uint32(w))}
	case wudf.KindDouble:
		return wudf.Value{Kind: wudf.KindDouble, Bits: w}
	case wudf.KindString:
		return wudf.RefValue(wudf.KindString, wudf.Ref(uint32(w)))
	}
	return wudf.Value{}
}
