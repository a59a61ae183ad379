package box

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/colbridge/wudf"
)

// String box layout: [tag][u32 length][UTF-8 bytes].

// NewString copies s into a guest string box.
func (f *Facility) NewString(ctx context.Context, s string) (wudf.Ref, error) {
	buf := make([]byte, 5+len(s))
	buf[0] = tagString
	binary.LittleEndian.PutUint32(buf[1:], uint32(len(s)))
	copy(buf[5:], s)
	ptr, err := f.allocBox(ctx, len(buf))
	if err != nil {
		return wudf.Null, err
	}
	if !f.mem.Write(ptr, buf) {
		return wudf.Null, fmt.Errorf("string write at %d out of bounds", ptr)
	}
	return wudf.Ref(ptr), nil
}

func (f *Facility) stringView(ref wudf.Ref) ([]byte, error) {
	if ref.IsNull() {
		return nil, fmt.Errorf("string: null reference")
	}
	header, ok := f.mem.Read(uint32(ref), 5)
	if !ok {
		return nil, fmt.Errorf("string: ref %d out of bounds", ref)
	}
	if header[0] != tagString {
		return nil, fmt.Errorf("string: box holds %s", boxKindName(header[0]))
	}
	n := binary.LittleEndian.Uint32(header[1:])
	view, ok := f.mem.Read(uint32(ref)+5, n)
	if !ok {
		return nil, fmt.Errorf("string: %d-byte payload of ref %d out of bounds", n, ref)
	}
	return view, nil
}

// StringBytes copies a guest string's bytes into buf, reusing its backing
// array, and returns the result.  Pass nil to allocate fresh.
func (f *Facility) StringBytes(ref wudf.Ref, buf []byte) ([]byte, error) {
	view, err := f.stringView(ref)
	if err != nil {
		return nil, err
	}
	return append(buf[:0], view...), nil
}

// GoString converts a guest string box to a native string, replacing any
// invalid UTF-8 sequence so that a guest cannot hand the engine a string the
// rest of the system refuses to print.
func (f *Facility) GoString(ref wudf.Ref) (string, error) {
	view, err := f.stringView(ref)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(view), "�"), nil
}

// ToString renders any box for diagnostics, the generic Object::toString
// analog.  It never fails; undecodable boxes render as an error note.
func (f *Facility) ToString(ref wudf.Ref) string {
	if ref.IsNull() {
		return "null"
	}
	header, ok := f.mem.Read(uint32(ref), 1)
	if !ok {
		return fmt.Sprintf("<bad ref %d>", ref)
	}
	switch {
	case header[0] == tagString:
		s, err := f.GoString(ref)
		if err != nil {
			return fmt.Sprintf("<bad string ref %d>", ref)
		}
		return s
	case header[0] == tagArray:
		return f.ArrayToString(ref)
	case header[0] == tagBuffer:
		ptr, capacity, length, err := f.bufferInfo(ref)
		if err != nil {
			return fmt.Sprintf("<bad buffer ref %d>", ref)
		}
		return fmt.Sprintf("buffer(ptr=%d,cap=%d,len=%d)", ptr, capacity, length)
	case wudf.Kind(header[0]).Primitive():
		v, err := f.Unbox(ref)
		if err != nil {
			return fmt.Sprintf("<bad box ref %d>", ref)
		}
		return formatPrimitive(v)
	}
	return fmt.Sprintf("<object ref %d>", ref)
}

func formatPrimitive(v wudf.Value) string {
	switch v.Kind {
	case wudf.KindBoolean:
		return fmt.Sprintf("%t", v.Bool())
	case wudf.KindFloat:
		return fmt.Sprintf("%g", v.Float())
	case wudf.KindDouble:
		return fmt.Sprintf("%g", v.Double())
	default:
		return fmt.Sprintf("%d", v.Long())
	}
}
