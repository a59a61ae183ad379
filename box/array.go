package box

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/colbridge/wudf"
	"github.com/colbridge/wudf/wvm"
)

// Array box layout:
//
//	[tag][elem kind][nullable][u32 n][null bitmap if nullable][packed values]
//
// The bitmap holds one bit per element, LSB first, set for null.  Values are
// little-endian at the element kind's payload width.  This matches the
// packing NewArray expects to find staged in its DirectBuffer, so building a
// boxed column from engine data is one allocation and one copy.

// NewArray builds a boxed array of n elements of the given primitive kind
// from sz staged bytes in buf.
func (f *Facility) NewArray(ctx context.Context, kind wudf.Kind, n int, nullable bool, buf *wvm.DirectBuffer, sz int) (wudf.Ref, error) {
	if !kind.Primitive() {
		return wudf.Null, fmt.Errorf("array of %s not supported", kind)
	}
	want := n * payloadSize[kind]
	if nullable {
		want += (n + 7) / 8
	}
	if sz != want {
		return wudf.Null, fmt.Errorf("array of %d %s elements needs %d staged bytes, have %d", n, kind, want, sz)
	}
	if sz > buf.Capacity() {
		return wudf.Null, fmt.Errorf("array staging of %d bytes exceeds buffer capacity %d", sz, buf.Capacity())
	}
	header := make([]byte, 7)
	header[0] = tagArray
	header[1] = byte(kind)
	if nullable {
		header[2] = 1
	}
	binary.LittleEndian.PutUint32(header[3:], uint32(n))
	ptr, err := f.allocBox(ctx, len(header)+sz)
	if err != nil {
		return wudf.Null, err
	}
	if !f.mem.Write(ptr, header) || !f.mem.Write(ptr+7, buf.Bytes()[:sz]) {
		return wudf.Null, fmt.Errorf("array write at %d out of bounds", ptr)
	}
	return wudf.Ref(ptr), nil
}

type arrayInfo struct {
	kind     wudf.Kind
	nullable bool
	n        int
	bitmap   []byte
	values   []byte
}

func (f *Facility) arrayInfo(ref wudf.Ref) (arrayInfo, error) {
	var info arrayInfo
	if ref.IsNull() {
		return info, fmt.Errorf("array: null reference")
	}
	header, ok := f.mem.Read(uint32(ref), 7)
	if !ok {
		return info, fmt.Errorf("array: ref %d out of bounds", ref)
	}
	if header[0] != tagArray {
		return info, fmt.Errorf("array: box holds %s", boxKindName(header[0]))
	}
	info.kind = wudf.Kind(header[1])
	info.nullable = header[2] != 0
	info.n = int(binary.LittleEndian.Uint32(header[3:]))
	if !info.kind.Primitive() && info.kind != wudf.KindObject {
		return info, fmt.Errorf("array: bad element kind tag %d", header[1])
	}
	bitmapLen := 0
	if info.nullable {
		bitmapLen = (info.n + 7) / 8
	}
	payload, ok := f.mem.Read(uint32(ref)+7, uint32(bitmapLen+info.n*payloadSize[info.kind]))
	if !ok {
		return info, fmt.Errorf("array: payload of ref %d out of bounds", ref)
	}
	info.bitmap = payload[:bitmapLen]
	info.values = payload[bitmapLen:]
	return info, nil
}

// ArrayLen returns the element count of a boxed array.
func (f *Facility) ArrayLen(ref wudf.Ref) (int, error) {
	info, err := f.arrayInfo(ref)
	return info.n, err
}

// ArrayGet returns element i and whether it is null.
func (f *Facility) ArrayGet(ref wudf.Ref, i int) (wudf.Value, bool, error) {
	info, err := f.arrayInfo(ref)
	if err != nil {
		return wudf.Value{}, false, err
	}
	if i < 0 || i >= info.n {
		return wudf.Value{}, false, fmt.Errorf("array: index %d out of range [0,%d)", i, info.n)
	}
	if info.nullable && info.bitmap[i/8]&(1<<(i%8)) != 0 {
		return wudf.Value{Kind: info.kind}, true, nil
	}
	size := payloadSize[info.kind]
	var raw [8]byte
	copy(raw[:], info.values[i*size:(i+1)*size])
	bits := binary.LittleEndian.Uint64(raw[:])
	switch info.kind {
	case wudf.KindByte:
		bits = uint64(int64(int8(bits)))
	case wudf.KindShort:
		bits = uint64(int64(int16(bits)))
	case wudf.KindInt:
		bits = uint64(int64(int32(bits)))
	}
	return wudf.Value{Kind: info.kind, Bits: bits}, false, nil
}

// NewRefArray builds a boxed array of object references, used to pass a
// variable number of column handles in one argument slot.
func (f *Facility) NewRefArray(ctx context.Context, refs []wudf.Ref) (wudf.Ref, error) {
	buf := make([]byte, 7+4*len(refs))
	buf[0] = tagArray
	buf[1] = byte(wudf.KindObject)
	binary.LittleEndian.PutUint32(buf[3:], uint32(len(refs)))
	for i, r := range refs {
		binary.LittleEndian.PutUint32(buf[7+4*i:], uint32(r))
	}
	ptr, err := f.allocBox(ctx, len(buf))
	if err != nil {
		return wudf.Null, err
	}
	if !f.mem.Write(ptr, buf) {
		return wudf.Null, fmt.Errorf("ref array write at %d out of bounds", ptr)
	}
	return wudf.Ref(ptr), nil
}

// ArrayToString renders a boxed array like Arrays.toString: "[1, 2, 3]".
func (f *Facility) ArrayToString(ref wudf.Ref) string {
	info, err := f.arrayInfo(ref)
	if err != nil {
		return fmt.Sprintf("<bad array ref %d>", ref)
	}
	var b strings.Builder
	b.WriteByte('[')
	for i := 0; i < info.n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		v, null, err := f.ArrayGet(ref, i)
		switch {
		case err != nil:
			b.WriteString("?")
		case null:
			b.WriteString("null")
		case v.Kind == wudf.KindObject:
			fmt.Fprintf(&b, "ref %d", v.Ref())
		default:
			b.WriteString(formatPrimitive(v))
		}
	}
	b.WriteByte(']')
	return b.String()
}

// Buffer box layout: [tag][u32 ptr][u32 cap][u32 len].  A buffer box is a
// by-reference view of a DirectBuffer's region; the guest reads and writes
// the region directly.

// NewBufferRef creates a buffer box describing b's region with its current
// staged length.
func (f *Facility) NewBufferRef(ctx context.Context, b *wvm.DirectBuffer) (wudf.Ref, error) {
	var buf [13]byte
	buf[0] = tagBuffer
	binary.LittleEndian.PutUint32(buf[1:], b.Ptr())
	binary.LittleEndian.PutUint32(buf[5:], uint32(b.Capacity()))
	binary.LittleEndian.PutUint32(buf[9:], uint32(b.Len()))
	ptr, err := f.allocBox(ctx, len(buf))
	if err != nil {
		return wudf.Null, err
	}
	if !f.mem.Write(ptr, buf[:]) {
		return wudf.Null, fmt.Errorf("buffer box write at %d out of bounds", ptr)
	}
	return wudf.Ref(ptr), nil
}

func (f *Facility) bufferInfo(ref wudf.Ref) (ptr, capacity, length uint32, err error) {
	view, ok := f.mem.Read(uint32(ref), 13)
	if !ok {
		return 0, 0, 0, fmt.Errorf("buffer: ref %d out of bounds", ref)
	}
	if view[0] != tagBuffer {
		return 0, 0, 0, fmt.Errorf("buffer: box holds %s", boxKindName(view[0]))
	}
	return binary.LittleEndian.Uint32(view[1:]),
		binary.LittleEndian.Uint32(view[5:]),
		binary.LittleEndian.Uint32(view[9:]), nil
}
