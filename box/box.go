// Package box converts between host values and the tagged boxes the bridge
// places in guest memory.  A box is a small guest allocation holding a one
// byte kind tag followed by a little-endian payload; guest methods that take
// or return reference types see boxes as wudf.Ref handles.
//
// The facility resolves the guest allocator once at construction and the
// process-wide kind metadata is initialized exactly once before first use,
// so the per-value hot path performs no lookups.
package box

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/colbridge/wudf"
	"github.com/colbridge/wudf/wvm"
)

// Box tags.  Primitive tags line up with wudf.Kind so tag<->kind mapping is
// arithmetic, not a table walk; composite boxes use tags outside the kind
// range.
const (
	tagString = byte(wudf.KindString)
	tagArray  = 0x20
	tagBuffer = 0x21
)

// Process-wide box metadata, initialized once before any facility marshals a
// value and read without locks thereafter.
var (
	boxMetaOnce sync.Once
	payloadSize [16]int
)

func initBoxMeta() {
	boxMetaOnce.Do(func() {
		payloadSize[wudf.KindBoolean] = 1
		payloadSize[wudf.KindByte] = 1
		payloadSize[wudf.KindShort] = 2
		payloadSize[wudf.KindInt] = 4
		payloadSize[wudf.KindLong] = 8
		payloadSize[wudf.KindFloat] = 4
		payloadSize[wudf.KindDouble] = 8
		payloadSize[wudf.KindObject] = 4
	})
}

// Facility marshals values into and out of one guest instance.  A facility
// may be read from multiple goroutines once constructed, subject to the
// guest instance's own single-caller restriction.
type Facility struct {
	mem     wvm.Memory
	allocFn wvm.Fn
	freeFn  wvm.Fn
}

// NewFacility resolves and caches the guest allocator exports.
func NewFacility(mod wvm.GuestModule) (*Facility, error) {
	initBoxMeta()
	mem := mod.Memory()
	if mem == nil {
		return nil, fmt.Errorf("guest %q has no memory", mod.Name())
	}
	allocFn := mod.Fn(wvm.MallocExport)
	freeFn := mod.Fn(wvm.FreeExport)
	if allocFn == nil || freeFn == nil {
		return nil, fmt.Errorf("guest %q does not export %s/%s", mod.Name(), wvm.MallocExport, wvm.FreeExport)
	}
	return &Facility{mem: mem, allocFn: allocFn, freeFn: freeFn}, nil
}

func (f *Facility) allocBox(ctx context.Context, n int) (uint32, error) {
	out, err := f.allocFn.Call(ctx, uint64(uint32(n)))
	if err != nil {
		return 0, fmt.Errorf("box alloc of %d bytes: %w", n, err)
	}
	if len(out) != 1 || uint32(out[0]) == 0 {
		return 0, fmt.Errorf("box alloc of %d bytes returned null", n)
	}
	return uint32(out[0]), nil
}

// Free returns a box to the guest allocator.  Boxes are guest allocations;
// callers that churn through many of them per batch free them explicitly.
func (f *Facility) Free(ctx context.Context, ref wudf.Ref) error {
	if ref.IsNull() {
		return nil
	}
	_, err := f.freeFn.Call(ctx, uint64(ref))
	return err
}

func (f *Facility) newBox(ctx context.Context, kind wudf.Kind, bits uint64) (wudf.Ref, error) {
	size := payloadSize[kind]
	var buf [9]byte
	buf[0] = byte(kind)
	binary.LittleEndian.PutUint64(buf[1:], bits)
	ptr, err := f.allocBox(ctx, 1+size)
	if err != nil {
		return wudf.Null, err
	}
	if !f.mem.Write(ptr, buf[:1+size]) {
		return wudf.Null, fmt.Errorf("box write at %d out of bounds", ptr)
	}
	return wudf.Ref(ptr), nil
}

func (f *Facility) NewBoxedBool(ctx context.Context, v bool) (wudf.Ref, error) {
	return f.newBox(ctx, wudf.KindBoolean, wudf.BoolValue(v).Bits)
}

func (f *Facility) NewBoxedByte(ctx context.Context, v int8) (wudf.Ref, error) {
	return f.newBox(ctx, wudf.KindByte, uint64(uint8(v)))
}

func (f *Facility) NewBoxedShort(ctx context.Context, v int16) (wudf.Ref, error) {
	return f.newBox(ctx, wudf.KindShort, uint64(uint16(v)))
}

func (f *Facility) NewBoxedInt(ctx context.Context, v int32) (wudf.Ref, error) {
	return f.newBox(ctx, wudf.KindInt, uint64(uint32(v)))
}

func (f *Facility) NewBoxedLong(ctx context.Context, v int64) (wudf.Ref, error) {
	return f.newBox(ctx, wudf.KindLong, uint64(v))
}

func (f *Facility) NewBoxedFloat(ctx context.Context, v float32) (wudf.Ref, error) {
	return f.newBox(ctx, wudf.KindFloat, wudf.FloatValue(v).Bits)
}

func (f *Facility) NewBoxedDouble(ctx context.Context, v float64) (wudf.Ref, error) {
	return f.newBox(ctx, wudf.KindDouble, wudf.DoubleValue(v).Bits)
}

// Box marshals any primitive value.
func (f *Facility) Box(ctx context.Context, v wudf.Value) (wudf.Ref, error) {
	if !v.Kind.Primitive() {
		return wudf.Null, fmt.Errorf("box: %s is not a primitive kind", v.Kind)
	}
	return f.newBox(ctx, v.Kind, v.Bits)
}

func (f *Facility) readBox(ref wudf.Ref, want wudf.Kind) (uint64, error) {
	if ref.IsNull() {
		return 0, fmt.Errorf("unbox %s: null reference", want)
	}
	header, ok := f.mem.Read(uint32(ref), 1)
	if !ok {
		return 0, fmt.Errorf("unbox %s: ref %d out of bounds", want, ref)
	}
	kind := wudf.Kind(header[0])
	if kind != want {
		return 0, fmt.Errorf("unbox %s: box holds %s", want, boxKindName(header[0]))
	}
	size := payloadSize[kind]
	payload, ok := f.mem.Read(uint32(ref)+1, uint32(size))
	if !ok {
		return 0, fmt.Errorf("unbox %s: payload of ref %d out of bounds", want, ref)
	}
	var buf [8]byte
	copy(buf[:], payload)
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (f *Facility) UnboxBool(ref wudf.Ref) (bool, error) {
	bits, err := f.readBox(ref, wudf.KindBoolean)
	return bits != 0, err
}

func (f *Facility) UnboxByte(ref wudf.Ref) (int8, error) {
	bits, err := f.readBox(ref, wudf.KindByte)
	return int8(bits), err
}

func (f *Facility) UnboxShort(ref wudf.Ref) (int16, error) {
	bits, err := f.readBox(ref, wudf.KindShort)
	return int16(bits), err
}

func (f *Facility) UnboxInt(ref wudf.Ref) (int32, error) {
	bits, err := f.readBox(ref, wudf.KindInt)
	return int32(bits), err
}

func (f *Facility) UnboxLong(ref wudf.Ref) (int64, error) {
	bits, err := f.readBox(ref, wudf.KindLong)
	return int64(bits), err
}

func (f *Facility) UnboxFloat(ref wudf.Ref) (float32, error) {
	bits, err := f.readBox(ref, wudf.KindFloat)
	return wudf.Value{Kind: wudf.KindFloat, Bits: bits}.Float(), err
}

func (f *Facility) UnboxDouble(ref wudf.Ref) (float64, error) {
	bits, err := f.readBox(ref, wudf.KindDouble)
	return wudf.Value{Kind: wudf.KindDouble, Bits: bits}.Double(), err
}

// Unbox reads back any primitive box.
func (f *Facility) Unbox(ref wudf.Ref) (wudf.Value, error) {
	if ref.IsNull() {
		return wudf.Value{}, fmt.Errorf("unbox: null reference")
	}
	header, ok := f.mem.Read(uint32(ref), 1)
	if !ok {
		return wudf.Value{}, fmt.Errorf("unbox: ref %d out of bounds", ref)
	}
	kind := wudf.Kind(header[0])
	if !kind.Primitive() {
		return wudf.Value{}, fmt.Errorf("unbox: box holds %s, not a primitive", boxKindName(header[0]))
	}
	bits, err := f.readBox(ref, kind)
	if err != nil {
		return wudf.Value{}, err
	}
	// Sign-extend the sub-64-bit integer kinds.
	switch kind {
	case wudf.KindByte:
		bits = uint64(int64(int8(bits)))
	case wudf.KindShort:
		bits = uint64(int64(int16(bits)))
	case wudf.KindInt:
		bits = uint64(int64(int32(bits)))
	}
	return wudf.Value{Kind: kind, Bits: bits}, nil
}

func boxKindName(tag byte) string {
	switch tag {
	case tagArray:
		return "array"
	case tagBuffer:
		return "buffer"
	case tagString:
		return "string"
	}
	k := wudf.Kind(tag)
	if k.Primitive() {
		return k.String()
	}
	return fmt.Sprintf("tag %d", tag)
}
