package wvm

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Guest allocator exports.  Every loadable artifact provides these two.
const (
	MallocExport = "cabi_malloc"
	FreeExport   = "cabi_free"
)

// AllocBlock allocates size bytes in the guest and returns its address.
// The caller owns the block and frees it with FreeBlock.
func AllocBlock(ctx context.Context, mod GuestModule, size int) (uint32, error) {
	fn := mod.Fn(MallocExport)
	if fn == nil {
		return 0, fmt.Errorf("guest %q does not export %s", mod.Name(), MallocExport)
	}
	out, err := fn.Call(ctx, uint64(uint32(size)))
	if err != nil {
		return 0, fmt.Errorf("guest alloc of %d bytes: %w", size, err)
	}
	if len(out) != 1 || uint32(out[0]) == 0 {
		return 0, fmt.Errorf("guest alloc of %d bytes returned null", size)
	}
	return uint32(out[0]), nil
}

// FreeBlock returns a block obtained from AllocBlock to the guest.
func FreeBlock(ctx context.Context, mod GuestModule, ptr uint32) error {
	fn := mod.Fn(FreeExport)
	if fn == nil {
		return fmt.Errorf("guest %q does not export %s", mod.Name(), FreeExport)
	}
	_, err := fn.Call(ctx, uint64(ptr))
	return err
}

// DirectBuffer exposes one caller-owned region of guest linear memory as a
// shared staging area for bulk transfer.  The buffer never owns the region:
// the caller allocated it, the caller frees it, and releasing the buffer
// must not touch the memory.  The host-side view aliases guest memory, so
// data written by either side is visible to the other without a copy.
type DirectBuffer struct {
	mem      Memory
	ptr      uint32
	capacity int

	mu  sync.Mutex
	pos int
}

// NewDirectBuffer wraps the region [ptr, ptr+capacity) of mod's memory.
func NewDirectBuffer(mod GuestModule, ptr uint32, capacity int) (*DirectBuffer, error) {
	mem := mod.Memory()
	if mem == nil {
		return nil, fmt.Errorf("guest %q has no memory", mod.Name())
	}
	if capacity < 0 || uint64(ptr)+uint64(capacity) > uint64(mem.Size()) {
		return nil, fmt.Errorf("buffer region [%d,%d) exceeds guest memory of %d bytes",
			ptr, uint64(ptr)+uint64(capacity), mem.Size())
	}
	return &DirectBuffer{mem: mem, ptr: ptr, capacity: capacity}, nil
}

// Ptr returns the guest address of the region.
func (b *DirectBuffer) Ptr() uint32 { return b.ptr }

// Capacity returns the fixed size of the region.
func (b *DirectBuffer) Capacity() int { return b.capacity }

// Bytes returns the zero-copy host view of the whole region.  Calling it
// after Release is a caller defect and panics.
func (b *DirectBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.view()
}

// view returns the host view of the region.  Callers hold b.mu.
func (b *DirectBuffer) view() []byte {
	if b.mem == nil {
		panic(fmt.Sprintf("buffer region [%d,%d) used after release", b.ptr, int(b.ptr)+b.capacity))
	}
	view, ok := b.mem.Read(b.ptr, uint32(b.capacity))
	if !ok {
		panic(fmt.Sprintf("buffer region [%d,%d) no longer addressable", b.ptr, int(b.ptr)+b.capacity))
	}
	return view
}

// Len returns the number of bytes staged since the last Clear.
func (b *DirectBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pos
}

// Write stages p at the current position, implementing io.Writer for
// host-side packing.  It returns io.ErrShortWrite when p exceeds the
// remaining capacity.
func (b *DirectBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := copy(b.view()[b.pos:], p)
	b.pos += n
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Clear resets the staging position.  It is safe to call from any goroutine
// and is the documented way to reuse one buffer across sequential aggregate
// states; it never clears the underlying memory contents.
func (b *DirectBuffer) Clear() {
	b.mu.Lock()
	b.pos = 0
	b.mu.Unlock()
}

// Release detaches the host-side view.  The guest memory region is untouched;
// freeing it remains the owner's job.  Release is idempotent; any Bytes or
// Write after it is a caller defect and panics.
func (b *DirectBuffer) Release() {
	b.mu.Lock()
	b.mem = nil
	b.mu.Unlock()
}
