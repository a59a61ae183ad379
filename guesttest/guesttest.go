// Package guesttest provides an in-memory guest implementation of
// wvm.GuestModule for package tests: a flat linear memory, a bump
// allocator, a manifest, and methods written as Go closures.  It also ships
// reference guests (an Upper scalar UDF and a Sum aggregate with window
// retraction) exercised throughout the bridge's tests.
package guesttest

import (
	"context"
	"fmt"

	"github.com/colbridge/wudf/wvm"
)

const memSize = 1 << 20

// FnFunc adapts a Go closure to wvm.Fn.
type FnFunc func(ctx context.Context, params ...uint64) ([]uint64, error)

func (f FnFunc) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	return f(ctx, params...)
}

// Memory is a flat guest memory whose Read aliases the backing array, like
// real linear memory.
type Memory struct {
	data []byte
}

func (m *Memory) Read(offset, byteCount uint32) ([]byte, bool) {
	if uint64(offset)+uint64(byteCount) > uint64(len(m.data)) {
		return nil, false
	}
	return m.data[offset : offset+byteCount : offset+byteCount], true
}

func (m *Memory) Write(offset uint32, v []byte) bool {
	if uint64(offset)+uint64(len(v)) > uint64(len(m.data)) {
		return false
	}
	copy(m.data[offset:], v)
	return true
}

func (m *Memory) Size() uint32 { return uint32(len(m.data)) }

// Module is a fake instantiated guest.
type Module struct {
	name    string
	mem     *Memory
	fns     map[string]FnFunc
	lookups map[string]int
	next    uint32
	closed  bool
}

var _ wvm.GuestModule = (*Module)(nil)

// NewModule creates a guest exporting the allocator pair and a describe
// function returning the given manifest.
func NewModule(name, manifest string) *Module {
	m := &Module{
		name:    name,
		mem:     &Memory{data: make([]byte, memSize)},
		fns:     make(map[string]FnFunc),
		lookups: make(map[string]int),
		next:    8, // keep 0 distinct as the null reference
	}
	m.fns[wvm.MallocExport] = func(_ context.Context, params ...uint64) ([]uint64, error) {
		return []uint64{uint64(m.Alloc(int(uint32(params[0]))))}, nil
	}
	m.fns[wvm.FreeExport] = func(context.Context, ...uint64) ([]uint64, error) {
		return nil, nil
	}
	ptr := m.Alloc(len(manifest))
	copy(m.mem.data[ptr:], manifest)
	packed := uint64(ptr)<<32 | uint64(uint32(len(manifest)))
	m.fns["describe"] = func(context.Context, ...uint64) ([]uint64, error) {
		return []uint64{packed}, nil
	}
	return m
}

// Alloc bump-allocates n bytes of guest memory.
func (m *Module) Alloc(n int) uint32 {
	ptr := m.next
	m.next += uint32(n+7) &^ 7
	if m.next > uint32(len(m.mem.data)) {
		panic(fmt.Sprintf("guesttest: out of memory allocating %d bytes", n))
	}
	return ptr
}

// Register installs an exported function.
func (m *Module) Register(name string, fn FnFunc) { m.fns[name] = fn }

func (m *Module) Name() string { return m.name }

func (m *Module) Fn(name string) wvm.Fn {
	m.lookups[name]++
	if fn, ok := m.fns[name]; ok {
		return fn
	}
	return nil
}

// Lookups reports how many times Fn was asked for name, so tests can assert
// exports are resolved once rather than per call.
func (m *Module) Lookups(name string) int { return m.lookups[name] }

func (m *Module) Memory() wvm.Memory { return m.mem }

func (m *Module) Close(context.Context) error {
	m.closed = true
	return nil
}

// Closed reports whether Close ran, for leak assertions on construction
// failure paths.
func (m *Module) Closed() bool { return m.closed }
