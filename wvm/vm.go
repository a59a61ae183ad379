package wvm

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Fn is one callable guest function.  Calls are synchronous; a non-nil error
// means the guest raised (trapped or exited) and the call's effects must be
// considered undefined.
type Fn interface {
	Call(ctx context.Context, params ...uint64) ([]uint64, error)
}

// Memory is the guest's linear memory.  Read returns a view that aliases the
// underlying memory, so reads are zero-copy and writes through the returned
// slice are visible to the guest.
type Memory interface {
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
	Size() uint32
}

// GuestModule is one instantiated guest artifact.  Instances are not safe
// for concurrent use; each registration owns its own.
type GuestModule interface {
	Name() string
	// Fn resolves an exported function, returning nil if the guest does
	// not export it.  Resolution results are cached per instance.
	Fn(name string) Fn
	Memory() Memory
	Close(ctx context.Context) error
}

type wazModule struct {
	name     string
	instance api.Module
	compiled wazero.CompiledModule

	mu      sync.RWMutex
	fnCache map[string]api.Function
}

var _ GuestModule = (*wazModule)(nil)

func (m *wazModule) Name() string { return m.name }

func (m *wazModule) Fn(name string) Fn {
	m.mu.RLock()
	fn, ok := m.fnCache[name]
	m.mu.RUnlock()
	if ok {
		if fn == nil {
			return nil
		}
		return fn
	}
	fn = m.instance.ExportedFunction(name)
	m.mu.Lock()
	if m.fnCache == nil {
		m.fnCache = make(map[string]api.Function)
	}
	m.fnCache[name] = fn
	m.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn
}

func (m *wazModule) Memory() Memory {
	if mem := m.instance.Memory(); mem != nil {
		return mem
	}
	return nil
}

func (m *wazModule) Close(ctx context.Context) error {
	var firstErr error
	if m.instance != nil {
		firstErr = m.instance.Close(ctx)
		m.instance = nil
	}
	if m.compiled != nil {
		if err := m.compiled.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		m.compiled = nil
	}
	m.mu.Lock()
	m.fnCache = nil
	m.mu.Unlock()
	return firstErr
}
