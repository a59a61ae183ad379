// Package wvm manages the process-wide embedded wasm runtime and the
// per-registration guest instances the rest of the bridge calls into.
//
// Restrictions on use: every call into a guest is synchronous and may block
// on the guest's own execution for as long as user code runs.  Bridge calls
// belong on worker goroutines that are allowed to block; do not issue them
// from latency-sensitive event loops.  A stuck guest call cannot be cancelled
// from this layer.
package wvm

import (
	"context"
	"fmt"
	"sync"

	"github.com/colbridge/wudf"
	"github.com/tetratelabs/wazero"
)

// Env is a handle to the embedded runtime.  There is exactly one runtime per
// process; attachment is idempotent and every call to GetEnv returns the same
// handle.  The runtime is torn down at process exit, not by this package.
type Env struct {
	runtime wazero.Runtime
}

var envOnce = sync.OnceValues(func() (*Env, error) {
	rt := wazero.NewRuntime(context.Background())
	if rt == nil {
		return nil, fmt.Errorf("create wasm runtime: %w", wudf.ErrAttachment)
	}
	return &Env{runtime: rt}, nil
})

// GetEnv attaches the caller to the embedded runtime, creating it on first
// use.  Safe to call repeatedly from any worker.
func GetEnv() (*Env, error) {
	return envOnce()
}

// MustEnv is GetEnv for callers that treat attachment failure as the fatal
// misconfiguration it is.
func MustEnv() *Env {
	env, err := GetEnv()
	if err != nil {
		panic(err)
	}
	return env
}

// Instantiate compiles wasm and instantiates it under the given instance
// name.  Each registration instantiates under its own unique name so that
// independently loaded artifacts never share a namespace.
func (e *Env) Instantiate(ctx context.Context, wasm []byte, name string) (GuestModule, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("compile artifact: %w", err)
	}
	mod, err := e.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		compiled.Close(ctx)
		return nil, fmt.Errorf("instantiate artifact %q: %w", name, err)
	}
	return &wazModule{name: name, instance: mod, compiled: compiled}, nil
}
