// Package udf binds a loaded scalar UDF class, its instance, and its
// resolved method set into one callable unit.
package udf

import (
	"context"
	"fmt"

	"github.com/colbridge/wudf"
	"github.com/colbridge/wudf/box"
	"github.com/colbridge/wudf/loader"
	"github.com/colbridge/wudf/sig"
	"github.com/colbridge/wudf/telemetry"
	"github.com/colbridge/wudf/wvm"
	"go.uber.org/zap"
)

const (
	prepareMethod  = "prepare"
	evaluateMethod = "evaluate"
	closeMethod    = "close"
)

// Options configures one scalar UDF registration.
type Options struct {
	// Path locates the user artifact on the local filesystem.
	Path string
	// Module, when non-nil, binds an already-instantiated guest instead
	// of loading Path.  The registration takes ownership of it.
	Module wvm.GuestModule
	// ClassName is the UDF class to bind.
	ClassName string
	Logger    *zap.Logger
}

// Context is one registered scalar UDF.  It owns its class loader, its guest
// instance, and its resolved methods; lifecycle is Prepare (optional, once)
// then any number of Evaluate calls then Close (exactly once, but Close is
// idempotent).  A Context serializes guest calls through one registration's
// instance and is not for concurrent use.
type Context struct {
	loader   *loader.ClassLoader
	analyzer sig.Analyzer
	facility *box.Facility
	class    loader.Class
	instance wudf.Ref
	logger   *zap.Logger

	evaluate *sig.MethodDesc
	evalFn   wvm.Fn
	// prepare and close are optional in the UDF contract.
	prepare   *sig.MethodDesc
	prepareFn wvm.Fn
	closefn   wvm.Fn
	closeDesc *sig.MethodDesc

	closed bool
}

// New loads the class, constructs its instance, and resolves the method set.
// Construction is atomic: on any failure every intermediate resource is
// released and only the error is returned.
func New(ctx context.Context, env *wvm.Env, opts Options) (*Context, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ld, err := newLoader(ctx, env, opts, logger)
	if err != nil {
		return nil, fmt.Errorf("register udf %q: %w", opts.ClassName, err)
	}
	c, err := build(ctx, ld, opts)
	if err != nil {
		ld.Close(ctx)
		return nil, fmt.Errorf("register udf %q from %q: %w", opts.ClassName, opts.Path, err)
	}
	c.logger = logger
	logger.Debug("udf registered",
		zap.String("class", opts.ClassName),
		zap.String("id", ld.ID().String()))
	return c, nil
}

func newLoader(ctx context.Context, env *wvm.Env, opts Options, logger *zap.Logger) (*loader.ClassLoader, error) {
	if opts.Module != nil {
		ld, err := loader.NewFromModule(ctx, opts.Module, logger)
		if err != nil {
			opts.Module.Close(ctx)
			return nil, err
		}
		return ld, nil
	}
	ld := loader.New(env, opts.Path, logger)
	if err := ld.Init(ctx); err != nil {
		ld.Close(ctx)
		return nil, err
	}
	return ld, nil
}

func build(ctx context.Context, ld *loader.ClassLoader, opts Options) (*Context, error) {
	class, err := ld.GetClass(opts.ClassName)
	if err != nil {
		return nil, err
	}
	facility, err := box.NewFacility(class.Module())
	if err != nil {
		return nil, err
	}
	instance, err := class.NewInstance(ctx)
	if err != nil {
		return nil, err
	}
	c := &Context{
		loader:   ld,
		facility: facility,
		class:    class,
		instance: instance,
	}
	if c.evaluate, err = c.analyzer.MethodDesc(class, evaluateMethod); err != nil {
		return nil, err
	}
	if c.evalFn, err = c.evaluate.Resolve(class); err != nil {
		return nil, err
	}
	if c.analyzer.HasMethod(class, prepareMethod) {
		if c.prepare, err = c.analyzer.MethodDesc(class, prepareMethod); err != nil {
			return nil, err
		}
		if c.prepareFn, err = c.prepare.Resolve(class); err != nil {
			return nil, err
		}
	}
	if c.analyzer.HasMethod(class, closeMethod) {
		if c.closeDesc, err = c.analyzer.MethodDesc(class, closeMethod); err != nil {
			return nil, err
		}
		if c.closefn, err = c.closeDesc.Resolve(class); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Facility returns the marshaling facility bound to this registration's
// guest instance, for pre-marshaling argument vectors.
func (c *Context) Facility() *box.Facility { return c.facility }

// ArgTypes returns the declared evaluate parameter descriptors.
func (c *Context) ArgTypes() []sig.TypeDesc { return c.evaluate.Args }

// ReturnType returns the declared evaluate return descriptor.
func (c *Context) ReturnType() sig.TypeDesc { return c.evaluate.Ret }

// Prepare runs the optional prepare hook.  Call it once, before the first
// Evaluate.
func (c *Context) Prepare(ctx context.Context) error {
	if c.prepareFn == nil {
		return nil
	}
	telemetry.Invocations.WithLabelValues("udf", prepareMethod).Inc()
	if _, err := c.prepareFn.Call(ctx, uint64(c.instance)); err != nil {
		telemetry.InvocationErrors.WithLabelValues("udf", prepareMethod).Inc()
		return box.InvocationError(c.class.Name()+".prepare", err)
	}
	return nil
}

// Evaluate invokes the UDF on one pre-marshaled argument vector and returns
// its result.
func (c *Context) Evaluate(ctx context.Context, args []wudf.Value) (wudf.Value, error) {
	if c.closed {
		return wudf.Value{}, fmt.Errorf("udf %q: evaluate after close", c.class.Name())
	}
	if len(args) != len(c.evaluate.Args) {
		return wudf.Value{}, fmt.Errorf("udf %q: evaluate takes %d arguments, got %d",
			c.class.Name(), len(c.evaluate.Args), len(args))
	}
	words := make([]uint64, 0, len(args)+1)
	words = append(words, uint64(c.instance))
	for _, a := range args {
		words = append(words, box.StackWord(a))
	}
	telemetry.Invocations.WithLabelValues("udf", evaluateMethod).Inc()
	out, err := c.evalFn.Call(ctx, words...)
	if err != nil {
		telemetry.InvocationErrors.WithLabelValues("udf", evaluateMethod).Inc()
		return wudf.Value{}, box.InvocationError(c.class.Name()+".evaluate", err)
	}
	if c.evaluate.Ret.Kind == wudf.KindVoid {
		return wudf.VoidValue, nil
	}
	if len(out) != 1 {
		return wudf.Value{}, fmt.Errorf("udf %q: evaluate returned %d values, want 1", c.class.Name(), len(out))
	}
	return box.ValueFromStack(c.evaluate.Ret, out[0]), nil
}

// Close runs the optional close hook and releases the registration.
// Idempotent.
func (c *Context) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true
	var firstErr error
	if c.closefn != nil {
		if _, err := c.closefn.Call(ctx, uint64(c.instance)); err != nil {
			firstErr = box.InvocationError(c.class.Name()+".close", err)
		}
	}
	if err := c.loader.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
