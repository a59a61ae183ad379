// Package udaf binds a loaded aggregate class and its state class, resolves
// the aggregate method set, and drives the aggregate lifecycle including the
// windowed variants.
package udaf

import (
	"context"
	"fmt"

	"github.com/colbridge/wudf"
	"github.com/colbridge/wudf/box"
	"github.com/colbridge/wudf/loader"
	"github.com/colbridge/wudf/sig"
	"github.com/colbridge/wudf/wvm"
	"go.uber.org/zap"
)

// Aggregate method names.  The first seven are required of every aggregate;
// the window trio is resolved only when the class declares it.
const (
	createMethod        = "create"
	destroyMethod       = "destroy"
	updateMethod        = "update"
	mergeMethod         = "merge"
	finalizeMethod      = "finalize"
	serializeMethod     = "serialize"
	serializeSizeMethod = "serialize_size"
	resetMethod         = "reset"
	windowUpdateMethod  = "window_update"
	getValuesMethod     = "get_values"
)

// DefaultBufferSize is the serialization buffer capacity used when Options
// does not set one.
const DefaultBufferSize = 8192

// Options configures one aggregate-function registration.
type Options struct {
	// Path locates the user artifact on the local filesystem.
	Path string
	// Module, when non-nil, binds an already-instantiated guest instead
	// of loading Path.  The registration takes ownership of it.
	Module wvm.GuestModule
	// ClassName is the aggregate class; StateClassName is the distinct
	// class holding per-group accumulated state.
	ClassName      string
	StateClassName string
	// BufferSize sets the owned serialization buffer's capacity.
	BufferSize int
	Logger     *zap.Logger
}

// boundMethod pairs a decoded descriptor with its function, resolved once
// against the aggregate class at construction.
type boundMethod struct {
	desc *sig.MethodDesc
	fn   wvm.Fn
}

type methodSet struct {
	create        boundMethod
	destroy       boundMethod
	update        boundMethod
	merge         boundMethod
	finalize      boundMethod
	serialize     boundMethod
	serializeSize boundMethod
	reset         boundMethod
	windowUpdate  boundMethod
	getValues     boundMethod
}

// Context is one registered aggregate function.  One Context exists per
// registration per query; any number of aggregate states may be live under
// it at once, one per group or window partition.  The Context owns the
// aggregate class, the state class, an owned serialization buffer, and the
// bound Function.
type Context struct {
	loader     *loader.ClassLoader
	analyzer   sig.Analyzer
	facility   *box.Facility
	class      loader.Class
	stateClass loader.Class
	instance   wudf.Ref
	logger     *zap.Logger

	methods  methodSet
	blockPtr uint32
	buffer   *wvm.DirectBuffer
	fn       *Function

	closed bool
}

// New loads both classes, constructs the aggregate instance, resolves the
// method set, and allocates the serialization buffer.  Construction is
// atomic: on any failure every intermediate resource is released and only
// the error is returned.
func New(ctx context.Context, env *wvm.Env, opts Options) (*Context, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ld, err := newLoader(ctx, env, opts, logger)
	if err != nil {
		return nil, fmt.Errorf("register udaf %q: %w", opts.ClassName, err)
	}
	c, err := build(ctx, ld, opts)
	if err != nil {
		ld.Close(ctx)
		return nil, fmt.Errorf("register udaf %q from %q: %w", opts.ClassName, opts.Path, err)
	}
	c.logger = logger
	logger.Debug("udaf registered",
		zap.String("class", opts.ClassName),
		zap.String("state", opts.StateClassName),
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
	stateClass, err := ld.GetClass(opts.StateClassName)
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
		loader:     ld,
		facility:   facility,
		class:      class,
		stateClass: stateClass,
		instance:   instance,
	}
	if err := c.resolveMethods(class); err != nil {
		return nil, err
	}
	size := opts.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	if c.blockPtr, err = wvm.AllocBlock(ctx, class.Module(), size); err != nil {
		return nil, err
	}
	if c.buffer, err = wvm.NewDirectBuffer(class.Module(), c.blockPtr, size); err != nil {
		wvm.FreeBlock(ctx, class.Module(), c.blockPtr)
		return nil, err
	}
	c.fn = &Function{c: c}
	return c, nil
}

func (c *Context) resolveMethods(class loader.Class) error {
	var err error
	if c.methods.create.desc, err = c.analyzer.MethodDesc(class, createMethod); err != nil {
		return err
	}
	if c.methods.create.fn, err = c.methods.create.desc.Resolve(class); err != nil {
		return err
	}
	required := []struct {
		name string
		m    *boundMethod
	}{
		{destroyMethod, &c.methods.destroy},
		{updateMethod, &c.methods.update},
		{mergeMethod, &c.methods.merge},
		{finalizeMethod, &c.methods.finalize},
		{serializeMethod, &c.methods.serialize},
		{serializeSizeMethod, &c.methods.serializeSize},
	}
	for _, r := range required {
		if r.m.desc, err = c.analyzer.UDAFMethodDesc(class, r.name); err != nil {
			return err
		}
		if r.m.fn, err = r.m.desc.Resolve(class); err != nil {
			return err
		}
	}
	// The window trio is declared only by window-capable aggregates.
	optional := []struct {
		name string
		m    *boundMethod
	}{
		{resetMethod, &c.methods.reset},
		{windowUpdateMethod, &c.methods.windowUpdate},
		{getValuesMethod, &c.methods.getValues},
	}
	for _, o := range optional {
		if !c.analyzer.HasMethod(class, o.name) {
			continue
		}
		if o.m.desc, err = c.analyzer.UDAFMethodDesc(class, o.name); err != nil {
			return err
		}
		if o.m.fn, err = o.m.desc.Resolve(class); err != nil {
			return err
		}
	}
	return nil
}

// Function returns the bound aggregate function.
func (c *Context) Function() *Function { return c.fn }

// Facility returns the marshaling facility bound to this registration's
// guest instance.
func (c *Context) Facility() *box.Facility { return c.facility }

// Buffer returns the registration's owned serialization buffer.  Sequential
// states may share it; Clear between uses.
func (c *Context) Buffer() *wvm.DirectBuffer { return c.buffer }

// UpdateArgTypes returns the declared update parameter descriptors,
// excluding the state slot.
func (c *Context) UpdateArgTypes() []sig.TypeDesc { return c.methods.update.desc.UserArgs() }

// Windowed reports whether the aggregate declares the window method trio.
func (c *Context) Windowed() bool {
	return c.methods.reset.desc != nil && c.methods.windowUpdate.desc != nil && c.methods.getValues.desc != nil
}

// Close releases the serialization buffer and the registration.  Any states
// still outstanding are the calling operator's defect; they die with the
// guest instance.  Idempotent.
func (c *Context) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.buffer.Release()
	var firstErr error
	if err := wvm.FreeBlock(ctx, c.class.Module(), c.blockPtr); err != nil {
		firstErr = err
	}
	if err := c.loader.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
