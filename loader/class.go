package loader

import (
	"context"
	"fmt"

	"github.com/colbridge/wudf"
	"github.com/colbridge/wudf/wvm"
)

// Method is one declared method of a class as the manifest spells it.
type Method struct {
	Name string
	Sig  string
}

// Class is an immutable handle to a class declared by a loaded artifact.
// Class values may be read from multiple goroutines; they stay valid until
// the loader that produced them is closed.
type Class struct {
	mod     wvm.GuestModule
	name    string
	methods []Method
}

func (c Class) Name() string { return c.name }

// Module returns the guest instance this class lives in.
func (c Class) Module() wvm.GuestModule { return c.mod }

// Methods returns the class's declared methods in declaration order.
func (c Class) Methods() []Method { return c.methods }

// Export resolves the guest function implementing the named method on this
// concrete class, or nil if the guest does not export it.  Function identity
// is class-relative: the same method name on another class resolves to a
// different export.
func (c Class) Export(method string) wvm.Fn {
	return c.mod.Fn(c.name + "__" + method)
}

// NewInstance invokes the class's zero-argument constructor.
func (c Class) NewInstance(ctx context.Context) (wudf.Ref, error) {
	fn := c.Export("new")
	if fn == nil {
		return wudf.Null, fmt.Errorf("class %q has no zero-argument constructor: %w", c.name, wudf.ErrConstruction)
	}
	out, err := fn.Call(ctx)
	if err != nil {
		return wudf.Null, fmt.Errorf("class %q constructor: %v: %w", c.name, err, wudf.ErrConstruction)
	}
	if len(out) != 1 || wudf.Ref(out[0]).IsNull() {
		return wudf.Null, fmt.Errorf("class %q constructor returned null: %w", c.name, wudf.ErrConstruction)
	}
	return wudf.Ref(out[0]), nil
}
