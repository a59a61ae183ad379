package guesttest

import (
	"context"
	"errors"
	"strings"

	"github.com/colbridge/wudf"
	"github.com/colbridge/wudf/box"
)

// UpperManifest declares the reference scalar UDF.
const UpperManifest = `class Upper
method prepare ()V
method evaluate (Lstd/String;)Lstd/String;
method close ()V
class NoCtor
`

// UpperGuest records what the Upper guest observed.
type UpperGuest struct {
	Prepared bool
	Evals    int
	ClosedFn bool
}

// NewUpperModule builds a guest whose Upper class upper-cases strings.  Its
// evaluate raises on a null argument, and the manifest's NoCtor class
// declares no constructor export, for construction-failure tests.
func NewUpperModule() (*Module, *UpperGuest) {
	m := NewModule("upper-test", UpperManifest)
	g := &UpperGuest{}
	fac := mustFacility(m)
	m.Register("Upper__new", func(context.Context, ...uint64) ([]uint64, error) {
		return []uint64{uint64(m.Alloc(1))}, nil
	})
	m.Register("Upper__prepare", func(context.Context, ...uint64) ([]uint64, error) {
		g.Prepared = true
		return nil, nil
	})
	m.Register("Upper__evaluate", func(ctx context.Context, params ...uint64) ([]uint64, error) {
		ref := wudf.Ref(uint32(params[1]))
		if ref.IsNull() {
			return nil, errors.New("null input string\nguest stack:\n  Upper.evaluate")
		}
		s, err := fac.GoString(ref)
		if err != nil {
			return nil, err
		}
		out, err := fac.NewString(ctx, strings.ToUpper(s))
		if err != nil {
			return nil, err
		}
		g.Evals++
		return []uint64{uint64(out)}, nil
	})
	m.Register("Upper__close", func(context.Context, ...uint64) ([]uint64, error) {
		g.ClosedFn = true
		return nil, nil
	})
	return m, g
}

func mustFacility(m *Module) *box.Facility {
	fac, err := box.NewFacility(m)
	if err != nil {
		panic(err)
	}
	return fac
}
