package sig

import (
	"fmt"

	"github.com/colbridge/wudf"
	"github.com/colbridge/wudf/loader"
)

// Analyzer inspects a class's declared methods.  It is stateless and safe
// for concurrent use.
//
// Overload resolution is first-match: if a class declares two methods with
// the same name, the first declaration wins and the rest are never seen.
// This is a known simplification carried over from the method scan being a
// single pass in declaration order.
type Analyzer struct{}

// HasMethod reports whether the class declares a method with the given name.
func (Analyzer) HasMethod(c loader.Class, method string) bool {
	for _, m := range c.Methods() {
		if m.Name == method {
			return true
		}
	}
	return false
}

// Signature returns the declared descriptor of the named method.
func (Analyzer) Signature(c loader.Class, method string) (string, error) {
	for _, m := range c.Methods() {
		if m.Name == method {
			return m.Sig, nil
		}
	}
	return "", fmt.Errorf("method %q on class %q: %w", method, c.Name(), wudf.ErrMethodNotFound)
}

// MethodDesc scans the class for the named method and decodes its signature.
func (a Analyzer) MethodDesc(c loader.Class, method string) (*MethodDesc, error) {
	sig, err := a.Signature(c, method)
	if err != nil {
		return nil, err
	}
	args, ret, err := decode(sig)
	if err != nil {
		return nil, fmt.Errorf("method %q on class %q: %w", method, c.Name(), err)
	}
	return &MethodDesc{Name: method, Sig: sig, Args: args, Ret: ret}, nil
}

// UDAFMethodDesc is MethodDesc for aggregate methods, whose leading formal
// parameter is the aggregate state handle rather than a user argument.
func (a Analyzer) UDAFMethodDesc(c loader.Class, method string) (*MethodDesc, error) {
	d, err := a.MethodDesc(c, method)
	if err != nil {
		return nil, err
	}
	if len(d.Args) == 0 || d.Args[0].Kind.Primitive() {
		return nil, fmt.Errorf("method %q on class %q: aggregate method lacks a leading state parameter: %w",
			method, c.Name(), wudf.ErrSignatureDecode)
	}
	d.Stateful = true
	return d, nil
}
