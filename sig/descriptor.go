// Package sig decodes guest method signatures into typed argument
// descriptors and resolves methods against concrete classes.
//
// Signatures use the runtime's standard descriptor grammar: single letters
// for primitives (Z B S I J F D, V for void), L<name>; for reference types,
// and a [ prefix for arrays.  The well-known reference names std/Boolean,
// std/Byte, std/Short, std/Int, std/Long, std/Float, and std/Double denote
// boxed primitives and std/String denotes strings; any other reference name
// is an opaque object.  The bridge decodes this grammar, it does not define
// it.
package sig

import (
	"fmt"
	"strings"

	"github.com/colbridge/wudf"
	"github.com/colbridge/wudf/loader"
	"github.com/colbridge/wudf/wvm"
)

// TypeDesc classifies one formal parameter or return slot.
type TypeDesc struct {
	Kind  wudf.Kind
	Boxed bool
	Array bool
}

// MethodDesc is a decoded method signature bound to a method name.  It is
// immutable after construction and safe for concurrent reads.  Function
// resolution is class-relative, so a cached descriptor must still be
// resolved against each concrete class it is used with.
type MethodDesc struct {
	Name string
	Sig  string
	Args []TypeDesc
	Ret  TypeDesc
	// Stateful marks aggregate methods whose leading formal is the
	// aggregate state handle rather than a user argument.
	Stateful bool
}

// Resolve returns the guest function implementing this method on the given
// concrete class.
func (d *MethodDesc) Resolve(c loader.Class) (wvm.Fn, error) {
	fn := c.Export(d.Name)
	if fn == nil {
		return nil, fmt.Errorf("method %q not exported by class %q: %w", d.Name, c.Name(), wudf.ErrMethodNotFound)
	}
	return fn, nil
}

// UserArgs returns the descriptors of the caller-supplied arguments, which
// excludes the state slot of a stateful method.
func (d *MethodDesc) UserArgs() []TypeDesc {
	if d.Stateful {
		return d.Args[1:]
	}
	return d.Args
}

var boxedNames = map[string]wudf.Kind{
	"std/Boolean": wudf.KindBoolean,
	"std/Byte":    wudf.KindByte,
	"std/Short":   wudf.KindShort,
	"std/Int":     wudf.KindInt,
	"std/Long":    wudf.KindLong,
	"std/Float":   wudf.KindFloat,
	"std/Double":  wudf.KindDouble,
}

// decode parses one descriptor string of the form (args)ret.
func decode(sig string) (args []TypeDesc, ret TypeDesc, err error) {
	bad := func(why string) ([]TypeDesc, TypeDesc, error) {
		return nil, TypeDesc{}, fmt.Errorf("%q: %s: %w", sig, why, wudf.ErrSignatureDecode)
	}
	if len(sig) == 0 || sig[0] != '(' {
		return bad("missing argument list")
	}
	rest := sig[1:]
	for len(rest) > 0 && rest[0] != ')' {
		var d TypeDesc
		d, rest, err = decodeOne(rest)
		if err != nil {
			return nil, TypeDesc{}, fmt.Errorf("%q: %w", sig, err)
		}
		args = append(args, d)
	}
	if len(rest) == 0 {
		return bad("unterminated argument list")
	}
	rest = rest[1:]
	if len(rest) == 0 {
		return bad("missing return type")
	}
	ret, rest, err = decodeOne(rest)
	if err != nil {
		return nil, TypeDesc{}, fmt.Errorf("%q: %w", sig, err)
	}
	if len(rest) != 0 {
		return bad("trailing text after return type")
	}
	return args, ret, nil
}

func decodeOne(s string) (TypeDesc, string, error) {
	var d TypeDesc
	if s[0] == '[' {
		d.Array = true
		s = s[1:]
		if len(s) == 0 {
			return d, s, fmt.Errorf("dangling array prefix: %w", wudf.ErrSignatureDecode)
		}
	}
	switch s[0] {
	case 'V':
		if d.Array {
			return d, s, fmt.Errorf("array of void: %w", wudf.ErrSignatureDecode)
		}
		d.Kind = wudf.KindVoid
		return d, s[1:], nil
	case 'Z':
		d.Kind = wudf.KindBoolean
	case 'B':
		d.Kind = wudf.KindByte
	case 'S':
		d.Kind = wudf.KindShort
	case 'I':
		d.Kind = wudf.KindInt
	case 'J':
		d.Kind = wudf.KindLong
	case 'F':
		d.Kind = wudf.KindFloat
	case 'D':
		d.Kind = wudf.KindDouble
	case 'L':
		end := strings.IndexByte(s, ';')
		if end < 0 {
			return d, s, fmt.Errorf("unterminated reference type: %w", wudf.ErrSignatureDecode)
		}
		name := s[1:end]
		if kind, ok := boxedNames[name]; ok {
			d.Kind = kind
			d.Boxed = true
		} else if name == "std/String" {
			d.Kind = wudf.KindString
		} else {
			d.Kind = wudf.KindObject
		}
		return d, s[end+1:], nil
	default:
		return d, s, fmt.Errorf("unknown type code %q: %w", s[0], wudf.ErrSignatureDecode)
	}
	return d, s[1:], nil
}
