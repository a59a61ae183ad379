package sig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colbridge/wudf"
)

func TestDecode(t *testing.T) {
	cases := []struct {
		sig  string
		args []TypeDesc
		ret  TypeDesc
	}{
		{"()V", nil, TypeDesc{Kind: wudf.KindVoid}},
		{"(IJ)D", []TypeDesc{{Kind: wudf.KindInt}, {Kind: wudf.KindLong}}, TypeDesc{Kind: wudf.KindDouble}},
		{"(ZBSF)I",
			[]TypeDesc{{Kind: wudf.KindBoolean}, {Kind: wudf.KindByte}, {Kind: wudf.KindShort}, {Kind: wudf.KindFloat}},
			TypeDesc{Kind: wudf.KindInt}},
		{"(Lstd/String;)Lstd/String;",
			[]TypeDesc{{Kind: wudf.KindString}},
			TypeDesc{Kind: wudf.KindString}},
		{"(Lstd/Long;)Lstd/Int;",
			[]TypeDesc{{Kind: wudf.KindLong, Boxed: true}},
			TypeDesc{Kind: wudf.KindInt, Boxed: true}},
		{"(Lexample/State;J)V",
			[]TypeDesc{{Kind: wudf.KindObject}, {Kind: wudf.KindLong}},
			TypeDesc{Kind: wudf.KindVoid}},
		{"([J)[Lstd/Long;",
			[]TypeDesc{{Kind: wudf.KindLong, Array: true}},
			TypeDesc{Kind: wudf.KindLong, Boxed: true, Array: true}},
		{"([Lstd/Object;)V",
			[]TypeDesc{{Kind: wudf.KindObject, Array: true}},
			TypeDesc{Kind: wudf.KindVoid}},
	}
	for _, c := range cases {
		t.Run(c.sig, func(t *testing.T) {
			args, ret, err := decode(c.sig)
			require.NoError(t, err)
			assert.Equal(t, c.args, args)
			assert.Equal(t, c.ret, ret)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	for _, sig := range []string{
		"",
		"IV",
		"(I",
		"()",
		"()Ix",
		"(Q)V",
		"(Lstd/String)V",
		"([)V",
		"()[V",
	} {
		t.Run(sig, func(t *testing.T) {
			_, _, err := decode(sig)
			require.ErrorIs(t, err, wudf.ErrSignatureDecode)
		})
	}
}

func TestUserArgs(t *testing.T) {
	args, ret, err := decode("(Lexample/State;J)V")
	require.NoError(t, err)
	d := &MethodDesc{Name: "update", Sig: "(Lexample/State;J)V", Args: args, Ret: ret, Stateful: true}
	require.Len(t, d.UserArgs(), 1)
	assert.Equal(t, wudf.KindLong, d.UserArgs()[0].Kind)
	d.Stateful = false
	assert.Len(t, d.UserArgs(), 2)
}
