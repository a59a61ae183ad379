package box_test

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/sys"

	"github.com/colbridge/wudf"
	"github.com/colbridge/wudf/box"
	"github.com/colbridge/wudf/guesttest"
	"github.com/colbridge/wudf/wvm"
)

func newStaging(t *testing.T) (*box.Facility, *wvm.DirectBuffer) {
	t.Helper()
	mod := guesttest.NewModule("array-test", "")
	fac, err := box.NewFacility(mod)
	require.NoError(t, err)
	ptr, err := wvm.AllocBlock(context.Background(), mod, 1024)
	require.NoError(t, err)
	buf, err := wvm.NewDirectBuffer(mod, ptr, 1024)
	require.NoError(t, err)
	return fac, buf
}

func TestNewArrayLongs(t *testing.T) {
	ctx := context.Background()
	fac, buf := newStaging(t)
	values := []int64{-1, 0, 1 << 40}
	var scratch [8]byte
	for _, v := range values {
		binary.LittleEndian.PutUint64(scratch[:], uint64(v))
		_, err := buf.Write(scratch[:])
		require.NoError(t, err)
	}
	ref, err := fac.NewArray(ctx, wudf.KindLong, len(values), false, buf, buf.Len())
	require.NoError(t, err)
	n, err := fac.ArrayLen(ref)
	require.NoError(t, err)
	require.Equal(t, len(values), n)
	for i, want := range values {
		v, null, err := fac.ArrayGet(ref, i)
		require.NoError(t, err)
		assert.False(t, null)
		assert.Equal(t, want, v.Long())
	}
	assert.Equal(t, "[-1, 0, 1099511627776]", fac.ArrayToString(ref))
}

func TestNewArrayNullable(t *testing.T) {
	ctx := context.Background()
	fac, buf := newStaging(t)
	// 5 ints, elements 1 and 3 null.
	bitmap := []byte{0b01010}
	_, err := buf.Write(bitmap)
	require.NoError(t, err)
	var scratch [4]byte
	for _, v := range []int32{10, 0, -30, 0, 50} {
		binary.LittleEndian.PutUint32(scratch[:], uint32(v))
		_, err := buf.Write(scratch[:])
		require.NoError(t, err)
	}
	ref, err := fac.NewArray(ctx, wudf.KindInt, 5, true, buf, buf.Len())
	require.NoError(t, err)
	wantNull := []bool{false, true, false, true, false}
	wantVal := []int32{10, 0, -30, 0, 50}
	for i := range wantNull {
		v, null, err := fac.ArrayGet(ref, i)
		require.NoError(t, err)
		assert.Equal(t, wantNull[i], null, "element %d", i)
		if !null {
			assert.Equal(t, wantVal[i], v.Int())
		}
	}
	assert.Equal(t, "[10, null, -30, null, 50]", fac.ArrayToString(ref))
}

func TestNewArrayRejectsBadStaging(t *testing.T) {
	ctx := context.Background()
	fac, buf := newStaging(t)
	_, err := fac.NewArray(ctx, wudf.KindLong, 2, false, buf, 15)
	assert.Error(t, err)
	_, err = fac.NewArray(ctx, wudf.KindString, 1, false, buf, 5)
	assert.Error(t, err)
}

func TestArrayGetOutOfRange(t *testing.T) {
	ctx := context.Background()
	fac, buf := newStaging(t)
	_, err := buf.Write([]byte{1})
	require.NoError(t, err)
	ref, err := fac.NewArray(ctx, wudf.KindByte, 1, false, buf, 1)
	require.NoError(t, err)
	_, _, err = fac.ArrayGet(ref, 1)
	assert.Error(t, err)
	_, _, err = fac.ArrayGet(ref, -1)
	assert.Error(t, err)
}

func TestRefArray(t *testing.T) {
	ctx := context.Background()
	fac, _ := newStaging(t)
	a, err := fac.NewString(ctx, "a")
	require.NoError(t, err)
	b, err := fac.NewBoxedLong(ctx, 9)
	require.NoError(t, err)
	ref, err := fac.NewRefArray(ctx, []wudf.Ref{a, wudf.Null, b})
	require.NoError(t, err)
	n, err := fac.ArrayLen(ref)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	v, _, err := fac.ArrayGet(ref, 0)
	require.NoError(t, err)
	assert.Equal(t, a, v.Ref())
	v, _, err = fac.ArrayGet(ref, 1)
	require.NoError(t, err)
	assert.True(t, v.Ref().IsNull())
	v, _, err = fac.ArrayGet(ref, 2)
	require.NoError(t, err)
	assert.Equal(t, b, v.Ref())
}

func TestBufferBox(t *testing.T) {
	ctx := context.Background()
	fac, buf := newStaging(t)
	_, err := buf.Write([]byte("abcd"))
	require.NoError(t, err)
	ref, err := fac.NewBufferRef(ctx, buf)
	require.NoError(t, err)
	assert.Contains(t, fac.ToString(ref), "cap=1024")
	assert.Contains(t, fac.ToString(ref), "len=4")
}

func TestDumpError(t *testing.T) {
	assert.Equal(t, "", box.DumpError(nil))
	assert.Equal(t, "guest raised: boom", box.DumpError(errors.New("boom")))
	got := box.DumpError(errors.New("null input\nguest stack:\n  Upper.evaluate"))
	assert.Equal(t, "guest raised: null input\nguest stack:\n  Upper.evaluate", got)
	exit := sys.NewExitError(3)
	assert.Equal(t, "guest exited with code 3", box.DumpError(exit))
}

func TestInvocationError(t *testing.T) {
	err := box.InvocationError("Upper.evaluate", errors.New("boom"))
	assert.ErrorIs(t, err, wudf.ErrInvocation)
	assert.Contains(t, err.Error(), "guest raised: boom")
	assert.Contains(t, err.Error(), "Upper.evaluate")
}
