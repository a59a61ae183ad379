package box_test

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/colbridge/wudf"
	"github.com/colbridge/wudf/box"
	"github.com/colbridge/wudf/guesttest"
)

func newFacility(t *testing.T) *box.Facility {
	t.Helper()
	mod := guesttest.NewModule("box-test", "")
	fac, err := box.NewFacility(mod)
	require.NoError(t, err)
	return fac
}

func TestBoxPrimitiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	fac := newFacility(t)
	t.Run("bool", func(t *testing.T) {
		for _, v := range []bool{true, false} {
			ref, err := fac.NewBoxedBool(ctx, v)
			require.NoError(t, err)
			got, err := fac.UnboxBool(ref)
			require.NoError(t, err)
			assert.Equal(t, v, got)
		}
	})
	t.Run("byte", func(t *testing.T) {
		for _, v := range []int8{0, 1, -1, math.MinInt8, math.MaxInt8} {
			ref, err := fac.NewBoxedByte(ctx, v)
			require.NoError(t, err)
			got, err := fac.UnboxByte(ref)
			require.NoError(t, err)
			assert.Equal(t, v, got)
		}
	})
	t.Run("short", func(t *testing.T) {
		for _, v := range []int16{0, -300, math.MinInt16, math.MaxInt16} {
			ref, err := fac.NewBoxedShort(ctx, v)
			require.NoError(t, err)
			got, err := fac.UnboxShort(ref)
			require.NoError(t, err)
			assert.Equal(t, v, got)
		}
	})
	t.Run("int", func(t *testing.T) {
		for _, v := range []int32{0, -70000, math.MinInt32, math.MaxInt32} {
			ref, err := fac.NewBoxedInt(ctx, v)
			require.NoError(t, err)
			got, err := fac.UnboxInt(ref)
			require.NoError(t, err)
			assert.Equal(t, v, got)
		}
	})
	t.Run("long", func(t *testing.T) {
		for _, v := range []int64{0, -1, math.MinInt64, math.MaxInt64} {
			ref, err := fac.NewBoxedLong(ctx, v)
			require.NoError(t, err)
			got, err := fac.UnboxLong(ref)
			require.NoError(t, err)
			assert.Equal(t, v, got)
		}
	})
	t.Run("float", func(t *testing.T) {
		for _, v := range []float32{0, -1.5, math.MaxFloat32} {
			ref, err := fac.NewBoxedFloat(ctx, v)
			require.NoError(t, err)
			got, err := fac.UnboxFloat(ref)
			require.NoError(t, err)
			assert.Equal(t, v, got)
		}
	})
	t.Run("double", func(t *testing.T) {
		for _, v := range []float64{0, -2.25, math.MaxFloat64} {
			ref, err := fac.NewBoxedDouble(ctx, v)
			require.NoError(t, err)
			got, err := fac.UnboxDouble(ref)
			require.NoError(t, err)
			assert.Equal(t, v, got)
		}
	})
}

func TestBoxGeneric(t *testing.T) {
	ctx := context.Background()
	fac := newFacility(t)
	cases := []wudf.Value{
		wudf.BoolValue(true),
		wudf.ByteValue(-5),
		wudf.ShortValue(1234),
		wudf.IntValue(-123456),
		wudf.LongValue(1 << 40),
		wudf.FloatValue(3.5),
		wudf.DoubleValue(-0.25),
	}
	for _, v := range cases {
		t.Run(v.Kind.String(), func(t *testing.T) {
			ref, err := fac.Box(ctx, v)
			require.NoError(t, err)
			got, err := fac.Unbox(ref)
			require.NoError(t, err)
			assert.Equal(t, v, got)
			require.NoError(t, fac.Free(ctx, ref))
		})
	}
}

func TestUnboxKindMismatch(t *testing.T) {
	ctx := context.Background()
	fac := newFacility(t)
	ref, err := fac.NewBoxedInt(ctx, 7)
	require.NoError(t, err)
	_, err = fac.UnboxLong(ref)
	assert.Error(t, err)
	_, err = fac.UnboxBool(ref)
	assert.Error(t, err)
	_, err = fac.UnboxInt(wudf.Null)
	assert.Error(t, err)
}

func TestStringRoundTrip(t *testing.T) {
	ctx := context.Background()
	fac := newFacility(t)
	for _, s := range []string{"", "hello", "héllo wörld", "日本語"} {
		ref, err := fac.NewString(ctx, s)
		require.NoError(t, err)
		got, err := fac.GoString(ref)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestStringBytesReusesBuffer(t *testing.T) {
	ctx := context.Background()
	fac := newFacility(t)
	ref, err := fac.NewString(ctx, "reuse me")
	require.NoError(t, err)
	buf := make([]byte, 0, 64)
	got, err := fac.StringBytes(ref, buf)
	require.NoError(t, err)
	assert.Equal(t, "reuse me", string(got))
	assert.Equal(t, 64, cap(got))
}

func TestGoStringSanitizesInvalidUTF8(t *testing.T) {
	ctx := context.Background()
	fac := newFacility(t)
	ref, err := fac.NewString(ctx, "ok\xff\xfe")
	require.NoError(t, err)
	got, err := fac.GoString(ref)
	require.NoError(t, err)
	assert.Equal(t, "ok�", got)
}

func TestUnboxStringAsPrimitiveFails(t *testing.T) {
	ctx := context.Background()
	fac := newFacility(t)
	ref, err := fac.NewString(ctx, "not a number")
	require.NoError(t, err)
	_, err = fac.UnboxInt(ref)
	assert.Error(t, err)
	_, err = fac.GoString(ref)
	assert.NoError(t, err)
}

func TestToString(t *testing.T) {
	ctx := context.Background()
	fac := newFacility(t)
	assert.Equal(t, "null", fac.ToString(wudf.Null))
	sref, err := fac.NewString(ctx, "text")
	require.NoError(t, err)
	assert.Equal(t, "text", fac.ToString(sref))
	iref, err := fac.NewBoxedInt(ctx, -42)
	require.NoError(t, err)
	assert.Equal(t, "-42", fac.ToString(iref))
	bref, err := fac.NewBoxedBool(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, "true", fac.ToString(bref))
}

// Facilities of independent registrations marshal concurrently; each guest
// instance still sees only its own caller.
func TestFacilitiesIndependent(t *testing.T) {
	ctx := context.Background()
	var group errgroup.Group
	for i := 0; i < 8; i++ {
		group.Go(func() error {
			fac := newFacilityErr()
			for j := 0; j < 100; j++ {
				want := fmt.Sprintf("worker-%d-%d", i, j)
				ref, err := fac.NewString(ctx, want)
				if err != nil {
					return err
				}
				got, err := fac.GoString(ref)
				if err != nil {
					return err
				}
				if got != want {
					return fmt.Errorf("got %q, want %q", got, want)
				}
			}
			return nil
		})
	}
	require.NoError(t, group.Wait())
}

func newFacilityErr() *box.Facility {
	fac, err := box.NewFacility(guesttest.NewModule("box-test", ""))
	if err != nil {
		panic(err)
	}
	return fac
}
