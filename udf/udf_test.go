package udf_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colbridge/wudf"
	"github.com/colbridge/wudf/guesttest"
	"github.com/colbridge/wudf/udf"
)

func newUpper(t *testing.T) (*udf.Context, *guesttest.UpperGuest) {
	t.Helper()
	mod, guest := guesttest.NewUpperModule()
	c, err := udf.New(context.Background(), nil, udf.Options{
		Module:    mod,
		ClassName: "Upper",
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(context.Background()) })
	return c, guest
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	c, guest := newUpper(t)

	require.NoError(t, c.Prepare(ctx))
	assert.True(t, guest.Prepared)

	fac := c.Facility()
	arg, err := fac.NewString(ctx, "hello")
	require.NoError(t, err)
	out, err := c.Evaluate(ctx, []wudf.Value{wudf.RefValue(wudf.KindString, arg)})
	require.NoError(t, err)
	got, err := fac.GoString(out.Ref())
	require.NoError(t, err)
	assert.Equal(t, "HELLO", got)
	assert.Equal(t, 1, guest.Evals)

	require.NoError(t, c.Close(ctx))
	assert.True(t, guest.ClosedFn)
}

func TestEvaluateTypes(t *testing.T) {
	c, _ := newUpper(t)
	require.Len(t, c.ArgTypes(), 1)
	assert.Equal(t, wudf.KindString, c.ArgTypes()[0].Kind)
	assert.Equal(t, wudf.KindString, c.ReturnType().Kind)
}

func TestEvaluateRaises(t *testing.T) {
	ctx := context.Background()
	c, guest := newUpper(t)
	// Null argument makes the guest raise; the error carries the decoded
	// message and stack.
	_, err := c.Evaluate(ctx, []wudf.Value{wudf.RefValue(wudf.KindString, wudf.Null)})
	require.ErrorIs(t, err, wudf.ErrInvocation)
	assert.Contains(t, err.Error(), "guest raised: null input string")
	assert.Contains(t, err.Error(), "Upper.evaluate")
	assert.Zero(t, guest.Evals)

	// The failed call leaves nothing pending; the next call succeeds.
	arg, err := c.Facility().NewString(ctx, "ok")
	require.NoError(t, err)
	_, err = c.Evaluate(ctx, []wudf.Value{wudf.RefValue(wudf.KindString, arg)})
	require.NoError(t, err)
}

func TestEvaluateArgCount(t *testing.T) {
	ctx := context.Background()
	c, _ := newUpper(t)
	_, err := c.Evaluate(ctx, nil)
	assert.ErrorContains(t, err, "takes 1 arguments, got 0")
}

func TestEvaluateAfterClose(t *testing.T) {
	ctx := context.Background()
	c, _ := newUpper(t)
	require.NoError(t, c.Close(ctx))
	_, err := c.Evaluate(ctx, []wudf.Value{wudf.RefValue(wudf.KindString, wudf.Null)})
	assert.ErrorContains(t, err, "evaluate after close")
	require.NoError(t, c.Close(ctx))
}

func TestNewUnknownClass(t *testing.T) {
	mod, _ := guesttest.NewUpperModule()
	_, err := udf.New(context.Background(), nil, udf.Options{
		Module:    mod,
		ClassName: "Missing",
	})
	require.ErrorIs(t, err, wudf.ErrClassNotFound)
	// Construction is atomic: the module it took ownership of is gone.
	assert.True(t, mod.Closed())
}

func TestNewConstructionFailure(t *testing.T) {
	mod, _ := guesttest.NewUpperModule()
	_, err := udf.New(context.Background(), nil, udf.Options{
		Module:    mod,
		ClassName: "NoCtor",
	})
	require.ErrorIs(t, err, wudf.ErrConstruction)
	assert.True(t, mod.Closed())
}

func TestNewBadPath(t *testing.T) {
	_, err := udf.New(context.Background(), nil, udf.Options{
		Path:      "/nonexistent.wasm",
		ClassName: "Upper",
	})
	assert.Error(t, err)
}
