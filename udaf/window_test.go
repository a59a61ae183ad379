package udaf_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colbridge/wudf"
	"github.com/colbridge/wudf/guesttest"
	"github.com/colbridge/wudf/udaf"
)

// stageLongColumn boxes values as a long array through the context's
// serialization buffer.
func stageLongColumn(t *testing.T, c *udaf.Context, values []int64) wudf.Ref {
	t.Helper()
	buf := c.Buffer()
	buf.Clear()
	var scratch [8]byte
	for _, v := range values {
		binary.LittleEndian.PutUint64(scratch[:], uint64(v))
		_, err := buf.Write(scratch[:])
		require.NoError(t, err)
	}
	ref, err := c.Facility().NewArray(context.Background(), wudf.KindLong, len(values), false, buf, buf.Len())
	require.NoError(t, err)
	return ref
}

func TestWindowUpdateBatchSlidingFrame(t *testing.T) {
	ctx := context.Background()
	c, guest := newSum(t)
	fn := c.Function()

	state, err := fn.Create(ctx)
	require.NoError(t, err)
	col := stageLongColumn(t, c, []int64{1, 2, 4, 8, 16})

	// Frame [0, 3): rows 1+2+4.
	require.NoError(t, fn.WindowUpdateBatch(ctx, state, 0, 5, 0, 3, []wudf.Ref{col}))
	assert.Equal(t, int64(7), guest.Sum(state))

	// Frame slides to [1, 4): row 0 leaves, row 3 enters.  The frame
	// boundaries reach the guest as given, so it sees the start advance
	// and retracts the departed row rather than recounting the frame.
	require.NoError(t, fn.WindowUpdateBatch(ctx, state, 0, 5, 1, 4, []wudf.Ref{col}))
	assert.Equal(t, int64(14), guest.Sum(state))
	require.Equal(t, [][2]int64{{0, 1}}, guest.Retractions)
	require.Equal(t, [][2]int64{{0, 3}, {3, 4}}, guest.Admissions)

	// A disjoint jump to [4, 5) retracts the whole old frame.
	require.NoError(t, fn.WindowUpdateBatch(ctx, state, 0, 5, 4, 5, []wudf.Ref{col}))
	assert.Equal(t, int64(16), guest.Sum(state))
	assert.Equal(t, [2]int64{1, 4}, guest.Retractions[1])
}

func TestWindowUpdateBatchGrowingFrame(t *testing.T) {
	ctx := context.Background()
	c, guest := newSum(t)
	fn := c.Function()

	state, err := fn.Create(ctx)
	require.NoError(t, err)
	col := stageLongColumn(t, c, []int64{5, 6, 7})

	// UNBOUNDED PRECEDING growth: each call extends the end only.
	for end := int64(1); end <= 3; end++ {
		require.NoError(t, fn.WindowUpdateBatch(ctx, state, 0, 3, 0, end, []wudf.Ref{col}))
	}
	assert.Equal(t, int64(18), guest.Sum(state))
	assert.Empty(t, guest.Retractions)
}

func TestWindowMethodsRequireDeclaration(t *testing.T) {
	ctx := context.Background()
	mod, _ := guesttest.NewPlainSumModule()
	c, err := udaf.New(ctx, nil, udaf.Options{
		Module:         mod,
		ClassName:      "SumAgg",
		StateClassName: "SumState",
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(context.Background()) })
	assert.False(t, c.Windowed())
	fn := c.Function()
	state, err := fn.Create(ctx)
	require.NoError(t, err)
	err = fn.Reset(ctx, state)
	assert.ErrorIs(t, err, wudf.ErrMethodNotFound)
	_, err = fn.GetValues(ctx, state, 0, 1)
	assert.ErrorIs(t, err, wudf.ErrMethodNotFound)
	err = fn.WindowUpdateBatch(ctx, state, 0, 1, 0, 1, nil)
	assert.ErrorIs(t, err, wudf.ErrMethodNotFound)
}
