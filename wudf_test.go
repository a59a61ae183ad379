package wudf_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/colbridge/wudf"
)

func TestKind(t *testing.T) {
	assert.Equal(t, "long", wudf.KindLong.String())
	assert.Equal(t, byte('J'), wudf.KindLong.Code())
	assert.Equal(t, byte(0), wudf.KindString.Code())
	assert.True(t, wudf.KindBoolean.Primitive())
	assert.True(t, wudf.KindDouble.Primitive())
	assert.False(t, wudf.KindVoid.Primitive())
	assert.False(t, wudf.KindString.Primitive())
	assert.False(t, wudf.KindObject.Primitive())
}

func TestValueAccessors(t *testing.T) {
	assert.True(t, wudf.BoolValue(true).Bool())
	assert.Equal(t, int8(-3), wudf.ByteValue(-3).Byte())
	assert.Equal(t, int16(-300), wudf.ShortValue(-300).Short())
	assert.Equal(t, int32(math.MinInt32), wudf.IntValue(math.MinInt32).Int())
	assert.Equal(t, int64(math.MaxInt64), wudf.LongValue(math.MaxInt64).Long())
	assert.Equal(t, float32(1.5), wudf.FloatValue(1.5).Float())
	assert.Equal(t, -2.25, wudf.DoubleValue(-2.25).Double())
	assert.Equal(t, wudf.Ref(9), wudf.RefValue(wudf.KindObject, 9).Ref())
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "long(-1)", wudf.LongValue(-1).String())
	assert.Equal(t, "boolean(true)", wudf.BoolValue(true).String())
	assert.Equal(t, "string(ref=5)", wudf.RefValue(wudf.KindString, 5).String())
	assert.Equal(t, "void", wudf.VoidValue.String())
}

func TestNullRef(t *testing.T) {
	assert.True(t, wudf.Null.IsNull())
	assert.False(t, wudf.Ref(1).IsNull())
}
