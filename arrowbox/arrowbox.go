// Package arrowbox bridges Arrow columnar data into boxed guest values.
// The engine hands the bridge Arrow arrays; arrowbox extracts single rows
// for scalar evaluation and stages whole columns into a guest array box for
// batch paths like windowed aggregation.
package arrowbox

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/colbridge/wudf"
	"github.com/colbridge/wudf/box"
	"github.com/colbridge/wudf/wvm"
)

// ColumnKind maps an Arrow data type to the bridge's element kind.
func ColumnKind(dt arrow.DataType) (wudf.Kind, error) {
	switch dt.ID() {
	case arrow.BOOL:
		return wudf.KindBoolean, nil
	case arrow.INT8:
		return wudf.KindByte, nil
	case arrow.INT16:
		return wudf.KindShort, nil
	case arrow.INT32:
		return wudf.KindInt, nil
	case arrow.INT64:
		return wudf.KindLong, nil
	case arrow.FLOAT32:
		return wudf.KindFloat, nil
	case arrow.FLOAT64:
		return wudf.KindDouble, nil
	case arrow.STRING:
		return wudf.KindString, nil
	default:
		return wudf.KindInvalid, fmt.Errorf("unsupported column type %s", dt.Name())
	}
}

// RowValues extracts one row across cols as call arguments.  Primitive
// columns yield primitive values; string columns and nulls yield references,
// so a null is only passable where the target parameter is boxed.
func RowValues(ctx context.Context, fac *box.Facility, cols []arrow.Array, row int) ([]wudf.Value, error) {
	out := make([]wudf.Value, len(cols))
	for i, col := range cols {
		v, err := rowValue(ctx, fac, col, row)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func rowValue(ctx context.Context, fac *box.Facility, col arrow.Array, row int) (wudf.Value, error) {
	if row < 0 || row >= col.Len() {
		return wudf.Value{}, fmt.Errorf("row %d out of range [0,%d)", row, col.Len())
	}
	if col.IsNull(row) {
		return wudf.RefValue(wudf.KindObject, wudf.Null), nil
	}
	switch a := col.(type) {
	case *array.Boolean:
		return wudf.BoolValue(a.Value(row)), nil
	case *array.Int8:
		return wudf.ByteValue(a.Value(row)), nil
	case *array.Int16:
		return wudf.ShortValue(a.Value(row)), nil
	case *array.Int32:
		return wudf.IntValue(a.Value(row)), nil
	case *array.Int64:
		return wudf.LongValue(a.Value(row)), nil
	case *array.Float32:
		return wudf.FloatValue(a.Value(row)), nil
	case *array.Float64:
		return wudf.DoubleValue(a.Value(row)), nil
	case *array.String:
		ref, err := fac.NewString(ctx, a.Value(row))
		if err != nil {
			return wudf.Value{}, err
		}
		return wudf.RefValue(wudf.KindString, ref), nil
	default:
		return wudf.Value{}, fmt.Errorf("unsupported column type %s", col.DataType().Name())
	}
}

// StageColumn packs col into buf and boxes it as a guest array.  Primitive
// columns produce a packed primitive array box in one copy; string columns
// box each element and produce a reference array.
func StageColumn(ctx context.Context, fac *box.Facility, buf *wvm.DirectBuffer, col arrow.Array) (wudf.Ref, error) {
	kind, err := ColumnKind(col.DataType())
	if err != nil {
		return wudf.Null, err
	}
	if kind == wudf.KindString {
		return stageStrings(ctx, fac, col.(*array.String))
	}
	n := col.Len()
	nullable := col.NullN() > 0
	buf.Clear()
	if nullable {
		bitmap := make([]byte, (n+7)/8)
		for i := 0; i < n; i++ {
			if col.IsNull(i) {
				bitmap[i/8] |= 1 << (i % 8)
			}
		}
		if _, err := buf.Write(bitmap); err != nil {
			return wudf.Null, err
		}
	}
	if err := stageValues(buf, col); err != nil {
		return wudf.Null, err
	}
	return fac.NewArray(ctx, kind, n, nullable, buf, buf.Len())
}

func stageValues(buf *wvm.DirectBuffer, col arrow.Array) error {
	var scratch [8]byte
	put := func(b []byte) error {
		_, err := buf.Write(b)
		return err
	}
	n := col.Len()
	switch a := col.(type) {
	case *array.Boolean:
		for i := 0; i < n; i++ {
			scratch[0] = 0
			if !a.IsNull(i) && a.Value(i) {
				scratch[0] = 1
			}
			if err := put(scratch[:1]); err != nil {
				return err
			}
		}
	case *array.Int8:
		for i := 0; i < n; i++ {
			scratch[0] = byte(a.Value(i))
			if err := put(scratch[:1]); err != nil {
				return err
			}
		}
	case *array.Int16:
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(scratch[:], uint16(a.Value(i)))
			if err := put(scratch[:2]); err != nil {
				return err
			}
		}
	case *array.Int32:
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(scratch[:], uint32(a.Value(i)))
			if err := put(scratch[:4]); err != nil {
				return err
			}
		}
	case *array.Int64:
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint64(scratch[:], uint64(a.Value(i)))
			if err := put(scratch[:8]); err != nil {
				return err
			}
		}
	case *array.Float32:
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(a.Value(i)))
			if err := put(scratch[:4]); err != nil {
				return err
			}
		}
	case *array.Float64:
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint64(scratch[:], math.Float64bits(a.Value(i)))
			if err := put(scratch[:8]); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported column type %s", col.DataType().Name())
	}
	return nil
}

func stageStrings(ctx context.Context, fac *box.Facility, a *array.String) (wudf.Ref, error) {
	refs := make([]wudf.Ref, a.Len())
	for i := range refs {
		if a.IsNull(i) {
			continue
		}
		ref, err := fac.NewString(ctx, a.Value(i))
		if err != nil {
			return wudf.Null, err
		}
		refs[i] = ref
	}
	return fac.NewRefArray(ctx, refs)
}
