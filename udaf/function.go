package udaf

import (
	"context"
	"fmt"

	"github.com/colbridge/wudf"
	"github.com/colbridge/wudf/box"
	"github.com/colbridge/wudf/telemetry"
	"github.com/colbridge/wudf/wvm"
)

// Function drives the aggregate lifecycle against one registration:
//
//	Create -> (Update | Merge)* -> Finalize/Serialize* -> Destroy
//
// Every state handle Create returns must eventually reach Destroy; the
// owning operator tracks outstanding states, not the bridge.  Calling any
// other operation on a state before Create or after Destroy is a contract
// violation in the calling operator and is not recovered here.  Operations
// on one state must be issued by one logical owner at a time, though
// sequential states on one worker may share the context's buffer.
type Function struct {
	c *Context
}

func (f *Function) invoke(ctx context.Context, method string, m boundMethod, words ...uint64) ([]uint64, error) {
	telemetry.Invocations.WithLabelValues("udaf", method).Inc()
	out, err := m.fn.Call(ctx, words...)
	if err != nil {
		telemetry.InvocationErrors.WithLabelValues("udaf", method).Inc()
		return nil, box.InvocationError(f.c.class.Name()+"."+method, err)
	}
	return out, nil
}

// Create constructs a fresh aggregate state and returns its handle.
func (f *Function) Create(ctx context.Context) (wudf.Ref, error) {
	out, err := f.invoke(ctx, createMethod, f.c.methods.create, uint64(f.c.instance))
	if err != nil {
		return wudf.Null, err
	}
	if len(out) != 1 || wudf.Ref(out[0]).IsNull() {
		return wudf.Null, fmt.Errorf("udaf %q: create returned null state: %w", f.c.class.Name(), wudf.ErrInvocation)
	}
	return wudf.Ref(out[0]), nil
}

// Destroy releases a state.  The handle is dead afterward.
func (f *Function) Destroy(ctx context.Context, state wudf.Ref) error {
	_, err := f.invoke(ctx, destroyMethod, f.c.methods.destroy, uint64(f.c.instance), uint64(state))
	return err
}

// Update pushes one row's pre-marshaled argument vector into state.
func (f *Function) Update(ctx context.Context, state wudf.Ref, args []wudf.Value) error {
	want := f.c.methods.update.desc.UserArgs()
	if len(args) != len(want) {
		return fmt.Errorf("udaf %q: update takes %d arguments, got %d", f.c.class.Name(), len(want), len(args))
	}
	words := make([]uint64, 0, len(args)+2)
	words = append(words, uint64(f.c.instance), uint64(state))
	for _, a := range args {
		words = append(words, box.StackWord(a))
	}
	_, err := f.invoke(ctx, updateMethod, f.c.methods.update, words...)
	return err
}

// Merge combines a serialized partial aggregate, staged in buf, into state.
func (f *Function) Merge(ctx context.Context, state wudf.Ref, buf *wvm.DirectBuffer) error {
	bufRef, err := f.c.facility.NewBufferRef(ctx, buf)
	if err != nil {
		return err
	}
	defer f.c.facility.Free(ctx, bufRef)
	_, err = f.invoke(ctx, mergeMethod, f.c.methods.merge, uint64(f.c.instance), uint64(state), uint64(bufRef))
	return err
}

// SerializeSize reports the number of bytes Serialize will write for state,
// so the caller can size the buffer first.
func (f *Function) SerializeSize(ctx context.Context, state wudf.Ref) (int, error) {
	out, err := f.invoke(ctx, serializeSizeMethod, f.c.methods.serializeSize, uint64(f.c.instance), uint64(state))
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("udaf %q: serialize_size returned %d values, want 1", f.c.class.Name(), len(out))
	}
	return int(int32(out[0])), nil
}

// Serialize writes state's partial aggregate into buf.  Pair it with
// SerializeSize; the guest never writes more than that report.
func (f *Function) Serialize(ctx context.Context, state wudf.Ref, buf *wvm.DirectBuffer) error {
	bufRef, err := f.c.facility.NewBufferRef(ctx, buf)
	if err != nil {
		return err
	}
	defer f.c.facility.Free(ctx, bufRef)
	_, err = f.invoke(ctx, serializeMethod, f.c.methods.serialize, uint64(f.c.instance), uint64(state), uint64(bufRef))
	return err
}

// Finalize produces the final output value for state.  Repeated calls are
// permitted and idempotent while the state is live.
func (f *Function) Finalize(ctx context.Context, state wudf.Ref) (wudf.Value, error) {
	out, err := f.invoke(ctx, finalizeMethod, f.c.methods.finalize, uint64(f.c.instance), uint64(state))
	if err != nil {
		return wudf.Value{}, err
	}
	d := f.c.methods.finalize.desc
	if d.Ret.Kind == wudf.KindVoid {
		return wudf.VoidValue, nil
	}
	if len(out) != 1 {
		return wudf.Value{}, fmt.Errorf("udaf %q: finalize returned %d values, want 1", f.c.class.Name(), len(out))
	}
	return box.ValueFromStack(d.Ret, out[0]), nil
}

func (f *Function) windowMethod(method string, m boundMethod) (boundMethod, error) {
	if m.desc == nil {
		return boundMethod{}, fmt.Errorf("udaf %q does not declare %s: %w", f.c.class.Name(), method, wudf.ErrMethodNotFound)
	}
	return m, nil
}

// Reset rewinds state to empty without destroying the handle, so window
// execution can reuse it across frames.
func (f *Function) Reset(ctx context.Context, state wudf.Ref) error {
	m, err := f.windowMethod(resetMethod, f.c.methods.reset)
	if err != nil {
		return err
	}
	_, err = f.invoke(ctx, resetMethod, m, uint64(f.c.instance), uint64(state))
	return err
}

// GetValues materializes the buffered per-row inputs for rows [start, end)
// and returns a handle to the materialized slice.
func (f *Function) GetValues(ctx context.Context, state wudf.Ref, start, end int) (wudf.Ref, error) {
	m, err := f.windowMethod(getValuesMethod, f.c.methods.getValues)
	if err != nil {
		return wudf.Null, err
	}
	out, err := f.invoke(ctx, getValuesMethod, m, uint64(f.c.instance), uint64(state),
		uint64(uint32(int32(start))), uint64(uint32(int32(end))))
	if err != nil {
		return wudf.Null, err
	}
	if len(out) != 1 {
		return wudf.Null, fmt.Errorf("udaf %q: get_values returned %d values, want 1", f.c.class.Name(), len(out))
	}
	return wudf.Ref(out[0]), nil
}

// WindowUpdateBatch applies a windowed update with an explicit frame
// description.  Frame boundaries are passed to the guest exactly as given,
// without reordering or deduplication: when frameStart advances past rows a
// previous call admitted, it is the guest aggregate's job to retract them,
// and the bridge must not mask that movement.  cols holds one boxed column
// array per update argument.
func (f *Function) WindowUpdateBatch(ctx context.Context, state wudf.Ref,
	peerGroupStart, peerGroupEnd, frameStart, frameEnd int64, cols []wudf.Ref) error {
	m, err := f.windowMethod(windowUpdateMethod, f.c.methods.windowUpdate)
	if err != nil {
		return err
	}
	colsRef, err := f.c.facility.NewRefArray(ctx, cols)
	if err != nil {
		return err
	}
	defer f.c.facility.Free(ctx, colsRef)
	_, err = f.invoke(ctx, windowUpdateMethod, m,
		uint64(f.c.instance), uint64(state),
		uint64(peerGroupStart), uint64(peerGroupEnd),
		uint64(frameStart), uint64(frameEnd),
		uint64(colsRef))
	return err
}
