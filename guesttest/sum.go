package guesttest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/colbridge/wudf"
	"github.com/colbridge/wudf/box"
)

// SumManifest declares the reference aggregate: a windowed sum over longs
// whose serialized form is one little-endian int64.
const SumManifest = `class SumAgg
method create ()Lexample/SumState;
method destroy (Lexample/SumState;)V
method update (Lexample/SumState;J)V
method merge (Lexample/SumState;Lstd/Buffer;)V
method serialize (Lexample/SumState;Lstd/Buffer;)V
method serialize_size (Lexample/SumState;)I
method finalize (Lexample/SumState;)Lstd/Long;
method reset (Lexample/SumState;)V
method get_values (Lexample/SumState;II)[Lstd/Long;
method window_update (Lexample/SumState;JJJJ[Lstd/Object;)V
class SumState
`

// PlainSumManifest is SumManifest without the window trio, for aggregates
// that declare only the required method set.
const PlainSumManifest = `class SumAgg
method create ()Lexample/SumState;
method destroy (Lexample/SumState;)V
method update (Lexample/SumState;J)V
method merge (Lexample/SumState;Lstd/Buffer;)V
method serialize (Lexample/SumState;Lstd/Buffer;)V
method serialize_size (Lexample/SumState;)I
method finalize (Lexample/SumState;)Lstd/Long;
class SumState
`

type sumState struct {
	sum        int64
	rows       []int64
	frameStart int64
	frameEnd   int64
	hasFrame   bool
}

// SumGuest records what the Sum guest observed, including every window
// retraction range, so tests can assert retraction happened when a frame's
// start advanced.
type SumGuest struct {
	mu          sync.Mutex
	states      map[wudf.Ref]*sumState
	Retractions [][2]int64
	Admissions  [][2]int64
}

// Live returns the number of created, undestroyed states in the guest.
func (g *SumGuest) Live() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.states)
}

// Sum returns a state's accumulated sum.
func (g *SumGuest) Sum(state wudf.Ref) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.states[state]; ok {
		return st.sum
	}
	return 0
}

func (g *SumGuest) state(ref wudf.Ref) (*sumState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.states[ref]
	if !ok {
		return nil, fmt.Errorf("no such state %d\nguest stack:\n  SumAgg", ref)
	}
	return st, nil
}

// NewSumModule builds the reference aggregate guest.
func NewSumModule() (*Module, *SumGuest) {
	return newSumModule(SumManifest)
}

// NewPlainSumModule builds the reference aggregate guest without the window
// trio declared.
func NewPlainSumModule() (*Module, *SumGuest) {
	return newSumModule(PlainSumManifest)
}

func newSumModule(manifest string) (*Module, *SumGuest) {
	m := NewModule("sum-test", manifest)
	g := &SumGuest{states: make(map[wudf.Ref]*sumState)}
	fac := mustFacility(m)
	m.Register("SumAgg__new", func(context.Context, ...uint64) ([]uint64, error) {
		return []uint64{uint64(m.Alloc(1))}, nil
	})
	m.Register("SumAgg__create", func(context.Context, ...uint64) ([]uint64, error) {
		ref := wudf.Ref(m.Alloc(1))
		g.mu.Lock()
		g.states[ref] = &sumState{}
		g.mu.Unlock()
		return []uint64{uint64(ref)}, nil
	})
	m.Register("SumAgg__destroy", func(_ context.Context, params ...uint64) ([]uint64, error) {
		ref := wudf.Ref(uint32(params[1]))
		g.mu.Lock()
		defer g.mu.Unlock()
		if _, ok := g.states[ref]; !ok {
			return nil, errors.New("destroy of unknown state")
		}
		delete(g.states, ref)
		return nil, nil
	})
	m.Register("SumAgg__update", func(_ context.Context, params ...uint64) ([]uint64, error) {
		st, err := g.state(wudf.Ref(uint32(params[1])))
		if err != nil {
			return nil, err
		}
		v := int64(params[2])
		st.sum += v
		st.rows = append(st.rows, v)
		return nil, nil
	})
	m.Register("SumAgg__merge", func(_ context.Context, params ...uint64) ([]uint64, error) {
		st, err := g.state(wudf.Ref(uint32(params[1])))
		if err != nil {
			return nil, err
		}
		region, err := bufferRegion(m, uint32(params[2]), 8)
		if err != nil {
			return nil, err
		}
		st.sum += int64(binary.LittleEndian.Uint64(region))
		return nil, nil
	})
	m.Register("SumAgg__serialize", func(_ context.Context, params ...uint64) ([]uint64, error) {
		st, err := g.state(wudf.Ref(uint32(params[1])))
		if err != nil {
			return nil, err
		}
		region, err := bufferRegion(m, uint32(params[2]), 8)
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint64(region, uint64(st.sum))
		return nil, nil
	})
	m.Register("SumAgg__serialize_size", func(_ context.Context, params ...uint64) ([]uint64, error) {
		if _, err := g.state(wudf.Ref(uint32(params[1]))); err != nil {
			return nil, err
		}
		return []uint64{8}, nil
	})
	m.Register("SumAgg__finalize", func(ctx context.Context, params ...uint64) ([]uint64, error) {
		st, err := g.state(wudf.Ref(uint32(params[1])))
		if err != nil {
			return nil, err
		}
		ref, err := fac.NewBoxedLong(ctx, st.sum)
		if err != nil {
			return nil, err
		}
		return []uint64{uint64(ref)}, nil
	})
	m.Register("SumAgg__reset", func(_ context.Context, params ...uint64) ([]uint64, error) {
		st, err := g.state(wudf.Ref(uint32(params[1])))
		if err != nil {
			return nil, err
		}
		*st = sumState{}
		return nil, nil
	})
	m.Register("SumAgg__get_values", func(ctx context.Context, params ...uint64) ([]uint64, error) {
		st, err := g.state(wudf.Ref(uint32(params[1])))
		if err != nil {
			return nil, err
		}
		start, end := int(int32(params[2])), int(int32(params[3]))
		if start < 0 || end < start || end > len(st.rows) {
			return nil, fmt.Errorf("get_values range [%d,%d) outside [0,%d)", start, end, len(st.rows))
		}
		refs := make([]wudf.Ref, 0, end-start)
		for _, v := range st.rows[start:end] {
			ref, err := fac.NewBoxedLong(ctx, v)
			if err != nil {
				return nil, err
			}
			refs = append(refs, ref)
		}
		out, err := fac.NewRefArray(ctx, refs)
		if err != nil {
			return nil, err
		}
		return []uint64{uint64(out)}, nil
	})
	m.Register("SumAgg__window_update", func(ctx context.Context, params ...uint64) ([]uint64, error) {
		st, err := g.state(wudf.Ref(uint32(params[1])))
		if err != nil {
			return nil, err
		}
		frameStart, frameEnd := int64(params[4]), int64(params[5])
		col, err := windowColumn(fac, wudf.Ref(uint32(params[6])))
		if err != nil {
			return nil, err
		}
		admitFrom := frameStart
		if st.hasFrame {
			if frameStart > st.frameStart {
				hi := min(frameStart, st.frameEnd)
				for i := st.frameStart; i < hi; i++ {
					st.sum -= col[i]
				}
				g.mu.Lock()
				g.Retractions = append(g.Retractions, [2]int64{st.frameStart, hi})
				g.mu.Unlock()
			}
			admitFrom = max(frameStart, st.frameEnd)
		}
		for i := admitFrom; i < frameEnd; i++ {
			st.sum += col[i]
		}
		g.mu.Lock()
		g.Admissions = append(g.Admissions, [2]int64{admitFrom, frameEnd})
		g.mu.Unlock()
		st.frameStart, st.frameEnd, st.hasFrame = frameStart, frameEnd, true
		return nil, nil
	})
	return m, g
}

// bufferRegion decodes a buffer box and returns the first want bytes of the
// region it describes.
func bufferRegion(m *Module, ref uint32, want int) ([]byte, error) {
	view, ok := m.mem.Read(ref, 13)
	if !ok || view[0] != 0x21 {
		return nil, errors.New("bad buffer box")
	}
	ptr := binary.LittleEndian.Uint32(view[1:])
	capacity := binary.LittleEndian.Uint32(view[5:])
	if int(capacity) < want {
		return nil, fmt.Errorf("buffer capacity %d below %d", capacity, want)
	}
	region, ok := m.mem.Read(ptr, uint32(want))
	if !ok {
		return nil, errors.New("buffer region out of bounds")
	}
	return region, nil
}

// windowColumn reads the first column of a window-update column set as
// longs.
func windowColumn(fac *box.Facility, colsRef wudf.Ref) ([]int64, error) {
	colVal, _, err := fac.ArrayGet(colsRef, 0)
	if err != nil {
		return nil, err
	}
	colRef := colVal.Ref()
	n, err := fac.ArrayLen(colRef)
	if err != nil {
		return nil, err
	}
	col := make([]int64, n)
	for i := range col {
		v, null, err := fac.ArrayGet(colRef, i)
		if err != nil {
			return nil, err
		}
		if !null {
			col[i] = v.Long()
		}
	}
	return col, nil
}
