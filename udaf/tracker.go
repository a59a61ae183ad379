package udaf

import (
	"fmt"
	"sync"

	"github.com/colbridge/wudf"
)

// StateTracker records the lifecycle of aggregate state handles for an
// owning operator (or a test harness) that wants lifecycle violations
// surfaced as errors instead of undefined guest behavior.  The bridge
// itself performs no such tracking: operating on an uncreated or destroyed
// state is a defect in the calling operator.
type StateTracker struct {
	mu        sync.Mutex
	active    map[wudf.Ref]struct{}
	destroyed map[wudf.Ref]struct{}
}

func NewStateTracker() *StateTracker {
	return &StateTracker{
		active:    make(map[wudf.Ref]struct{}),
		destroyed: make(map[wudf.Ref]struct{}),
	}
}

// OnCreate records a handle returned by Create.
func (t *StateTracker) OnCreate(state wudf.Ref) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[state] = struct{}{}
	delete(t.destroyed, state)
}

// RequireActive fails unless state has been created and not yet destroyed.
func (t *StateTracker) RequireActive(state wudf.Ref) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[state]; ok {
		return nil
	}
	if _, ok := t.destroyed[state]; ok {
		return fmt.Errorf("state %d used after destroy", state)
	}
	return fmt.Errorf("state %d used before create", state)
}

// OnDestroy records that state was destroyed, failing if it was not active.
func (t *StateTracker) OnDestroy(state wudf.Ref) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[state]; !ok {
		return fmt.Errorf("destroy of state %d that was never active", state)
	}
	delete(t.active, state)
	t.destroyed[state] = struct{}{}
	return nil
}

// Outstanding returns the number of created, undestroyed states.
func (t *StateTracker) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}
