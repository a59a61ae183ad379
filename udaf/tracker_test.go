package udaf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colbridge/wudf"
)

func TestStateTracker(t *testing.T) {
	tr := NewStateTracker()
	var s wudf.Ref = 42

	err := tr.RequireActive(s)
	assert.ErrorContains(t, err, "before create")

	tr.OnCreate(s)
	require.NoError(t, tr.RequireActive(s))
	assert.Equal(t, 1, tr.Outstanding())

	require.NoError(t, tr.OnDestroy(s))
	assert.Zero(t, tr.Outstanding())
	err = tr.RequireActive(s)
	assert.ErrorContains(t, err, "after destroy")

	err = tr.OnDestroy(s)
	assert.ErrorContains(t, err, "never active")
}

func TestStateTrackerRecreate(t *testing.T) {
	tr := NewStateTracker()
	var s wudf.Ref = 7
	tr.OnCreate(s)
	require.NoError(t, tr.OnDestroy(s))
	// The guest may hand out the same handle again after a destroy.
	tr.OnCreate(s)
	require.NoError(t, tr.RequireActive(s))
}
