package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwick/engram/internal/policy"
	"github.com/fenwick/engram/pkg/types"
)

func TestFilter_EmptyRolePassesEverythingThrough(t *testing.T) {
	memories := []types.Memory{
		{ID: "a", VisibleTo: []string{"planner"}},
		{ID: "b"},
	}
	out := policy.Filter("", memories)
	assert.Len(t, out, 2)
}

func TestFilter_DropsMemoriesNotVisibleToRole(t *testing.T) {
	memories := []types.Memory{
		{ID: "a", VisibleTo: []string{"planner"}},
		{ID: "b", VisibleTo: []string{"coder"}},
		{ID: "c"}, // no visible_to set, visible to everyone
	}
	out := policy.Filter("planner", memories)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "c", out[1].ID)
}

func TestCoAccessRecorder_CountsOnlyWithinRankThreshold(t *testing.T) {
	r := policy.NewCoAccessRecorder(2)
	r.Record([]string{"a", "b", "c"})
	assert.Equal(t, 1, r.Count("a", "b"))
	assert.Equal(t, 0, r.Count("a", "c"), "c ranks outside the threshold")
	assert.Equal(t, 0, r.Count("b", "c"))
}

func TestCoAccessRecorder_CountIsOrderIndependent(t *testing.T) {
	r := policy.NewCoAccessRecorder(5)
	r.Record([]string{"x", "y"})
	assert.Equal(t, r.Count("x", "y"), r.Count("y", "x"))
}

func TestCoAccessRecorder_AccumulatesAcrossCalls(t *testing.T) {
	r := policy.NewCoAccessRecorder(5)
	r.Record([]string{"a", "b"})
	r.Record([]string{"b", "a"})
	assert.Equal(t, 2, r.Count("a", "b"))
}

func TestCoAccessRecorder_TopPairsOrdering(t *testing.T) {
	r := policy.NewCoAccessRecorder(5)
	r.Record([]string{"a", "b"})
	r.Record([]string{"a", "b"})
	r.Record([]string{"c", "d"})

	top := r.TopPairs(1)
	require.Len(t, top, 1)
	assert.Equal(t, 2, top[0].Count)
}

func TestCoAccessRecorder_SnapshotRoundTrip(t *testing.T) {
	r := policy.NewCoAccessRecorder(5)
	r.Record([]string{"a", "b"})
	r.Record([]string{"c", "d"})

	snap, err := r.Snapshot()
	require.NoError(t, err)

	restored := policy.NewCoAccessRecorder(5)
	require.NoError(t, restored.Load(snap))
	assert.Equal(t, 1, restored.Count("a", "b"))
	assert.Equal(t, 1, restored.Count("c", "d"))
}
