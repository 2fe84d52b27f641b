package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwick/engram/internal/engine"
	"github.com/fenwick/engram/internal/events"
	"github.com/fenwick/engram/pkg/types"
)

func TestRecall_RanksNewlyCreatedMemoryFirst(t *testing.T) {
	e, cleanup := newTestEngine(t, nil, nil)
	defer cleanup()
	ctx := context.Background()

	mem, err := e.Create(ctx, types.Draft{Content: "Redis for session storage, SameSite=Lax", Namespace: "project:web", Importance: 8, Tags: []string{"decision", "session"}})
	require.NoError(t, err)

	sub := e.Events().Subscribe(4)
	defer sub.Unsubscribe()

	results, err := e.Recall(ctx, "", "project:web", "Redis session", 5, engine.RecallOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, mem.ID, results[0].Memory.ID)
	assert.Equal(t, 8, results[0].Memory.Importance)
	assert.LessOrEqual(t, len(results), 5)

	ev := <-sub.Events
	assert.Equal(t, events.KindMemoryRecalled, ev.Kind)
	assert.Contains(t, ev.HitIDs, mem.ID)
}

func TestRecall_HidesResultsNotVisibleToRole(t *testing.T) {
	e, cleanup := newTestEngine(t, nil, nil)
	defer cleanup()
	ctx := context.Background()

	_, err := e.Create(ctx, types.Draft{Content: "coder-only build note", VisibleTo: []string{"coder"}})
	require.NoError(t, err)

	results, err := e.Recall(ctx, "planner", "", "build note", 5, engine.RecallOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRecall_ExcludesArchivedByDefaultButIncludesWhenRequested(t *testing.T) {
	e, cleanup := newTestEngine(t, nil, nil)
	defer cleanup()
	ctx := context.Background()

	mem, err := e.Create(ctx, types.Draft{Content: "deprecated rate limiter design", Namespace: "project:web"})
	require.NoError(t, err)
	require.NoError(t, e.Archive(ctx, mem.ID))

	results, err := e.Recall(ctx, "", "project:web", "rate limiter design", 5, engine.RecallOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = e.Recall(ctx, "", "project:web", "rate limiter design", 5, engine.RecallOptions{IncludeArchived: true})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, mem.ID, results[0].Memory.ID)
}

func TestRecall_AppliesMinImportanceFloor(t *testing.T) {
	e, cleanup := newTestEngine(t, nil, nil)
	defer cleanup()
	ctx := context.Background()

	_, err := e.Create(ctx, types.Draft{Content: "low importance scratch note about caching", Namespace: "project:web", Importance: 2})
	require.NoError(t, err)
	high, err := e.Create(ctx, types.Draft{Content: "high importance caching decision", Namespace: "project:web", Importance: 9})
	require.NoError(t, err)

	results, err := e.Recall(ctx, "", "project:web", "caching", 5, engine.RecallOptions{MinImportance: 5})
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, high.ID, r.Memory.ID)
	}
	require.NotEmpty(t, results)
}
