package evolution_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwick/engram/internal/evolution"
	"github.com/fenwick/engram/internal/storage/sqlite"
	"github.com/fenwick/engram/pkg/types"
)

func TestRecalibrateImportance_LowersStaleUnlinkedMemory(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	mem, err := s.Create(ctx, types.Draft{Content: "old note", Importance: 8})
	require.NoError(t, err)

	future := time.Now().Add(400 * 24 * time.Hour) // long past any recency window
	require.NoError(t, evolution.RecalibrateImportance(ctx, s, mem, future))

	updated, err := s.Get(ctx, mem.ID)
	require.NoError(t, err)
	assert.Less(t, updated.Importance, mem.Importance)
}

func TestRecalibrateImportance_NoChangeSkipsWrite(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	mem, err := s.Create(ctx, types.Draft{Content: "fresh note", Importance: 1})
	require.NoError(t, err)

	before, err := s.Get(ctx, mem.ID)
	require.NoError(t, err)

	require.NoError(t, evolution.RecalibrateImportance(ctx, s, mem, mem.CreatedAt))

	after, err := s.Get(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt, "a no-op recalibration should not touch updated_at")
}
