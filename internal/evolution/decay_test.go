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

func TestRunDecay_AppliesFactorOnceAndDeletesBelowFloor(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	a, err := s.Create(ctx, types.Draft{Content: "a"})
	require.NoError(t, err)
	b, err := s.Create(ctx, types.Draft{Content: "b"})
	require.NoError(t, err)

	_, err = s.Link(ctx, a.ID, b.ID, types.LinkReferences, 0.5, "weak", false)
	require.NoError(t, err)

	future := time.Now().Add(40 * 24 * time.Hour)
	decayed, deleted, err := evolution.RunDecay(ctx, s, 30*24*time.Hour, 0.9, 0.1, 100, future)
	require.NoError(t, err)
	assert.Equal(t, 1, decayed)
	assert.Equal(t, 0, deleted)

	link, err := s.GetLink(ctx, a.ID, b.ID, types.LinkReferences)
	require.NoError(t, err)
	assert.InDelta(t, 0.45, link.Strength, 0.001, "strength should be scaled by factor exactly once")
}

func TestRunDecay_LeavesFreshLinksAlone(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	a, err := s.Create(ctx, types.Draft{Content: "a"})
	require.NoError(t, err)
	b, err := s.Create(ctx, types.Draft{Content: "b"})
	require.NoError(t, err)

	_, err = s.Link(ctx, a.ID, b.ID, types.LinkReferences, 0.5, "fresh", false)
	require.NoError(t, err)

	decayed, deleted, err := evolution.RunDecay(ctx, s, 30*24*time.Hour, 0.9, 0.1, 100, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, decayed)
	assert.Equal(t, 0, deleted)
}
