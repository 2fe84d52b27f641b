package graph_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwick/engram/internal/graph"
	"github.com/fenwick/engram/internal/storage"
	"github.com/fenwick/engram/internal/storage/sqlite"
	"github.com/fenwick/engram/pkg/types"
)

func seedMemory(t *testing.T, s *sqlite.Store, content string) string {
	t.Helper()
	mem, err := s.Create(context.Background(), types.Draft{Content: content})
	require.NoError(t, err)
	return mem.ID
}

func TestWalk_PrefersHigherProductPathOverShorterWeakerOne(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	a := seedMemory(t, s, "a")
	b := seedMemory(t, s, "b")
	c := seedMemory(t, s, "c")

	// a -> c direct, weak (0.2)
	_, err = s.Link(ctx, a, c, types.LinkReferences, 0.2, "direct", true)
	require.NoError(t, err)
	// a -> b -> c via two strong links (0.9 * 0.9 = 0.81)
	_, err = s.Link(ctx, a, b, types.LinkExtends, 0.9, "via-b-1", true)
	require.NoError(t, err)
	_, err = s.Link(ctx, b, c, types.LinkExtends, 0.9, "via-b-2", true)
	require.NoError(t, err)

	bounds := storage.GraphBounds{MaxHops: 3, MaxNodes: 100, MaxEdges: 100, MinStrength: 0}
	hits, err := graph.Walk(ctx, s, []string{a}, bounds)
	require.NoError(t, err)

	var cScore float64
	for _, h := range hits {
		if h.MemoryID == c {
			cScore = h.GraphScore
		}
	}
	assert.InDelta(t, 0.81, cScore, 0.001)
}

func TestWalk_RespectsMaxHops(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	a := seedMemory(t, s, "a")
	b := seedMemory(t, s, "b")
	c := seedMemory(t, s, "c")

	_, err = s.Link(ctx, a, b, types.LinkExtends, 0.8, "", true)
	require.NoError(t, err)
	_, err = s.Link(ctx, b, c, types.LinkExtends, 0.8, "", true)
	require.NoError(t, err)

	bounds := storage.GraphBounds{MaxHops: 1, MaxNodes: 100, MaxEdges: 100}
	hits, err := graph.Walk(ctx, s, []string{a}, bounds)
	require.NoError(t, err)

	found := map[string]bool{}
	for _, h := range hits {
		found[h.MemoryID] = true
	}
	assert.True(t, found[b])
	assert.False(t, found[c])
}

func TestWalk_RecordsTraversalOnLinksUsed(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	a := seedMemory(t, s, "a")
	b := seedMemory(t, s, "b")
	_, err = s.Link(ctx, a, b, types.LinkExtends, 0.8, "", true)
	require.NoError(t, err)

	bounds := storage.GraphBounds{MaxHops: 2, MaxNodes: 100, MaxEdges: 100}
	_, err = graph.Walk(ctx, s, []string{a}, bounds)
	require.NoError(t, err)

	link, err := s.GetLink(ctx, a, b, types.LinkExtends)
	require.NoError(t, err)
	assert.Equal(t, 1, link.TraversalCount)
	assert.False(t, link.LastTraversedAt.IsZero())
}

func TestWalk_TraversesSelfLinkAtMostOncePerRun(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	a := seedMemory(t, s, "a")
	_, err = s.Link(ctx, a, a, types.LinkReferences, 0.9, "self-citation", true)
	require.NoError(t, err)

	bounds := storage.GraphBounds{MaxHops: 3, MaxNodes: 100, MaxEdges: 100}
	hits, err := graph.Walk(ctx, s, []string{a}, bounds)
	require.NoError(t, err)

	var aHit *storage.GraphHit
	for i := range hits {
		if hits[i].MemoryID == a {
			aHit = &hits[i]
		}
	}
	require.NotNil(t, aHit)
	// Seed score (1.0) beats the self-link product (0.9), so the seed entry
	// wins; the self-link is still only traversed once, not looped forever.
	assert.InDelta(t, 1.0, aHit.GraphScore, 0.0001)

	link, err := s.GetLink(ctx, a, a, types.LinkReferences)
	require.NoError(t, err)
	assert.Equal(t, 1, link.TraversalCount)
}
