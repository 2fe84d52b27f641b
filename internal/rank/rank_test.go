package rank_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwick/engram/internal/config"
	"github.com/fenwick/engram/internal/rank"
	"github.com/fenwick/engram/internal/storage/sqlite"
	"github.com/fenwick/engram/pkg/types"
)

func testConfig() *config.RetrievalConfig {
	return &config.RetrievalConfig{
		WeightVector:   0.7,
		WeightKeyword:  0.2,
		WeightGraph:    0.1,
		SeedSize:       20,
		GraphDepth:     2,
		GraphThreshold: 0,
	}
}

func TestRank_KeywordOnly_NoVectorRenormalizes(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	mem, err := s.Create(ctx, types.Draft{Content: "the quick brown fox jumps"})
	require.NoError(t, err)

	hits, err := rank.Rank(ctx, s, testConfig(), rank.Query{Text: "quick fox"})
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	var found *rank.Hit
	for i := range hits {
		if hits[i].MemoryID == mem.ID {
			found = &hits[i]
		}
	}
	require.NotNil(t, found)
	assert.Zero(t, found.Components.Vector)
	assert.Greater(t, found.Components.Keyword, 0.0)
	// With no vector supplied, w_v must drop to zero; the whole fused score
	// comes from keyword+graph.
	assert.InDelta(t, found.Score, 0.8*found.Components.Keyword+0.2*found.Components.Graph, 0.0001)
}

func TestRank_GraphChannelSeededFromKeywordTopResults(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	a, err := s.Create(ctx, types.Draft{Content: "database migration pattern"})
	require.NoError(t, err)
	b, err := s.Create(ctx, types.Draft{Content: "unrelated follow-up note"})
	require.NoError(t, err)

	_, err = s.Link(ctx, a.ID, b.ID, types.LinkExtends, 0.9, "", true)
	require.NoError(t, err)

	hits, err := rank.Rank(ctx, s, testConfig(), rank.Query{Text: "database migration"})
	require.NoError(t, err)

	var bHit *rank.Hit
	for i := range hits {
		if hits[i].MemoryID == b.ID {
			bHit = &hits[i]
		}
	}
	require.NotNil(t, bHit, "graph-only neighbor should surface via graph channel")
	assert.Greater(t, bHit.Components.Graph, 0.0)
}

func TestRank_SortedDescendingByScore(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	_, err = s.Create(ctx, types.Draft{Content: "alpha beta gamma"})
	require.NoError(t, err)
	_, err = s.Create(ctx, types.Draft{Content: "alpha beta gamma alpha beta"})
	require.NoError(t, err)

	hits, err := rank.Rank(ctx, s, testConfig(), rank.Query{Text: "alpha beta"})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(hits), 2)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestRank_ExcludesArchivedUnlessIncluded(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	mem, err := s.Create(ctx, types.Draft{Content: "archived widget configuration notes"})
	require.NoError(t, err)
	require.NoError(t, s.Archive(ctx, mem.ID))

	hits, err := rank.Rank(ctx, s, testConfig(), rank.Query{Text: "widget configuration"})
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, mem.ID, h.MemoryID)
	}

	hits, err = rank.Rank(ctx, s, testConfig(), rank.Query{Text: "widget configuration", IncludeArchived: true})
	require.NoError(t, err)
	var found bool
	for _, h := range hits {
		if h.MemoryID == mem.ID {
			found = true
		}
	}
	assert.True(t, found, "IncludeArchived should surface the archived memory")
}

func TestRank_MinImportanceDropsLowScoringHits(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	low, err := s.Create(ctx, types.Draft{Content: "low importance widget note", Importance: 2})
	require.NoError(t, err)
	high, err := s.Create(ctx, types.Draft{Content: "high importance widget decision", Importance: 9})
	require.NoError(t, err)

	hits, err := rank.Rank(ctx, s, testConfig(), rank.Query{Text: "widget", MinImportance: 5})
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, low.ID, h.MemoryID)
	}
	var found bool
	for _, h := range hits {
		if h.MemoryID == high.ID {
			found = true
		}
	}
	assert.True(t, found)
}
