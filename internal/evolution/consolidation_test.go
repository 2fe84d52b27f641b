package evolution_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwick/engram/internal/evolution"
	"github.com/fenwick/engram/internal/ports"
	"github.com/fenwick/engram/internal/storage"
	"github.com/fenwick/engram/internal/storage/sqlite"
	"github.com/fenwick/engram/pkg/types"
)

func TestRunConsolidation_MergesNearDuplicateCluster(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	a, err := s.Create(ctx, types.Draft{Content: "use postgres for storage", Namespace: "ns1", Keywords: []string{"postgres", "storage", "database"}})
	require.NoError(t, err)
	b, err := s.Create(ctx, types.Draft{Content: "postgres chosen as storage backend", Namespace: "ns1", Keywords: []string{"postgres", "storage", "backend"}})
	require.NoError(t, err)

	require.NoError(t, s.PutVector(ctx, a.ID, []float32{1, 0, 0}, "test-model"))
	require.NoError(t, s.PutVector(ctx, b.ID, []float32{1, 0, 0}, "test-model"))

	enricher := &ports.FakeEnricher{
		Decisions: []ports.ConsolidationDecision{
			{Action: ports.ConsolidationMerge, Reason: "same decision restated"},
		},
	}

	batch := []*types.Memory{a, b}
	clusters, err := evolution.RunConsolidation(ctx, s, enricher, "ns1", batch, evolution.ConsolidationThresholds{Cosine: 0.92, Jaccard: 0.4})
	require.NoError(t, err)
	assert.Equal(t, 1, clusters)

	gotA, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, types.MemoryStateSuperseded, gotA.State())
	assert.True(t, gotA.IsArchived, "a merged-away member reads back as archived")
	gotB, err := s.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, types.MemoryStateSuperseded, gotB.State())
	assert.True(t, gotB.IsArchived, "a merged-away member reads back as archived")

	entries, err := s.Audit(ctx, storage.AuditFilter{Operation: types.AuditConsolidate})
	require.NoError(t, err)
	require.Len(t, entries, 1, "one consolidate row per resolved cluster")
	assert.Equal(t, "merge", entries[0].Metadata["decision"])
}

func TestRunConsolidation_KeepBothLinksInstead(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	a, err := s.Create(ctx, types.Draft{Content: "note one", Namespace: "ns1", Keywords: []string{"x", "y"}})
	require.NoError(t, err)
	b, err := s.Create(ctx, types.Draft{Content: "note two", Namespace: "ns1", Keywords: []string{"x", "y"}})
	require.NoError(t, err)

	require.NoError(t, s.PutVector(ctx, a.ID, []float32{1, 0, 0}, "test-model"))
	require.NoError(t, s.PutVector(ctx, b.ID, []float32{1, 0, 0}, "test-model"))

	enricher := &ports.FakeEnricher{
		Decisions: []ports.ConsolidationDecision{
			{Action: ports.ConsolidationKeepBoth, Reason: "related but distinct"},
		},
	}

	batch := []*types.Memory{a, b}
	clusters, err := evolution.RunConsolidation(ctx, s, enricher, "ns1", batch, evolution.ConsolidationThresholds{Cosine: 0.92, Jaccard: 0.4})
	require.NoError(t, err)
	assert.Equal(t, 1, clusters)

	gotA, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, types.MemoryStateActive, gotA.State(), "keep-both must not supersede either memory")

	link, err := s.GetLink(ctx, a.ID, b.ID, types.LinkReferences)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, link.Strength, 0.001)

	entries, err := s.Audit(ctx, storage.AuditFilter{Operation: types.AuditConsolidate})
	require.NoError(t, err)
	require.Len(t, entries, 1, "one consolidate row per resolved cluster")
	assert.Equal(t, "keep_both", entries[0].Metadata["decision"])
}

func TestRunConsolidation_DissimilarMemoriesFormNoCluster(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	a, err := s.Create(ctx, types.Draft{Content: "about databases", Namespace: "ns1", Keywords: []string{"db"}})
	require.NoError(t, err)
	b, err := s.Create(ctx, types.Draft{Content: "about frontend styling", Namespace: "ns1", Keywords: []string{"css"}})
	require.NoError(t, err)

	require.NoError(t, s.PutVector(ctx, a.ID, []float32{1, 0, 0}, "test-model"))
	require.NoError(t, s.PutVector(ctx, b.ID, []float32{0, 1, 0}, "test-model"))

	enricher := &ports.FakeEnricher{}
	batch := []*types.Memory{a, b}
	clusters, err := evolution.RunConsolidation(ctx, s, enricher, "ns1", batch, evolution.ConsolidationThresholds{Cosine: 0.92, Jaccard: 0.4})
	require.NoError(t, err)
	assert.Equal(t, 0, clusters)
}
