package transfer_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwick/engram/internal/storage/sqlite"
	"github.com/fenwick/engram/internal/transfer"
	"github.com/fenwick/engram/pkg/types"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestExport_IncludesArchivedAndSupersededMemories(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	active, err := s.Create(ctx, types.Draft{Content: "active one", Namespace: "proj"})
	require.NoError(t, err)
	archived, err := s.Create(ctx, types.Draft{Content: "archived one", Namespace: "proj"})
	require.NoError(t, err)
	require.NoError(t, s.Archive(ctx, archived.ID))
	old, err := s.Create(ctx, types.Draft{Content: "v1", Namespace: "proj"})
	require.NoError(t, err)
	next, err := s.Create(ctx, types.Draft{Content: "v2", Namespace: "proj"})
	require.NoError(t, err)
	require.NoError(t, s.Supersede(ctx, old.ID, next.ID))

	bundle, err := transfer.Export(ctx, s, "proj")
	require.NoError(t, err)

	ids := make(map[string]types.Memory, len(bundle.Memories))
	for _, m := range bundle.Memories {
		ids[m.ID] = m
	}
	assert.Len(t, bundle.Memories, 4)
	assert.False(t, ids[active.ID].IsArchived)
	assert.True(t, ids[archived.ID].IsArchived)
	assert.Equal(t, next.ID, ids[old.ID].SupersededBy)

	var supersedesLinks int
	for _, l := range bundle.Links {
		if l.Type == types.LinkSupersedes {
			supersedesLinks++
			assert.Equal(t, next.ID, l.Source)
			assert.Equal(t, old.ID, l.Target)
		}
	}
	assert.Equal(t, 1, supersedesLinks)
}

func TestExportImportRoundTrip_PreservesContentTagsLinksAndLifecycle(t *testing.T) {
	src := newTestStore(t)
	ctx := context.Background()

	a, err := src.Create(ctx, types.Draft{
		Content:    "JWT refresh expiry is 14 days",
		Namespace:  "proj",
		Tags:       []string{"auth", "decision"},
		Keywords:   []string{"jwt"},
		Importance: 8,
		MemoryType: types.MemoryTypeArchitectureDecision,
	})
	require.NoError(t, err)
	b, err := src.Create(ctx, types.Draft{Content: "session storage uses redis", Namespace: "proj"})
	require.NoError(t, err)
	require.NoError(t, src.Archive(ctx, b.ID))

	_, err = src.Link(ctx, a.ID, b.ID, types.LinkReferences, 0.7, "both touch session handling", true)
	require.NoError(t, err)
	require.NoError(t, src.PutVector(ctx, a.ID, []float32{0.1, 0.2, 0.3}, "test-model"))

	bundle, err := transfer.Export(ctx, src, "proj")
	require.NoError(t, err)

	dst := newTestStore(t)
	idMap, err := transfer.Import(ctx, dst, bundle)
	require.NoError(t, err)
	require.Len(t, idMap, 2)

	newA, err := dst.Get(ctx, idMap[a.ID])
	require.NoError(t, err)
	assert.Equal(t, a.Content, newA.Content)
	assert.ElementsMatch(t, a.Tags, newA.Tags)
	assert.ElementsMatch(t, a.Keywords, newA.Keywords)
	assert.Equal(t, a.Importance, newA.Importance)
	assert.Equal(t, a.MemoryType, newA.MemoryType)

	newB, err := dst.Get(ctx, idMap[b.ID])
	require.NoError(t, err)
	assert.True(t, newB.IsArchived)

	link, err := dst.GetLink(ctx, idMap[a.ID], idMap[b.ID], types.LinkReferences)
	require.NoError(t, err)
	assert.Equal(t, 0.7, link.Strength)

	vectors, err := dst.VectorsForIDs(ctx, []string{idMap[a.ID]})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vectors[idMap[a.ID]])
}

func TestWriteText_ProducesOneSectionPerMemory(t *testing.T) {
	bundle := transfer.Bundle{
		Memories: []types.Memory{
			{ID: "m1", Content: "first"},
			{ID: "m2", Content: "second"},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, transfer.WriteText(&buf, bundle))

	out := buf.String()
	assert.Contains(t, out, "id: m1")
	assert.Contains(t, out, "id: m2")
	assert.Contains(t, out, "first")
	assert.Contains(t, out, "second")
	assert.Contains(t, out, "\n---\n")
}

func TestWriteJSON_RoundTripsThroughReadJSON(t *testing.T) {
	bundle := transfer.Bundle{
		Memories: []types.Memory{{ID: "m1", Content: "hello", Namespace: "proj"}},
		Links:    []types.Link{{Source: "m1", Target: "m2", Type: types.LinkExtends, Strength: 0.5}},
	}
	var buf bytes.Buffer
	require.NoError(t, transfer.WriteJSON(&buf, bundle))

	got, err := transfer.ReadJSON(&buf)
	require.NoError(t, err)
	assert.Equal(t, bundle, got)
}
