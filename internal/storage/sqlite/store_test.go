package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwick/engram/internal/engramerr"
	"github.com/fenwick/engram/internal/storage"
	"github.com/fenwick/engram/internal/storage/sqlite"
	"github.com/fenwick/engram/pkg/types"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mem, err := s.Create(ctx, types.Draft{
		Content:    "use postgres for the audit trail",
		Namespace:  "proj-a",
		MemoryType: types.MemoryTypeArchitectureDecision,
		Importance: 7,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, mem.ID)
	assert.Equal(t, 7, mem.Importance)
	assert.Equal(t, "use postgres for the audit trail", mem.Summary)

	got, err := s.Get(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, mem.Content, got.Content)
	assert.Equal(t, types.MemoryStateActive, got.State())
}

func TestCreate_DefaultsMemoryTypeAndImportance(t *testing.T) {
	s := newTestStore(t)
	mem, err := s.Create(context.Background(), types.Draft{Content: "freeform note"})
	require.NoError(t, err)
	assert.Equal(t, types.MemoryTypeReference, mem.MemoryType)
	assert.Equal(t, 5, mem.Importance)
}

func TestCreate_RejectsEmptyContent(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(context.Background(), types.Draft{Content: "   "})
	assert.ErrorIs(t, err, engramerr.InvariantViolation)
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, engramerr.NotFound)
}

func TestUpdate_PartialPatchLeavesOtherFieldsUnchanged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mem, err := s.Create(ctx, types.Draft{Content: "original", MemoryType: types.MemoryTypeInsight, Importance: 4})
	require.NoError(t, err)

	newContent := "revised"
	updated, err := s.Update(ctx, mem.ID, types.Patch{Content: &newContent, ModifiedBy: "agent-1"})
	require.NoError(t, err)
	assert.Equal(t, "revised", updated.Content)
	assert.Equal(t, 4, updated.Importance)
	assert.Equal(t, types.MemoryTypeInsight, updated.MemoryType)

	mods, err := s.Modifications(ctx, storage.AuditFilter{MemoryID: mem.ID})
	require.NoError(t, err)
	require.Len(t, mods, 1)
	assert.Equal(t, "agent-1", mods[0].AgentRole)
}

func TestArchiveUnarchiveRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mem, err := s.Create(ctx, types.Draft{Content: "about to archive"})
	require.NoError(t, err)

	require.NoError(t, s.Archive(ctx, mem.ID))
	got, err := s.Get(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, types.MemoryStateArchived, got.State())

	require.NoError(t, s.Unarchive(ctx, mem.ID))
	got, err = s.Get(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, types.MemoryStateActive, got.State())
}

func TestSupersede_TerminalStateRejectsFurtherTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old, err := s.Create(ctx, types.Draft{Content: "v1"})
	require.NoError(t, err)
	next, err := s.Create(ctx, types.Draft{Content: "v2"})
	require.NoError(t, err)

	require.NoError(t, s.Supersede(ctx, old.ID, next.ID))
	got, err := s.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, types.MemoryStateSuperseded, got.State())
	assert.True(t, got.IsArchived, "a superseded memory reads back as archived")

	err = s.Archive(ctx, old.ID)
	assert.ErrorIs(t, err, engramerr.InvariantViolation)
}

func TestSupersede_CreatesSupersedesLinkAtFullStrength(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old, err := s.Create(ctx, types.Draft{Content: "v1"})
	require.NoError(t, err)
	next, err := s.Create(ctx, types.Draft{Content: "v2"})
	require.NoError(t, err)

	require.NoError(t, s.Supersede(ctx, old.ID, next.ID))

	link, err := s.GetLink(ctx, next.ID, old.ID, types.LinkSupersedes)
	require.NoError(t, err)
	assert.Equal(t, 1.0, link.Strength)
}

func TestLink_SmoothsStrengthOnRecreate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, _ := s.Create(ctx, types.Draft{Content: "a"})
	b, _ := s.Create(ctx, types.Draft{Content: "b"})

	link, err := s.Link(ctx, a.ID, b.ID, types.LinkExtends, 0.5, "first", false)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, link.Strength, 0.001)

	link2, err := s.Link(ctx, a.ID, b.ID, types.LinkExtends, 0.5, "seen again", false)
	require.NoError(t, err)
	assert.Greater(t, link2.Strength, link.Strength)
}

func TestLink_RejectsSelfLink(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, _ := s.Create(ctx, types.Draft{Content: "a"})
	_, err := s.Link(ctx, a.ID, a.ID, types.LinkExtends, 0.5, "", false)
	assert.ErrorIs(t, err, engramerr.InvariantViolation)
}

func TestLink_AllowsSelfLinkForReferences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, _ := s.Create(ctx, types.Draft{Content: "a"})
	link, err := s.Link(ctx, a.ID, a.ID, types.LinkReferences, 0.5, "self-citation", false)
	require.NoError(t, err)
	assert.Equal(t, a.ID, link.Source)
	assert.Equal(t, a.ID, link.Target)
}

func TestDecayLinks_DeletesBelowFloor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, _ := s.Create(ctx, types.Draft{Content: "a"})
	b, _ := s.Create(ctx, types.Draft{Content: "b"})

	_, err := s.Link(ctx, a.ID, b.ID, types.LinkReferences, 0.15, "weak", false)
	require.NoError(t, err)

	decayed, deleted, err := s.DecayLinks(ctx, time.Now().Add(time.Hour), 0.9, 0.2, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, decayed)
	assert.Equal(t, 1, deleted)

	_, err = s.GetLink(ctx, a.ID, b.ID, types.LinkReferences)
	assert.ErrorIs(t, err, engramerr.NotFound)
}

func TestDecayLinks_SkipsUserCreatedLinks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, _ := s.Create(ctx, types.Draft{Content: "a"})
	b, _ := s.Create(ctx, types.Draft{Content: "b"})

	_, err := s.Link(ctx, a.ID, b.ID, types.LinkReferences, 0.15, "user pinned", true)
	require.NoError(t, err)

	decayed, deleted, err := s.DecayLinks(ctx, time.Now().Add(time.Hour), 0.9, 0.2, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, decayed)
	assert.Equal(t, 0, deleted)
}

func TestFTSSearch_FindsStoredMemory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, types.Draft{Content: "the deployment pipeline uses blue-green rollout", Namespace: "ns1"})
	require.NoError(t, err)

	hits, err := s.FTSSearch(ctx, "ns1", "blue-green", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestVectorKNN_RanksByCosineSimilarity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, _ := s.Create(ctx, types.Draft{Content: "a"})
	b, _ := s.Create(ctx, types.Draft{Content: "b"})

	require.NoError(t, s.PutVector(ctx, a.ID, []float32{1, 0, 0}, "test-model"))
	require.NoError(t, s.PutVector(ctx, b.ID, []float32{0, 1, 0}, "test-model"))

	hits, err := s.VectorKNN(ctx, "", []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, a.ID, hits[0].MemoryID)
}

func TestInitDimension_RejectsMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InitDimension(ctx, 384))
	err := s.InitDimension(ctx, 768)
	assert.ErrorIs(t, err, engramerr.InvariantViolation)
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, ok, err := s.GetCheckpoint(ctx, "evolution")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Checkpoint(ctx, "evolution", "mem-123"))
	value, ok, err := s.GetCheckpoint(ctx, "evolution")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "mem-123", value)
}

func TestActiveMemoryIDs_ExcludesArchivedAndSuperseded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, _ := s.Create(ctx, types.Draft{Content: "active"})
	b, _ := s.Create(ctx, types.Draft{Content: "archived"})
	c, _ := s.Create(ctx, types.Draft{Content: "superseded"})
	d, _ := s.Create(ctx, types.Draft{Content: "replacement"})

	require.NoError(t, s.Archive(ctx, b.ID))
	require.NoError(t, s.Supersede(ctx, c.ID, d.ID))

	ids, err := s.ActiveMemoryIDs(ctx, "", 100, "")
	require.NoError(t, err)
	assert.Contains(t, ids, a.ID)
	assert.Contains(t, ids, d.ID)
	assert.NotContains(t, ids, b.ID)
	assert.NotContains(t, ids, c.ID)
}
