package audit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwick/engram/internal/audit"
	"github.com/fenwick/engram/internal/storage/sqlite"
	"github.com/fenwick/engram/pkg/types"
)

func TestTrail_ForMemory_ReturnsCreateAndUpdateRows(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	mem, err := s.Create(ctx, types.Draft{Content: "original"})
	require.NoError(t, err)

	newContent := "revised"
	_, err = s.Update(ctx, mem.ID, types.Patch{Content: &newContent, ModifiedBy: "agent-1"})
	require.NoError(t, err)

	trail := audit.NewTrail(s)
	entries, err := trail.ForMemory(ctx, mem.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, types.AuditUpdate, entries[0].Operation, "newest first")
	assert.Equal(t, types.AuditCreate, entries[1].Operation)
}

func TestTrail_ByAgentRole_FiltersModificationLog(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	mem, err := s.Create(ctx, types.Draft{Content: "original"})
	require.NoError(t, err)

	newContent := "revised by agent-2"
	_, err = s.Update(ctx, mem.ID, types.Patch{Content: &newContent, ModifiedBy: "agent-2"})
	require.NoError(t, err)

	trail := audit.NewTrail(s)
	mods, err := trail.ByAgentRole(ctx, "agent-2", 10)
	require.NoError(t, err)
	require.Len(t, mods, 1)
	assert.Equal(t, mem.ID, mods[0].MemoryID)
}

func TestTrail_History_MergesAndOrdersChronologically(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	mem, err := s.Create(ctx, types.Draft{Content: "original"})
	require.NoError(t, err)

	newContent := "revised"
	_, err = s.Update(ctx, mem.ID, types.Patch{Content: &newContent, ModifiedBy: "agent-1"})
	require.NoError(t, err)

	trail := audit.NewTrail(s)
	events, err := trail.History(ctx, mem.ID)
	require.NoError(t, err)
	require.Len(t, events, 3, "one create audit row plus one update audit row plus one modification row")
	assert.Equal(t, types.AuditCreate, events[0].Operation, "oldest first")
	assert.Equal(t, audit.EventAudit, events[0].Kind)
	for _, e := range events[1:] {
		assert.False(t, e.Timestamp.Before(events[0].Timestamp))
	}
}
