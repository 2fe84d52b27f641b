// Package audit provides read-side access to the append-only audit log and
// the richer per-agent modification log (spec.md §4.9). Store's Create,
// Update, Archive, Unarchive, Supersede, Merge and first-time Link each
// append their own audit row inside the same transaction as the change, and
// Update also appends a modification row; Delete, DeleteLink, DecayLinks and
// the re-strengthening of an existing link write no audit row. This package
// only reads that trail back out, grouped the ways callers need it: by
// memory, by agent role, by time range, or by operation type.
package audit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fenwick/engram/internal/storage"
	"github.com/fenwick/engram/pkg/types"
)

// Trail is a thin query façade over a Store's audit and modification logs.
type Trail struct {
	store storage.Store
}

// NewTrail wraps store for audit/modification-log reads.
func NewTrail(store storage.Store) *Trail {
	return &Trail{store: store}
}

// ForMemory returns every audit row recorded against memoryID, newest first.
func (t *Trail) ForMemory(ctx context.Context, memoryID string, limit int) ([]types.AuditEntry, error) {
	return t.store.Audit(ctx, storage.AuditFilter{MemoryID: memoryID, Limit: limit})
}

// ByOperation returns audit rows of a single operation kind, newest first.
func (t *Trail) ByOperation(ctx context.Context, op types.AuditOperation, limit int) ([]types.AuditEntry, error) {
	return t.store.Audit(ctx, storage.AuditFilter{Operation: op, Limit: limit})
}

// InRange returns audit rows committed within [since, until], newest first.
func (t *Trail) InRange(ctx context.Context, since, until time.Time, limit int) ([]types.AuditEntry, error) {
	return t.store.Audit(ctx, storage.AuditFilter{Since: &since, Until: &until, Limit: limit})
}

// ByAgentRole returns modification-log rows attributed to role, newest first.
func (t *Trail) ByAgentRole(ctx context.Context, role string, limit int) ([]types.ModificationLogEntry, error) {
	return t.store.Modifications(ctx, storage.AuditFilter{AgentRole: role, Limit: limit})
}

// EventKind distinguishes the two log sources merged by History.
type EventKind string

const (
	EventAudit        EventKind = "audit"
	EventModification EventKind = "modification"
)

// HistoryEvent is one entry in a memory's merged audit/modification timeline.
type HistoryEvent struct {
	Kind          EventKind
	Timestamp     time.Time
	Operation     types.AuditOperation
	AgentRole     string                 // set only for EventModification
	Metadata      map[string]interface{} // audit metadata, when present
	ChangePayload map[string]interface{} // modification payload, when present
}

// History merges a memory's audit rows and modification-log rows into a
// single chronological timeline (oldest first), so a caller can see exactly
// what changed and, where known, who changed it, without joining two result
// sets itself.
func (t *Trail) History(ctx context.Context, memoryID string) ([]HistoryEvent, error) {
	auditRows, err := t.store.Audit(ctx, storage.AuditFilter{MemoryID: memoryID, Limit: 1000})
	if err != nil {
		return nil, fmt.Errorf("audit: history audit rows: %w", err)
	}
	modRows, err := t.store.Modifications(ctx, storage.AuditFilter{MemoryID: memoryID, Limit: 1000})
	if err != nil {
		return nil, fmt.Errorf("audit: history modification rows: %w", err)
	}

	events := make([]HistoryEvent, 0, len(auditRows)+len(modRows))
	for _, a := range auditRows {
		events = append(events, HistoryEvent{
			Kind:      EventAudit,
			Timestamp: a.Timestamp,
			Operation: a.Operation,
			Metadata:  a.Metadata,
		})
	}
	for _, m := range modRows {
		events = append(events, HistoryEvent{
			Kind:          EventModification,
			Timestamp:     m.Timestamp,
			Operation:     m.ModificationKind,
			AgentRole:     m.AgentRole,
			ChangePayload: m.ChangePayload,
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}
