// Package storage defines the single Store interface of the engram memory
// store, which the sqlite and postgres backends each implement in full, and
// the value types passed across it.
package storage

import (
	"context"
	"time"

	"github.com/fenwick/engram/pkg/types"
)

// Store is the transactional owner of all tables: memories, links, the
// audit log and the modification log (spec.md §4.1, §3 "Ownership"). The
// FTS indexer, vector indexer, and audit log are mirrors mutated only
// within a transaction started here; nothing outside Store writes to them
// directly.
type Store interface {
	Create(ctx context.Context, draft types.Draft) (*types.Memory, error)
	Get(ctx context.Context, id string) (*types.Memory, error)
	List(ctx context.Context, opts ListOptions) (*PaginatedResult[types.Memory], error)
	Update(ctx context.Context, id string, patch types.Patch) (*types.Memory, error)
	Archive(ctx context.Context, id string) error
	Unarchive(ctx context.Context, id string) error
	Supersede(ctx context.Context, oldID, newID string) error
	Delete(ctx context.Context, id string) error // admin-only, cascades links + vector row
	Merge(ctx context.Context, namespace, combinedContent string, memberIDs []string, createdBy string) (*types.Memory, error)

	Link(ctx context.Context, source, target string, linkType types.LinkType, strength float64, reason string, userCreated bool) (*types.Link, error)
	GetLink(ctx context.Context, source, target string, linkType types.LinkType) (*types.Link, error)
	DeleteLink(ctx context.Context, source, target string, linkType types.LinkType) error
	OutgoingLinks(ctx context.Context, source string, bounds GraphBounds) ([]types.Link, error)
	RecordTraversal(ctx context.Context, linkIDs []string) error
	DecayLinks(ctx context.Context, staleSince time.Time, factor, floor float64, batchSize int) (decayed int, deleted int, err error)
	InDegree(ctx context.Context, id string) (int, error)

	Touch(ctx context.Context, id string) error

	PutVector(ctx context.Context, id string, embedding []float32, model string) error
	DeleteVector(ctx context.Context, id string) error
	Dimension(ctx context.Context) (int, bool, error)
	InitDimension(ctx context.Context, dim int) error

	FTSSearch(ctx context.Context, namespace, query string, limit int) ([]ScoredHit, error)
	VectorKNN(ctx context.Context, namespace string, query []float32, k int) ([]ScoredHit, error)
	VectorsForIDs(ctx context.Context, ids []string) (map[string][]float32, error)

	AppendAudit(ctx context.Context, entry types.AuditEntry) (*types.AuditEntry, error)
	AppendModification(ctx context.Context, entry types.ModificationLogEntry) error
	Audit(ctx context.Context, filter AuditFilter) ([]types.AuditEntry, error)
	Modifications(ctx context.Context, filter AuditFilter) ([]types.ModificationLogEntry, error)

	Checkpoint(ctx context.Context, key, value string) error
	GetCheckpoint(ctx context.Context, key string) (string, bool, error)

	// ActiveMemoryIDs pages through active (non-archived, non-superseded)
	// memory ids in a namespace in id order, starting strictly after
	// afterID (empty string for the first page). Cursor-based rather than
	// offset-based so a caller archiving rows mid-scan never skips a row
	// that shifted into an already-consumed offset window.
	ActiveMemoryIDs(ctx context.Context, namespace string, batchSize int, afterID string) ([]string, error)

	Close() error
}

// AuditFilter restricts an audit-log or modification-log read to a memory,
// an agent role, an operation kind, or a time range (spec.md §4.9).
type AuditFilter struct {
	MemoryID  string
	AgentRole string
	Operation types.AuditOperation
	Since     *time.Time
	Until     *time.Time
	Limit     int
}
