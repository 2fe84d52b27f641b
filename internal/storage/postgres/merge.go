package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fenwick/engram/internal/engramerr"
	"github.com/fenwick/engram/pkg/types"
)

// Merge creates a new memory from combinedContent and supersedes every
// member id, all in a single transaction (spec.md §4.8 consolidation MERGE
// action: "creates a new memory combining both contents, supersedes both").
// Generalised here to n members since a cluster may exceed size 2.
func (s *Store) Merge(ctx context.Context, namespace string, combinedContent string, memberIDs []string, createdBy string) (*types.Memory, error) {
	if len(memberIDs) < 2 {
		return nil, fmt.Errorf("%w: merge requires at least 2 members", engramerr.InvariantViolation)
	}

	now := time.Now().UTC()
	winner := &types.Memory{
		ID:         newID(),
		Namespace:  namespace,
		Content:    combinedContent,
		Summary:    firstN(combinedContent, 140),
		MemoryType: types.MemoryTypeReference,
		Importance: 5,
		Confidence: 0.5,
		CreatedAt:  now,
		UpdatedAt:  now,
		CreatedBy:  createdBy,
		ModifiedBy: createdBy,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertMemory(ctx, tx, winner); err != nil {
		return nil, err
	}
	if _, err := appendAuditTx(ctx, tx, types.AuditEntry{
		Timestamp: now,
		Operation: types.AuditCreate,
		MemoryID:  winner.ID,
		Metadata:  map[string]interface{}{"consolidation": "merge", "members": memberIDs},
	}); err != nil {
		return nil, err
	}
	if _, err := appendAuditTx(ctx, tx, types.AuditEntry{
		Timestamp: now,
		Operation: types.AuditConsolidate,
		MemoryID:  winner.ID,
		Metadata:  map[string]interface{}{"decision": "merge", "winner": winner.ID, "members": memberIDs},
	}); err != nil {
		return nil, err
	}

	for _, loserID := range memberIDs {
		res, err := tx.ExecContext(ctx, "UPDATE memories SET superseded_by = $1, is_archived = TRUE, updated_at = $2 WHERE id = $3 AND superseded_by IS NULL",
			winner.ID, now, loserID)
		if err != nil {
			return nil, fmt.Errorf("%w: supersede merge member: %v", engramerr.BackendUnavailable, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue // already superseded or archived-terminal elsewhere; merge still proceeds
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO memory_links (id, source_id, target_id, link_type, strength, reason, created_at, last_traversed_at, traversal_count, user_created)
			VALUES ($1, $2, $3, $4, 1.0, '', $5, NULL, 0, FALSE)
			ON CONFLICT (source_id, target_id, link_type) DO UPDATE SET strength = 1.0`,
			uuid.NewString(), winner.ID, loserID, string(types.LinkSupersedes), now,
		); err != nil {
			return nil, fmt.Errorf("%w: insert supersedes link: %v", engramerr.BackendUnavailable, err)
		}
		if _, err := appendAuditTx(ctx, tx, types.AuditEntry{
			Timestamp: now,
			Operation: types.AuditSupersede,
			MemoryID:  loserID,
			Metadata:  map[string]interface{}{"superseded_by": winner.ID, "consolidation": "merge"},
		}); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}
	return winner, nil
}
