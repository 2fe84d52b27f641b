package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fenwick/engram/internal/engramerr"
	"github.com/fenwick/engram/internal/storage"
	"github.com/fenwick/engram/pkg/types"
)

// linkSmoothing is the exponential-smoothing factor applied when a link
// between the same (source, target, type) is created again: strength moves
// toward 1.0 by this fraction of the remaining distance rather than being
// overwritten outright (spec.md §4.1).
const linkSmoothing = 0.2

// Link creates a link or, if one already exists for (source, target, type),
// nudges its strength toward 1.0 by linkSmoothing and refreshes reason.
func (s *Store) Link(ctx context.Context, source, target string, linkType types.LinkType, strength float64, reason string, userCreated bool) (*types.Link, error) {
	if source == target && linkType != types.LinkReferences {
		return nil, fmt.Errorf("%w: self-links are only allowed for references", engramerr.InvariantViolation)
	}
	if !types.IsValidLinkType(linkType) {
		return nil, fmt.Errorf("%w: unrecognised link type %q", engramerr.InvariantViolation, linkType)
	}
	if strength < 0 || strength > 1 {
		return nil, fmt.Errorf("%w: strength must be in [0,1]", engramerr.InvariantViolation)
	}

	existing, err := s.GetLink(ctx, source, target, linkType)
	if err != nil && err != engramerr.NotFound {
		return nil, err
	}

	now := time.Now().UTC()

	if existing != nil {
		newStrength := existing.Strength + linkSmoothing*(1-existing.Strength)
		if strength > newStrength {
			newStrength = strength
		}
		if newStrength > 1 {
			newStrength = 1
		}
		if reason == "" {
			reason = existing.Reason
		}
		_, err := s.db.ExecContext(ctx, `
			UPDATE memory_links SET strength = ?, reason = ?, user_created = user_created OR ?
			WHERE id = ?`, newStrength, reason, userCreated, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: update link: %v", engramerr.BackendUnavailable, err)
		}
		existing.Strength = newStrength
		existing.Reason = reason
		existing.UserCreated = existing.UserCreated || userCreated
		return existing, nil
	}

	link := &types.Link{
		ID:          uuid.NewString(),
		Source:      source,
		Target:      target,
		Type:        linkType,
		Strength:    strength,
		Reason:      reason,
		CreatedAt:   now,
		UserCreated: userCreated,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memory_links (id, source_id, target_id, link_type, strength, reason, created_at, last_traversed_at, traversal_count, user_created)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, 0, ?)`,
		link.ID, link.Source, link.Target, string(link.Type), link.Strength, link.Reason, link.CreatedAt, link.UserCreated,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, engramerr.Conflict
		}
		return nil, fmt.Errorf("%w: insert link: %v", engramerr.BackendUnavailable, err)
	}
	if _, err := appendAuditTx(ctx, tx, types.AuditEntry{
		Timestamp: now,
		Operation: types.AuditLinkCreate,
		MemoryID:  source,
		Metadata:  map[string]interface{}{"target": target, "link_type": string(linkType)},
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}
	return link, nil
}

func scanLink(row interface{ Scan(dest ...interface{}) error }) (*types.Link, error) {
	var l types.Link
	var linkType string
	var lastTraversedAt sql.NullTime

	err := row.Scan(&l.ID, &l.Source, &l.Target, &linkType, &l.Strength, &l.Reason,
		&l.CreatedAt, &lastTraversedAt, &l.TraversalCount, &l.UserCreated)
	if err == sql.ErrNoRows {
		return nil, engramerr.NotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan link: %w", err)
	}
	l.Type = types.LinkType(linkType)
	if lastTraversedAt.Valid {
		l.LastTraversedAt = lastTraversedAt.Time
	}
	return &l, nil
}

const linkColumns = `id, source_id, target_id, link_type, strength, reason, created_at, last_traversed_at, traversal_count, user_created`

// GetLink looks up a single link by its (source, target, type) key.
func (s *Store) GetLink(ctx context.Context, source, target string, linkType types.LinkType) (*types.Link, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+linkColumns+" FROM memory_links WHERE source_id = ? AND target_id = ? AND link_type = ?",
		source, target, string(linkType))
	return scanLink(row)
}

// DeleteLink removes a link.
func (s *Store) DeleteLink(ctx context.Context, source, target string, linkType types.LinkType) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM memory_links WHERE source_id = ? AND target_id = ? AND link_type = ?",
		source, target, string(linkType))
	if err != nil {
		return fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return engramerr.NotFound
	}
	return nil
}

// OutgoingLinks returns the links out of source that satisfy bounds'
// allowed-type and minimum-strength filters, used by the graph walker
// (spec.md §4.4) one hop at a time.
func (s *Store) OutgoingLinks(ctx context.Context, source string, bounds storage.GraphBounds) ([]types.Link, error) {
	bounds.Normalize()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+linkColumns+" FROM memory_links WHERE source_id = ? AND strength >= ?",
		source, bounds.MinStrength)
	if err != nil {
		return nil, fmt.Errorf("%w: outgoing links: %v", engramerr.BackendUnavailable, err)
	}
	defer rows.Close()

	var out []types.Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		if !bounds.AllowsLinkType(string(l.Type)) {
			continue
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// InDegree returns the number of links targeting id, used by importance
// recalibration's graph_factor and archival's in_degree=0 condition
// (spec.md §4.8).
func (s *Store) InDegree(ctx context.Context, id string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memory_links WHERE target_id = ?", id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: in-degree: %v", engramerr.BackendUnavailable, err)
	}
	return n, nil
}

// RecordTraversal bumps last_traversed_at and traversal_count for a batch of
// link ids in one statement per BFS run (spec.md §4.4).
func (s *Store) RecordTraversal(ctx context.Context, linkIDs []string) error {
	if len(linkIDs) == 0 {
		return nil
	}
	placeholders := make([]string, len(linkIDs))
	args := make([]interface{}, 0, len(linkIDs)+1)
	args = append(args, time.Now().UTC())
	for i, id := range linkIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query := fmt.Sprintf(
		"UPDATE memory_links SET last_traversed_at = ?, traversal_count = traversal_count + 1 WHERE id IN (%s)",
		strings.Join(placeholders, ","))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: record traversal: %v", engramerr.BackendUnavailable, err)
	}
	return nil
}

// DecayLinks applies strength *= factor to every non-user-created link whose
// last_traversed_at is older than staleSince (or, if never traversed, whose
// created_at is), deleting any link whose resulting strength drops below
// floor. Returns counts of each (spec.md §4.8, Scenario D).
func (s *Store) DecayLinks(ctx context.Context, staleSince time.Time, factor, floor float64, batchSize int) (decayed int, deleted int, err error) {
	if batchSize <= 0 {
		batchSize = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strength FROM memory_links
		WHERE user_created = 0
		  AND COALESCE(last_traversed_at, created_at) < ?
		LIMIT ?`, staleSince, batchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: decay scan: %v", engramerr.BackendUnavailable, err)
	}

	type row struct {
		id       string
		strength float64
	}
	var candidates []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.strength); err != nil {
			rows.Close()
			return 0, 0, fmt.Errorf("scan decay candidate: %w", err)
		}
		candidates = append(candidates, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, 0, fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}
	rows.Close()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, c := range candidates {
		newStrength := c.strength * factor
		if newStrength < floor {
			if _, err := tx.ExecContext(ctx, "DELETE FROM memory_links WHERE id = ?", c.id); err != nil {
				return 0, 0, fmt.Errorf("%w: delete decayed link: %v", engramerr.BackendUnavailable, err)
			}
			deleted++
			continue
		}
		if _, err := tx.ExecContext(ctx, "UPDATE memory_links SET strength = ? WHERE id = ?", newStrength, c.id); err != nil {
			return 0, 0, fmt.Errorf("%w: update decayed link: %v", engramerr.BackendUnavailable, err)
		}
		decayed++
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}
	return decayed, deleted, nil
}
