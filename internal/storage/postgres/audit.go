package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fenwick/engram/internal/engramerr"
	"github.com/fenwick/engram/internal/storage"
	"github.com/fenwick/engram/pkg/types"
)

// jsonbOf marshals v for a JSONB column, returning nil (NULL) for an empty
// map rather than the literal string "{}". Returned as a string rather than
// []byte: lib/pq sends a []byte parameter as a bytea literal, which postgres
// then refuses to cast into jsonb.
func jsonbOf(v map[string]interface{}) interface{} {
	if len(v) == 0 {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(b)
}

// appendAuditTx writes one append-only audit row within tx, via RETURNING id
// since the lib/pq driver doesn't support LastInsertId. No code path ever
// updates or deletes an audit_log row (spec.md §3 invariant 6).
func appendAuditTx(ctx context.Context, tx *sql.Tx, entry types.AuditEntry) (*types.AuditEntry, error) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO audit_log (timestamp, operation, memory_id, metadata)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		entry.Timestamp, string(entry.Operation), entry.MemoryID, jsonbOf(entry.Metadata),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("%w: append audit: %v", engramerr.BackendUnavailable, err)
	}
	entry.ID = id
	return &entry, nil
}

// AppendAudit writes a standalone audit entry outside of any caller
// transaction (used by evolution-cycle code that isn't already inside one).
func (s *Store) AppendAudit(ctx context.Context, entry types.AuditEntry) (*types.AuditEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck

	result, err := appendAuditTx(ctx, tx, entry)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}
	return result, nil
}

// AppendModification writes one agent-attributed modification-log row
// (spec.md §4.9), always alongside an AuditEntry, never instead of one.
func (s *Store) AppendModification(ctx context.Context, entry types.ModificationLogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_modification_log (memory_id, agent_role, modification_kind, timestamp, change_payload)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.MemoryID, entry.AgentRole, string(entry.ModificationKind), entry.Timestamp, jsonbOf(entry.ChangePayload),
	)
	if err != nil {
		return fmt.Errorf("%w: append modification: %v", engramerr.BackendUnavailable, err)
	}
	return nil
}

// Audit returns audit rows matching filter, newest first.
func (s *Store) Audit(ctx context.Context, filter storage.AuditFilter) ([]types.AuditEntry, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.MemoryID != "" {
		where = append(where, "memory_id = "+arg(filter.MemoryID))
	}
	if filter.Operation != "" {
		where = append(where, "operation = "+arg(string(filter.Operation)))
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= "+arg(*filter.Since))
	}
	if filter.Until != nil {
		where = append(where, "timestamp <= "+arg(*filter.Until))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := "SELECT id, timestamp, operation, memory_id, metadata FROM audit_log WHERE " +
		strings.Join(where, " AND ") + " ORDER BY id DESC LIMIT " + arg(limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: audit query: %v", engramerr.BackendUnavailable, err)
	}
	defer rows.Close()

	var out []types.AuditEntry
	for rows.Next() {
		var e types.AuditEntry
		var op string
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.Timestamp, &op, &e.MemoryID, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.Operation = types.AuditOperation(op)
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &e.Metadata)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Modifications returns modification-log rows matching filter, newest first.
func (s *Store) Modifications(ctx context.Context, filter storage.AuditFilter) ([]types.ModificationLogEntry, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.MemoryID != "" {
		where = append(where, "memory_id = "+arg(filter.MemoryID))
	}
	if filter.AgentRole != "" {
		where = append(where, "agent_role = "+arg(filter.AgentRole))
	}
	if filter.Operation != "" {
		where = append(where, "modification_kind = "+arg(string(filter.Operation)))
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= "+arg(*filter.Since))
	}
	if filter.Until != nil {
		where = append(where, "timestamp <= "+arg(*filter.Until))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := "SELECT id, memory_id, agent_role, modification_kind, timestamp, change_payload FROM memory_modification_log WHERE " +
		strings.Join(where, " AND ") + " ORDER BY id DESC LIMIT " + arg(limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: modification query: %v", engramerr.BackendUnavailable, err)
	}
	defer rows.Close()

	var out []types.ModificationLogEntry
	for rows.Next() {
		var e types.ModificationLogEntry
		var kind string
		var payloadJSON []byte
		if err := rows.Scan(&e.ID, &e.MemoryID, &e.AgentRole, &kind, &e.Timestamp, &payloadJSON); err != nil {
			return nil, fmt.Errorf("scan modification row: %w", err)
		}
		e.ModificationKind = types.AuditOperation(kind)
		if len(payloadJSON) > 0 {
			_ = json.Unmarshal(payloadJSON, &e.ChangePayload)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Checkpoint persists an evolution-cycle checkpoint value under key, used to
// make the maintainer's cycles idempotent across restarts (spec.md §4.8, §9).
func (s *Store) Checkpoint(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		"checkpoint:"+key, value)
	if err != nil {
		return fmt.Errorf("%w: checkpoint: %v", engramerr.BackendUnavailable, err)
	}
	return nil
}

// GetCheckpoint reads back a checkpoint value set by Checkpoint.
func (s *Store) GetCheckpoint(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = $1", "checkpoint:"+key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get checkpoint: %v", engramerr.BackendUnavailable, err)
	}
	return value, true, nil
}
