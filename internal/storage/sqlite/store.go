// Package sqlite implements storage.Store on top of a single SQLite
// database file, using FTS5 for keyword search and a flat BLOB-encoded
// vector table for brute-force cosine search. It is the default backend
// (config StorageConfig.StorageEngine "sqlite").
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // driver

	"github.com/fenwick/engram/internal/engramerr"
	"github.com/fenwick/engram/internal/storage"
	"github.com/fenwick/engram/pkg/types"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New opens a SQLite-backed Store at dsn, healing a stale WAL left behind by
// a crashed process before surfacing the error.
func New(dsn string) (*Store, error) {
	store, err := open(dsn)
	if err == nil {
		return store, nil
	}

	if !isRecoverableWALError(err) {
		return nil, fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || !isWALStale(dbPath) {
		return nil, fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}

	removeStaleWAL(dbPath)

	store, retryErr := open(dsn)
	if retryErr != nil {
		return nil, fmt.Errorf("%w: recovery failed: %v (original: %v)", engramerr.BackendUnavailable, retryErr, err)
	}

	log.Printf("sqlite: recovered from stale WAL files for %s", dbPath)
	return store, nil
}

func open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite allows one writer at a time; a single connection serializes
	// writes in-process and avoids SQLITE_BUSY errors under goroutine load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close checkpoints the WAL and closes the underlying connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Printf("sqlite: WAL checkpoint on close failed (non-fatal): %v", err)
	}
	return s.db.Close()
}

func newID() string { return uuid.NewString() }

// Create inserts a memory, its FTS mirror row, and an audit entry in one
// transaction.
func (s *Store) Create(ctx context.Context, draft types.Draft) (*types.Memory, error) {
	if strings.TrimSpace(draft.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", engramerr.InvariantViolation)
	}
	if draft.MemoryType != "" && !types.IsValidMemoryType(draft.MemoryType) {
		return nil, fmt.Errorf("%w: unrecognised memory type %q", engramerr.InvariantViolation, draft.MemoryType)
	}

	now := time.Now().UTC()
	mem := &types.Memory{
		ID:          newID(),
		Namespace:   draft.Namespace,
		Content:     draft.Content,
		Summary:     firstN(draft.Content, 140),
		Keywords:    draft.Keywords,
		Tags:        draft.Tags,
		Context:     draft.Context,
		MemoryType:  draft.MemoryType,
		Importance:  draft.Importance,
		Confidence:  0.5,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   draft.CreatedBy,
		ModifiedBy:  draft.CreatedBy,
		VisibleTo:   draft.VisibleTo,
	}
	if mem.MemoryType == "" {
		mem.MemoryType = types.MemoryTypeReference
	}
	if mem.Importance == 0 {
		mem.Importance = 5
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertMemory(ctx, tx, mem); err != nil {
		return nil, err
	}
	if _, err := appendAuditTx(ctx, tx, types.AuditEntry{
		Timestamp: now,
		Operation: types.AuditCreate,
		MemoryID:  mem.ID,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}
	return mem, nil
}

func firstN(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n])
}

func insertMemory(ctx context.Context, tx *sql.Tx, m *types.Memory) error {
	keywordsJSON, err := marshalStrings(m.Keywords)
	if err != nil {
		return err
	}
	tagsJSON, err := marshalStrings(m.Tags)
	if err != nil {
		return err
	}
	visibleJSON, err := marshalStrings(m.VisibleTo)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories (
			id, namespace, content, summary, keywords, tags, context,
			memory_type, importance, confidence, access_count,
			last_accessed_at, expires_at, is_archived, superseded_by,
			embedding_model, created_at, updated_at, created_by, modified_by, visible_to
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, 0, NULL, '', ?, ?, ?, ?, ?)
	`,
		m.ID, m.Namespace, m.Content, m.Summary, keywordsJSON, tagsJSON, m.Context,
		string(m.MemoryType), m.Importance, m.Confidence,
		nullTime(m.LastAccessedAt), nullTime(m.ExpiresAt),
		m.CreatedAt, m.UpdatedAt, m.CreatedBy, m.ModifiedBy, visibleJSON,
	)
	if err != nil {
		return fmt.Errorf("%w: insert memory: %v", engramerr.BackendUnavailable, err)
	}
	return nil
}

func marshalStrings(v []string) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalStrings(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return nil
	}
	return out
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

const memoryColumns = `
	id, namespace, content, summary, keywords, tags, context,
	memory_type, importance, confidence, access_count,
	last_accessed_at, expires_at, is_archived, superseded_by,
	embedding_model, created_at, updated_at, created_by, modified_by, visible_to
`

func scanMemory(row interface {
	Scan(dest ...interface{}) error
}) (*types.Memory, error) {
	var m types.Memory
	var keywordsJSON, tagsJSON, visibleJSON sql.NullString
	var lastAccessedAt, expiresAt sql.NullTime
	var isArchived int
	var supersededBy sql.NullString

	err := row.Scan(
		&m.ID, &m.Namespace, &m.Content, &m.Summary, &keywordsJSON, &tagsJSON, &m.Context,
		&m.MemoryType, &m.Importance, &m.Confidence, &m.AccessCount,
		&lastAccessedAt, &expiresAt, &isArchived, &supersededBy,
		&m.EmbeddingModel, &m.CreatedAt, &m.UpdatedAt, &m.CreatedBy, &m.ModifiedBy, &visibleJSON,
	)
	if err == sql.ErrNoRows {
		return nil, engramerr.NotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan memory: %w", err)
	}

	m.Keywords = unmarshalStrings(keywordsJSON)
	m.Tags = unmarshalStrings(tagsJSON)
	m.VisibleTo = unmarshalStrings(visibleJSON)
	if lastAccessedAt.Valid {
		t := lastAccessedAt.Time
		m.LastAccessedAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		m.ExpiresAt = &t
	}
	m.IsArchived = isArchived != 0
	if supersededBy.Valid {
		m.SupersededBy = supersededBy.String
	}
	return &m, nil
}

// Get retrieves a memory by id, regardless of archived/superseded state.
func (s *Store) Get(ctx context.Context, id string) (*types.Memory, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+memoryColumns+" FROM memories WHERE id = ?", id)
	return scanMemory(row)
}

// Touch bumps access_count and last_accessed_at; used on every read-path hit
// (spec.md §4.8's access_factor and recency_factor both derive from this).
func (s *Store) Touch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?",
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return engramerr.NotFound
	}
	return nil
}

// List returns a page of memories matching opts.
func (s *Store) List(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.Memory], error) {
	opts.Normalize()

	where := []string{"1=1"}
	args := []interface{}{}

	if opts.Namespace != "" {
		where = append(where, "namespace = ?")
		args = append(args, opts.Namespace)
	}
	if opts.MemoryType != "" {
		where = append(where, "memory_type = ?")
		args = append(args, opts.MemoryType)
	}
	if opts.MinImportance > 0 {
		where = append(where, "importance >= ?")
		args = append(args, opts.MinImportance)
	}
	if !opts.IncludeArchived {
		where = append(where, "is_archived = 0")
	}
	if !opts.IncludeSuperseded {
		where = append(where, "superseded_by IS NULL")
	}
	if !opts.CreatedAfter.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, opts.CreatedAfter)
	}
	if !opts.CreatedBefore.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, opts.CreatedBefore)
	}

	whereSQL := strings.Join(where, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM memories WHERE " + whereSQL
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("%w: count: %v", engramerr.BackendUnavailable, err)
	}

	query := fmt.Sprintf("SELECT %s FROM memories WHERE %s ORDER BY %s %s LIMIT ? OFFSET ?",
		memoryColumns, whereSQL, opts.SortBy, strings.ToUpper(opts.SortOrder))
	queryArgs := append(append([]interface{}{}, args...), opts.Limit, opts.Offset())

	rows, err := s.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", engramerr.BackendUnavailable, err)
	}
	defer rows.Close()

	var items []types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}

	return &storage.PaginatedResult[types.Memory]{
		Items:    items,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(items) < total,
	}, nil
}

// Update applies patch to memory id, recording an update audit row and a
// modification log entry in the same transaction. Nil fields in patch leave the corresponding column unchanged.
func (s *Store) Update(ctx context.Context, id string, patch types.Patch) (*types.Memory, error) {
	if patch.MemoryType != nil && !types.IsValidMemoryType(*patch.MemoryType) {
		return nil, fmt.Errorf("%w: unrecognised memory type %q", engramerr.InvariantViolation, *patch.MemoryType)
	}
	if patch.Importance != nil && (*patch.Importance < 1 || *patch.Importance > 10) {
		return nil, fmt.Errorf("%w: importance must be in [1,10]", engramerr.InvariantViolation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck

	current, err := scanMemory(tx.QueryRowContext(ctx, "SELECT "+memoryColumns+" FROM memories WHERE id = ?", id))
	if err != nil {
		return nil, err
	}

	set := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UTC()}
	payload := map[string]interface{}{}

	if patch.Content != nil {
		set = append(set, "content = ?")
		args = append(args, *patch.Content)
		payload["content"] = *patch.Content
		current.Content = *patch.Content
	}
	if patch.Summary != nil {
		set = append(set, "summary = ?")
		args = append(args, *patch.Summary)
		current.Summary = *patch.Summary
	}
	if patch.Keywords != nil {
		j, _ := marshalStrings(*patch.Keywords)
		set = append(set, "keywords = ?")
		args = append(args, j)
		current.Keywords = *patch.Keywords
	}
	if patch.Tags != nil {
		j, _ := marshalStrings(*patch.Tags)
		set = append(set, "tags = ?")
		args = append(args, j)
		current.Tags = *patch.Tags
	}
	if patch.Context != nil {
		set = append(set, "context = ?")
		args = append(args, *patch.Context)
		current.Context = *patch.Context
	}
	if patch.MemoryType != nil {
		set = append(set, "memory_type = ?")
		args = append(args, string(*patch.MemoryType))
		current.MemoryType = *patch.MemoryType
	}
	if patch.Importance != nil {
		set = append(set, "importance = ?")
		args = append(args, *patch.Importance)
		current.Importance = *patch.Importance
	}
	if patch.Confidence != nil {
		set = append(set, "confidence = ?")
		args = append(args, *patch.Confidence)
		current.Confidence = *patch.Confidence
	}
	if patch.ExpiresAt != nil {
		set = append(set, "expires_at = ?")
		args = append(args, *patch.ExpiresAt)
		current.ExpiresAt = patch.ExpiresAt
	}
	if patch.ModifiedBy != "" {
		set = append(set, "modified_by = ?")
		args = append(args, patch.ModifiedBy)
		current.ModifiedBy = patch.ModifiedBy
	}

	args = append(args, id)
	if _, err := tx.ExecContext(ctx, "UPDATE memories SET "+strings.Join(set, ", ")+" WHERE id = ?", args...); err != nil {
		return nil, fmt.Errorf("%w: update: %v", engramerr.BackendUnavailable, err)
	}

	if _, err := appendAuditTx(ctx, tx, types.AuditEntry{
		Operation: types.AuditUpdate,
		MemoryID:  id,
	}); err != nil {
		return nil, err
	}

	payloadJSON, _ := json.Marshal(payload)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memory_modification_log (memory_id, agent_role, modification_kind, timestamp, change_payload)
		VALUES (?, ?, ?, ?, ?)`,
		id, patch.ModifiedBy, types.AuditUpdate, time.Now().UTC(), string(payloadJSON),
	); err != nil {
		return nil, fmt.Errorf("%w: modification log: %v", engramerr.BackendUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}
	current.UpdatedAt = time.Now().UTC()
	return current, nil
}

// Archive marks a memory archived (spec.md §4.8's reversible archive, active
// ↔ archived per types.IsValidStateTransition).
func (s *Store) Archive(ctx context.Context, id string) error {
	return s.setArchived(ctx, id, true, types.AuditArchive)
}

// Unarchive reverses Archive.
func (s *Store) Unarchive(ctx context.Context, id string) error {
	return s.setArchived(ctx, id, false, types.AuditUpdate)
}

func (s *Store) setArchived(ctx context.Context, id string, archived bool, op types.AuditOperation) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	var next types.MemoryState
	if archived {
		next = types.MemoryStateArchived
	} else {
		next = types.MemoryStateActive
	}
	if !types.IsValidStateTransition(current.State(), next) {
		return fmt.Errorf("%w: cannot transition %s -> %s", engramerr.InvariantViolation, current.State(), next)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck

	archivedInt := 0
	if archived {
		archivedInt = 1
	}
	res, err := tx.ExecContext(ctx, "UPDATE memories SET is_archived = ?, updated_at = ? WHERE id = ?",
		archivedInt, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engramerr.NotFound
	}
	if _, err := appendAuditTx(ctx, tx, types.AuditEntry{Timestamp: time.Now().UTC(), Operation: op, MemoryID: id}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}
	return nil
}

// Supersede marks oldID superseded by newID, records a newID->oldID
// "supersedes" link at full strength, and appends the audit row, all in one
// transaction (spec.md Scenario B: "a supersedes link B→A exists with
// strength 1.0"). oldID's state transitions to superseded (terminal); newID
// is untouched here (the caller already created it via Create).
func (s *Store) Supersede(ctx context.Context, oldID, newID string) error {
	if oldID == newID {
		return fmt.Errorf("%w: a memory cannot supersede itself", engramerr.InvariantViolation)
	}
	old, err := s.Get(ctx, oldID)
	if err != nil {
		return err
	}
	if !types.IsValidStateTransition(old.State(), types.MemoryStateSuperseded) {
		return fmt.Errorf("%w: cannot transition %s -> superseded", engramerr.InvariantViolation, old.State())
	}
	if _, err := s.Get(ctx, newID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, "UPDATE memories SET superseded_by = ?, is_archived = 1, updated_at = ? WHERE id = ?",
		newID, now, oldID)
	if err != nil {
		return fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engramerr.NotFound
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memory_links (id, source_id, target_id, link_type, strength, reason, created_at, last_traversed_at, traversal_count, user_created)
		VALUES (?, ?, ?, ?, 1.0, '', ?, NULL, 0, 0)
		ON CONFLICT (source_id, target_id, link_type) DO UPDATE SET strength = 1.0`,
		uuid.NewString(), newID, oldID, string(types.LinkSupersedes), now,
	); err != nil {
		return fmt.Errorf("%w: insert supersedes link: %v", engramerr.BackendUnavailable, err)
	}

	if _, err := appendAuditTx(ctx, tx, types.AuditEntry{
		Timestamp: now,
		Operation: types.AuditSupersede,
		MemoryID:  oldID,
		Metadata:  map[string]interface{}{"superseded_by": newID},
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}
	return nil
}

// Delete hard-deletes a memory and cascades to its links and vector row
// (admin-only; spec.md §4.1 reserves soft archival for the normal path).
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return engramerr.NotFound
	}
	return nil
}

// ActiveMemoryIDs pages through non-archived, non-superseded memory ids in a
// namespace by id cursor, for evolution-cycle batch scanning (spec.md §4.8,
// §9). Cursor-based so archiving rows within the current batch cannot skip
// an unprocessed row the way offset pagination would.
func (s *Store) ActiveMemoryIDs(ctx context.Context, namespace string, batchSize int, afterID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM memories
		WHERE (? = '' OR namespace = ?) AND is_archived = 0 AND superseded_by IS NULL AND id > ?
		ORDER BY id
		LIMIT ?`, namespace, namespace, afterID, batchSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
