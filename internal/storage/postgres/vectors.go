package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/fenwick/engram/internal/engramerr"
	"github.com/fenwick/engram/internal/storage"
)

// PutVector upserts the embedding row for a memory.
func (s *Store) PutVector(ctx context.Context, id string, embedding []float32, model string) error {
	if len(embedding) == 0 {
		return fmt.Errorf("%w: embedding must be non-empty", engramerr.InvariantViolation)
	}
	vec := pgvector.NewVector(embedding)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_vectors (memory_id, embedding, model, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (memory_id) DO UPDATE SET embedding = excluded.embedding, model = excluded.model, updated_at = excluded.updated_at`,
		id, vec, model, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: put vector: %v", engramerr.BackendUnavailable, err)
	}
	if _, err := s.db.ExecContext(ctx, "UPDATE memories SET embedding_model = $1 WHERE id = $2", model, id); err != nil {
		return fmt.Errorf("%w: update embedding_model: %v", engramerr.BackendUnavailable, err)
	}
	return nil
}

// DeleteVector removes the embedding row for a memory (queued re-embed path
// after an Embedder failure still leaves a memory retrievable via keyword
// and graph channels; spec.md §7).
func (s *Store) DeleteVector(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM memory_vectors WHERE memory_id = $1", id); err != nil {
		return fmt.Errorf("%w: delete vector: %v", engramerr.BackendUnavailable, err)
	}
	return nil
}

// Dimension returns the fixed embedding dimension recorded at first
// InitDimension call, resolving the "what shape is the vector store" open
// question by storing one dimension for the whole database (spec.md §9).
func (s *Store) Dimension(ctx context.Context) (int, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = 'embedding_dimension'").Scan(&value)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: get dimension: %v", engramerr.BackendUnavailable, err)
	}
	var dim int
	if _, err := fmt.Sscanf(value, "%d", &dim); err != nil {
		return 0, false, fmt.Errorf("corrupt embedding_dimension metadata row: %w", err)
	}
	return dim, true, nil
}

// InitDimension records the embedding dimension the first time it is called
// and fixes memory_vectors.embedding's typmod to vector(dim), so postgres
// itself rejects a differently-sized vector on a later PutVector; subsequent
// calls with a different value fail closed rather than silently widening it.
func (s *Store) InitDimension(ctx context.Context, dim int) error {
	existing, ok, err := s.Dimension(ctx)
	if err != nil {
		return err
	}
	if ok {
		if existing != dim {
			return fmt.Errorf("%w: embedding dimension already fixed at %d, got %d", engramerr.InvariantViolation, existing, dim)
		}
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("ALTER TABLE memory_vectors ALTER COLUMN embedding TYPE vector(%d)", dim),
	); err != nil {
		return fmt.Errorf("%w: fix embedding typmod: %v", engramerr.BackendUnavailable, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES ('embedding_dimension', $1)
		ON CONFLICT (key) DO NOTHING`, fmt.Sprintf("%d", dim),
	); err != nil {
		return fmt.Errorf("%w: init dimension: %v", engramerr.BackendUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}
	return nil
}

// VectorsForIDs returns the embeddings present for the given ids, omitting
// any id with no vector row (Embedder failure left it unembedded; spec.md
// §7). Used by consolidation to compare a bounded batch pairwise without a
// full-namespace scan.
func (s *Store) VectorsForIDs(ctx context.Context, ids []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT memory_id, embedding FROM memory_vectors WHERE memory_id IN ("+strings.Join(placeholders, ",")+")",
		args...)
	if err != nil {
		return nil, fmt.Errorf("%w: vectors for ids: %v", engramerr.BackendUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var vec pgvector.Vector
		if err := rows.Scan(&id, &vec); err != nil {
			return nil, fmt.Errorf("scan vector row: %w", err)
		}
		out[id] = vec.Slice()
	}
	return out, rows.Err()
}

// VectorKNN performs a pgvector cosine-distance nearest-neighbor search,
// ordering by the <=> operator (1 - cosine similarity) and remapping it back
// to a similarity score in [0,1] for fusion with the FTS and graph channels.
func (s *Store) VectorKNN(ctx context.Context, namespace string, query []float32, k int) ([]storage.ScoredHit, error) {
	if len(query) == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = 10
	}

	vec := pgvector.NewVector(query)
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.memory_id, v.embedding <=> $1::vector AS distance
		FROM memory_vectors v
		JOIN memories m ON m.id = v.memory_id
		WHERE ($2 = '' OR m.namespace = $2) AND m.superseded_by IS NULL
		ORDER BY distance ASC
		LIMIT $3`, vec, namespace, k)
	if err != nil {
		return nil, fmt.Errorf("%w: vector knn: %v", engramerr.BackendUnavailable, err)
	}
	defer rows.Close()

	var hits []storage.ScoredHit
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, fmt.Errorf("scan vector knn row: %w", err)
		}
		hits = append(hits, storage.ScoredHit{MemoryID: id, Score: 1 - distance})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}
	return hits, nil
}
