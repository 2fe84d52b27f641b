package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/fenwick/engram/internal/engramerr"
	"github.com/fenwick/engram/internal/storage"
)

// vectorCandidateCap bounds the brute-force cosine scan so a single query
// never loads an unbounded number of embeddings into memory. Datasets past
// this size should move to the postgres/pgvector backend (SPEC_FULL.md
// domain stack).
const vectorCandidateCap = 10_000

// encodeVector serializes a []float32 to a little-endian BLOB. This mirrors
// the teacher's embedding byte-packing idea but goes through math.Float32bits
// instead of unsafe.Pointer, since nothing here is hot enough to need it.
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(buf))
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// PutVector upserts the embedding row for a memory.
func (s *Store) PutVector(ctx context.Context, id string, embedding []float32, model string) error {
	if len(embedding) == 0 {
		return fmt.Errorf("%w: embedding must be non-empty", engramerr.InvariantViolation)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_vectors (memory_id, embedding, model, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET embedding = excluded.embedding, model = excluded.model, updated_at = excluded.updated_at`,
		id, encodeVector(embedding), model, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: put vector: %v", engramerr.BackendUnavailable, err)
	}
	if _, err := s.db.ExecContext(ctx, "UPDATE memories SET embedding_model = ? WHERE id = ?", model, id); err != nil {
		return fmt.Errorf("%w: update embedding_model: %v", engramerr.BackendUnavailable, err)
	}
	return nil
}

// DeleteVector removes the embedding row for a memory (queued re-embed path
// after an Embedder failure still leaves a memory retrievable via keyword
// and graph channels; spec.md §7).
func (s *Store) DeleteVector(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM memory_vectors WHERE memory_id = ?", id); err != nil {
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

// InitDimension records the embedding dimension the first time it is called;
// subsequent calls with a different value fail closed rather than silently
// accepting mixed-dimension vectors.
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
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES ('embedding_dimension', ?)
		ON CONFLICT(key) DO NOTHING`, fmt.Sprintf("%d", dim))
	if err != nil {
		return fmt.Errorf("%w: init dimension: %v", engramerr.BackendUnavailable, err)
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
		placeholders[i] = "?"
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
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scan vector row: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			continue
		}
		out[id] = vec
	}
	return out, rows.Err()
}

// VectorKNN performs a brute-force cosine-similarity nearest-neighbor search
// over the vector table, capped at vectorCandidateCap candidates (most
// recently updated first).
func (s *Store) VectorKNN(ctx context.Context, namespace string, query []float32, k int) ([]storage.ScoredHit, error) {
	if len(query) == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT v.memory_id, v.embedding
		FROM memory_vectors v
		JOIN memories m ON m.id = v.memory_id
		WHERE (? = '' OR m.namespace = ?) AND m.superseded_by IS NULL
		ORDER BY v.updated_at DESC
		LIMIT ?`, namespace, namespace, vectorCandidateCap)
	if err != nil {
		return nil, fmt.Errorf("%w: vector knn scan: %v", engramerr.BackendUnavailable, err)
	}
	defer rows.Close()

	var hits []storage.ScoredHit
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scan vector row: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			continue
		}
		hits = append(hits, storage.ScoredHit{MemoryID: id, Score: cosineSimilarity(query, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}
