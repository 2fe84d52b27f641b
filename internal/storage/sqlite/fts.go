package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/fenwick/engram/internal/engramerr"
	"github.com/fenwick/engram/internal/storage"
)

// FTSSearch runs a keyword query through FTS5 and returns hits ordered by
// bm25 rank (best first), scored into [0,1] for fusion with the vector and
// graph channels (spec.md §4.5).
func (s *Store) FTSSearch(ctx context.Context, namespace, query string, limit int) ([]storage.ScoredHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	ftsQuery := sanitizeFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, bm25(memories_fts) AS rank
		FROM memories_fts fts
		JOIN memories m ON m.rowid = fts.rowid
		WHERE memories_fts MATCH ? AND (? = '' OR m.namespace = ?) AND m.superseded_by IS NULL
		ORDER BY rank
		LIMIT ?`, ftsQuery, namespace, namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: fts match %q: %v", engramerr.BackendUnavailable, query, err)
	}
	defer rows.Close()

	var hits []storage.ScoredHit
	var minRank float64
	first := true
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, fmt.Errorf("scan fts row: %w", err)
		}
		if first || rank < minRank {
			minRank = rank
			first = false
		}
		hits = append(hits, storage.ScoredHit{MemoryID: id, Score: rank})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}

	// bm25 is negative, more negative is a better match; remap to (0,1] so
	// the hybrid ranker can combine it linearly with cosine/graph scores.
	for i := range hits {
		hits[i].Score = 1.0 / (1.0 + (hits[i].Score - minRank))
	}
	return hits, nil
}

// sanitizeFTSQuery turns free-form input into a safe FTS5 MATCH expression:
// strip special characters, drop stop words, OR together prefix terms.
func sanitizeFTSQuery(query string) string {
	replacer := strings.NewReplacer(`"`, " ", `'`, " ", `(`, " ", `)`, " ", `*`, " ", `-`, " ", `^`, " ", `?`, " ", `:`, " ")
	cleaned := replacer.Replace(query)
	words := strings.Fields(strings.ToLower(cleaned))

	var terms []string
	for _, w := range words {
		if !ftsStopWords[w] && len(w) >= 2 {
			terms = append(terms, w+"*")
		}
	}
	if len(terms) == 0 {
		return ""
	}
	return strings.Join(terms, " OR ")
}

var ftsStopWords = map[string]bool{
	"a": true, "an": true, "the": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true,
	"to": true, "of": true, "in": true, "on": true, "at": true, "by": true, "for": true,
	"with": true, "from": true, "as": true, "about": true,
	"what": true, "how": true, "when": true, "where": true, "why": true, "who": true, "which": true,
	"this": true, "that": true, "these": true, "those": true,
	"i": true, "you": true, "he": true, "she": true, "it": true, "we": true, "they": true,
	"and": true, "or": true, "but": true, "if": true, "not": true,
}
