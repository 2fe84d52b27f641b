package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/fenwick/engram/internal/engramerr"
	"github.com/fenwick/engram/internal/storage"
)

// FTSSearch runs a keyword query through postgres full-text search and
// returns hits ordered by ts_rank (best first), scored into [0,1] for fusion
// with the vector and graph channels (spec.md §4.5).
func (s *Store) FTSSearch(ctx context.Context, namespace, query string, limit int) ([]storage.ScoredHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	tsQuery := sanitizeFTSQuery(query)
	if tsQuery == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, ts_rank(m.search_vector, to_tsquery('english', $1)) AS rank
		FROM memories m
		WHERE m.search_vector @@ to_tsquery('english', $1) AND ($2 = '' OR m.namespace = $2) AND m.superseded_by IS NULL
		ORDER BY rank DESC
		LIMIT $3`, tsQuery, namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: fts match %q: %v", engramerr.BackendUnavailable, query, err)
	}
	defer rows.Close()

	var hits []storage.ScoredHit
	var maxRank float64
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, fmt.Errorf("scan fts row: %w", err)
		}
		if rank > maxRank {
			maxRank = rank
		}
		hits = append(hits, storage.ScoredHit{MemoryID: id, Score: rank})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", engramerr.BackendUnavailable, err)
	}

	// ts_rank is an unbounded positive weight, unlike sqlite's negative bm25;
	// normalise against the batch's own maximum so the hybrid ranker can
	// combine it linearly with cosine/graph scores on the same [0,1] scale.
	if maxRank > 0 {
		for i := range hits {
			hits[i].Score /= maxRank
		}
	}
	return hits, nil
}

// sanitizeFTSQuery turns free-form input into a safe to_tsquery expression:
// strip special characters, drop stop words, OR together prefix terms.
func sanitizeFTSQuery(query string) string {
	replacer := strings.NewReplacer(`"`, " ", `'`, " ", `(`, " ", `)`, " ", `*`, " ", `-`, " ", `^`, " ", `?`, " ", `:`, " ", `&`, " ", `|`, " ", `!`, " ")
	cleaned := replacer.Replace(query)
	words := strings.Fields(strings.ToLower(cleaned))

	var terms []string
	for _, w := range words {
		if !ftsStopWords[w] && len(w) >= 2 {
			terms = append(terms, w+":*")
		}
	}
	if len(terms) == 0 {
		return ""
	}
	return strings.Join(terms, " | ")
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
