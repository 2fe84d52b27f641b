// Package rank implements the hybrid retrieval ranker: weighted-linear
// fusion of keyword, vector, and graph channel scores (spec.md §4.5).
package rank

import (
	"context"
	"fmt"
	"sort"

	"github.com/fenwick/engram/internal/config"
	"github.com/fenwick/engram/internal/graph"
	"github.com/fenwick/engram/internal/storage"
	"github.com/fenwick/engram/pkg/types"
)

// ScoreComponents breaks a hit's fused score down into its per-channel
// contributions, for explainability (grounded on the teacher's
// ScoreComponents breakdown struct, reworked around the three named
// channels spec.md §4.5 defines instead of the teacher's five ad hoc ones).
type ScoreComponents struct {
	Vector  float64
	Keyword float64
	Graph   float64
}

// Hit is one ranked memory id with its fused score and component breakdown.
// Memory is the record applyPostFilter already fetched to evaluate the
// archived/superseded/importance filter; callers needing the full memory
// (engine.Recall) reuse it instead of issuing a second store.Get for the
// same id.
type Hit struct {
	MemoryID   string
	Score      float64
	Components ScoreComponents
	Memory     *types.Memory
}

// Query parameterizes a single hybrid retrieval call.
type Query struct {
	Namespace string
	Text      string    // keyword channel input
	Vector    []float32 // vector channel input; nil/empty disables the channel
	Seeds     []string  // graph channel seed set; empty seeds the walk from the keyword and vector channels' top hits

	// MinImportance drops any hit below this importance floor (spec.md
	// §4.5's optional minimum-importance input). 0 means no floor.
	MinImportance int
	// IncludeArchived and IncludeSuperseded opt a hit back into the result
	// set despite spec.md §4.5 step 6's default post-filter ("exclude
	// archived and superseded unless explicitly requested"). Both default
	// to false: archived and superseded memories are dropped even if a
	// channel surfaces them (the FTS/vector queries already exclude
	// superseded rows, but the graph channel can still reach one by
	// walking an edge to it, so this filter is the one place all three
	// channels are held to the same rule).
	IncludeArchived   bool
	IncludeSuperseded bool
}

// Rank runs the keyword, vector, and graph channels (those with input
// supplied), fuses them via spec.md §4.5's weighted-linear formula, and
// returns hits sorted by descending fused score.
//
//	score(n) = w_v*vec(n) + w_k*kw(n) + w_g*grp(n)
//
// When no vector is supplied, w_v drops to zero and the keyword and graph
// channels are weighted by the fixed fallback weights (0.8, 0.2), whatever
// cfg holds for w_k and w_g.
func Rank(ctx context.Context, store storage.Store, cfg *config.RetrievalConfig, q Query) ([]Hit, error) {
	seedSize := cfg.SeedSize
	if seedSize <= 0 {
		seedSize = 20
	}

	var kwHits, vecHits []storage.ScoredHit
	var err error

	if q.Text != "" {
		kwHits, err = store.FTSSearch(ctx, q.Namespace, q.Text, seedSize)
		if err != nil {
			return nil, fmt.Errorf("rank: keyword channel: %w", err)
		}
	}
	if len(q.Vector) > 0 {
		vecHits, err = store.VectorKNN(ctx, q.Namespace, q.Vector, seedSize)
		if err != nil {
			return nil, fmt.Errorf("rank: vector channel: %w", err)
		}
	}

	wv, wk, wg := cfg.WeightVector, cfg.WeightKeyword, cfg.WeightGraph
	if len(q.Vector) == 0 {
		// Embedding unavailable: vector drops out, keyword and graph take
		// the fallback weights.
		wv, wk, wg = 0, fallbackWeightKeyword, fallbackWeightGraph
	}

	vecScore := toScoreMap(vecHits)
	kwScore := toScoreMap(kwHits)

	seeds := q.Seeds
	if len(seeds) == 0 {
		seeds = unionTopIDs(kwHits, vecHits, seedSize)
	}

	var graphHits []storage.GraphHit
	if len(seeds) > 0 && wg > 0 {
		bounds := storage.GraphBounds{
			MaxHops:     cfg.GraphDepth,
			MinStrength: cfg.GraphThreshold,
		}
		graphHits, err = graph.Walk(ctx, store, seeds, bounds)
		if err != nil {
			return nil, fmt.Errorf("rank: graph channel: %w", err)
		}
	}
	graphScore := make(map[string]float64, len(graphHits))
	for _, h := range graphHits {
		graphScore[h.MemoryID] = h.GraphScore
	}

	ids := make(map[string]bool)
	for id := range vecScore {
		ids[id] = true
	}
	for id := range kwScore {
		ids[id] = true
	}
	for id := range graphScore {
		ids[id] = true
	}

	candidates := make([]Hit, 0, len(ids))
	for id := range ids {
		comp := ScoreComponents{
			Vector:  vecScore[id],
			Keyword: kwScore[id],
			Graph:   graphScore[id],
		}
		score := wv*comp.Vector + wk*comp.Keyword + wg*comp.Graph
		candidates = append(candidates, Hit{MemoryID: id, Score: score, Components: comp})
	}

	hits, importance, lastAccessed := applyPostFilter(ctx, store, candidates, q)
	breakTies(hits, importance, lastAccessed)
	return hits, nil
}

// applyPostFilter fetches each candidate's memory once and drops any hit
// that fails spec.md §4.5 step 6's default post-filter — archived,
// superseded, or below MinImportance, unless the query opts back in — and
// returns the per-hit importance/last-accessed data breakTies needs, so
// every candidate is only ever fetched once per query.
func applyPostFilter(ctx context.Context, store storage.Store, candidates []Hit, q Query) ([]Hit, map[string]int, map[string]int64) {
	hits := make([]Hit, 0, len(candidates))
	importance := make(map[string]int, len(candidates))
	lastAccessed := make(map[string]int64, len(candidates))

	for _, h := range candidates {
		mem, err := store.Get(ctx, h.MemoryID)
		if err != nil {
			continue // vanished mid-query
		}
		if mem.IsArchived && !q.IncludeArchived {
			continue
		}
		if mem.SupersededBy != "" && !q.IncludeSuperseded {
			continue
		}
		if q.MinImportance > 0 && mem.Importance < q.MinImportance {
			continue
		}

		importance[h.MemoryID] = mem.Importance
		if mem.LastAccessedAt != nil {
			lastAccessed[h.MemoryID] = mem.LastAccessedAt.Unix()
		}
		h.Memory = mem
		hits = append(hits, h)
	}
	return hits, importance, lastAccessed
}

// breakTies sorts hits by descending score, breaking ties by higher
// importance, then more recently accessed, then by id (spec.md §4.5),
// so a fixed index state always produces the same order.
func breakTies(hits []Hit, importance map[string]int, lastAccessed map[string]int64) {
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if importance[a.MemoryID] != importance[b.MemoryID] {
			return importance[a.MemoryID] > importance[b.MemoryID]
		}
		if lastAccessed[a.MemoryID] != lastAccessed[b.MemoryID] {
			return lastAccessed[a.MemoryID] > lastAccessed[b.MemoryID]
		}
		return a.MemoryID < b.MemoryID
	})
}

// fallbackWeightKeyword and fallbackWeightGraph are (w_k, w_g) when the
// query has no vector; together with w_v = 0 they form (0, 0.8, 0.2).
const (
	fallbackWeightKeyword = 0.8
	fallbackWeightGraph   = 0.2
)

func toScoreMap(hits []storage.ScoredHit) map[string]float64 {
	m := make(map[string]float64, len(hits))
	for _, h := range hits {
		m[h.MemoryID] = h.Score
	}
	return m
}

// unionTopIDs builds the seed set for the graph channel from the top-S
// candidates of the keyword and vector channels (spec.md §4.4: the seed set
// for graph expansion is the union of the other channels' top results).
func unionTopIDs(a, b []storage.ScoredHit, seedSize int) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(hits []storage.ScoredHit) {
		for i, h := range hits {
			if i >= seedSize {
				break
			}
			if !seen[h.MemoryID] {
				seen[h.MemoryID] = true
				out = append(out, h.MemoryID)
			}
		}
	}
	add(a)
	add(b)
	return out
}
