package evolution

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/fenwick/engram/internal/ports"
	"github.com/fenwick/engram/internal/storage"
	"github.com/fenwick/engram/pkg/types"
)

// ConsolidationThresholds holds the two similarity gates a pair must clear
// to be considered for the same cluster (spec.md §4.8).
type ConsolidationThresholds struct {
	Cosine  float64 // default 0.92
	Jaccard float64 // default 0.4
}

// RunConsolidation finds candidate clusters within a bounded batch of
// memories (already filtered to one namespace by the caller), arbitrates
// each cluster of size >= 2 through the Enricher, and applies its decision.
// A MERGE decision is applied by one Store.Merge call, a single transaction.
// SUPERSEDE and KEEP_BOTH issue one Store.Supersede per loser or one
// Store.Link per member pair, then one consolidate audit append, each its
// own transaction; a failure partway through leaves the earlier calls
// committed.
func RunConsolidation(ctx context.Context, store storage.Store, enricher ports.Enricher, namespace string, batch []*types.Memory, th ConsolidationThresholds) (int, error) {
	if th.Cosine <= 0 {
		th.Cosine = 0.92
	}
	if th.Jaccard <= 0 {
		th.Jaccard = 0.4
	}

	ids := make([]string, len(batch))
	byID := make(map[string]*types.Memory, len(batch))
	for i, m := range batch {
		ids[i] = m.ID
		byID[m.ID] = m
	}

	vectors, err := store.VectorsForIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("evolution: consolidation vectors: %w", err)
	}

	clusters := findClusters(batch, vectors, th)
	resolved := 0

	for _, cluster := range clusters {
		if len(cluster) < 2 {
			continue
		}
		candidates := make([]types.Memory, len(cluster))
		for i, id := range cluster {
			candidates[i] = *byID[id]
		}

		decision, err := enricher.Consolidate(ctx, candidates)
		if err != nil {
			// Enricher unavailable: skip this cluster, leave memories untouched,
			// a later cycle retries since nothing was written (idempotent).
			continue
		}

		if err := applyDecision(ctx, store, namespace, decision, cluster, byID); err != nil {
			return resolved, fmt.Errorf("evolution: apply consolidation decision: %w", err)
		}
		resolved++
	}
	return resolved, nil
}

func applyDecision(ctx context.Context, store storage.Store, namespace string, decision ports.ConsolidationDecision, cluster []string, byID map[string]*types.Memory) error {
	switch decision.Action {
	case ports.ConsolidationMerge:
		var contents []string
		for _, id := range cluster {
			contents = append(contents, byID[id].Content)
		}
		combined := strings.Join(contents, "\n---\n")
		_, err := store.Merge(ctx, namespace, combined, cluster, "evolution")
		return err

	case ports.ConsolidationSupersede:
		winner := decision.WinnerID
		if winner == "" {
			return nil // malformed decision; skip rather than guess a winner
		}
		for _, id := range cluster {
			if id == winner {
				continue
			}
			if err := store.Supersede(ctx, id, winner); err != nil {
				return err
			}
		}
		return recordConsolidation(ctx, store, "supersede", winner, cluster)

	case ports.ConsolidationKeepBoth:
		for i := 0; i < len(cluster); i++ {
			for j := i + 1; j < len(cluster); j++ {
				if _, err := store.Link(ctx, cluster[i], cluster[j], types.LinkReferences, 0.8, decision.Reason, false); err != nil {
					return err
				}
			}
		}
		return recordConsolidation(ctx, store, "keep_both", cluster[0], cluster)

	default:
		return nil
	}
}

// recordConsolidation writes the single audit row spec.md §4.8 Scenario F
// requires per resolved cluster, for the two decision kinds that don't
// already get one from a dedicated Store call (Merge appends its own,
// scoped to the transaction that creates the winner memory).
func recordConsolidation(ctx context.Context, store storage.Store, decision, anchorID string, cluster []string) error {
	_, err := store.AppendAudit(ctx, types.AuditEntry{
		Timestamp: time.Now().UTC(),
		Operation: types.AuditConsolidate,
		MemoryID:  anchorID,
		Metadata:  map[string]interface{}{"decision": decision, "members": cluster},
	})
	return err
}

// findClusters groups memories into connected components under the
// pairwise cosine-AND-Jaccard gate, same namespace being the caller's
// responsibility (batch is assumed pre-filtered).
func findClusters(batch []*types.Memory, vectors map[string][]float32, th ConsolidationThresholds) [][]string {
	parent := make(map[string]string, len(batch))
	var find func(string) string
	find = func(x string) string {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}
	for _, m := range batch {
		parent[m.ID] = m.ID
	}

	for i := 0; i < len(batch); i++ {
		for j := i + 1; j < len(batch); j++ {
			a, b := batch[i], batch[j]
			va, okA := vectors[a.ID]
			vb, okB := vectors[b.ID]
			if !okA || !okB {
				continue
			}
			if cosineSimilarity(va, vb) < th.Cosine {
				continue
			}
			if jaccard(a.Keywords, b.Keywords) < th.Jaccard {
				continue
			}
			union(a.ID, b.ID)
		}
	}

	groups := make(map[string][]string)
	for _, m := range batch {
		root := find(m.ID)
		groups[root] = append(groups[root], m.ID)
	}
	var clusters [][]string
	for _, g := range groups {
		if len(g) >= 2 {
			clusters = append(clusters, g)
		}
	}
	return clusters
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, s := range a {
		setA[strings.ToLower(s)] = true
	}
	setB := make(map[string]bool, len(b))
	for _, s := range b {
		setB[strings.ToLower(s)] = true
	}
	var intersection, union int
	seen := make(map[string]bool, len(setA)+len(setB))
	for s := range setA {
		seen[s] = true
	}
	for s := range setB {
		seen[s] = true
	}
	union = len(seen)
	for s := range setA {
		if setB[s] {
			intersection++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
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
