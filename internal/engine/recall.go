package engine

import (
	"context"

	"github.com/fenwick/engram/internal/events"
	"github.com/fenwick/engram/internal/policy"
	"github.com/fenwick/engram/internal/rank"
	"github.com/fenwick/engram/pkg/types"
)

// RecallResult pairs a ranked memory with its fused score breakdown.
type RecallResult struct {
	Memory     types.Memory
	Score      float64
	Components rank.ScoreComponents
}

// RecallOptions carries spec.md §4.5's optional recall inputs beyond the
// query text itself. The zero value applies the default post-filter:
// archived and superseded memories excluded, no importance floor.
type RecallOptions struct {
	MinImportance     int
	IncludeArchived   bool
	IncludeSuperseded bool
}

// Recall runs the hybrid ranker for a query, embedding the query text when
// an Embedder is available (falling back to the renormalised keyword+graph
// weights on embed failure, spec.md §4.5/§7), applies the default
// archived/superseded/importance post-filter plus agent-policy visibility
// filtering, records co-access for the returned set, publishes
// MemoryRecalled, and returns up to limit results.
func (e *Engine) Recall(ctx context.Context, role, namespace, query string, limit int, opts RecallOptions) ([]RecallResult, error) {
	if err := e.requireStarted(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	var vector []float32
	if e.embedder != nil && query != "" {
		v, err := e.embedder.Embed(ctx, query)
		if err != nil {
			e.bus.Publish(events.Event{Kind: events.KindPortDegraded, PortName: "embedder", Reason: err.Error()})
		} else {
			vector = v
		}
	}

	hits, err := rank.Rank(ctx, e.store, &e.cfg.Retrieval, rank.Query{
		Namespace:         namespace,
		Text:              query,
		Vector:            vector,
		MinImportance:     opts.MinImportance,
		IncludeArchived:   opts.IncludeArchived,
		IncludeSuperseded: opts.IncludeSuperseded,
	})
	if err != nil {
		return nil, err
	}

	results := make([]RecallResult, 0, len(hits))
	rankedIDs := make([]string, 0, len(hits))
	for _, h := range hits {
		if len(results) >= limit {
			break
		}
		mem := h.Memory // already fetched by rank.Rank's post-filter; no second Get
		if !policy.Visible(role, mem) {
			continue
		}
		results = append(results, RecallResult{Memory: *mem, Score: h.Score, Components: h.Components})
		rankedIDs = append(rankedIDs, h.MemoryID)
		if err := e.store.Touch(ctx, mem.ID); err != nil {
			// Best-effort: a failed access-time bump on one hit shouldn't
			// discard the rest of an otherwise-good recall result.
			e.bus.Publish(events.Event{Kind: events.KindPortDegraded, PortName: "store.Touch", Reason: err.Error()})
		}
	}

	e.coAccess.Record(rankedIDs)

	hitIDs := make([]string, len(results))
	for i, r := range results {
		hitIDs[i] = r.Memory.ID
	}
	e.bus.Publish(events.Event{Kind: events.KindMemoryRecalled, Query: query, HitIDs: hitIDs})

	return results, nil
}
