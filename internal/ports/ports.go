// Package ports defines the narrow, network-backed capability boundary
// between the core and the outside world: deriving structured metadata from
// raw content, and mapping text to embedding vectors (spec.md §4.6, §4.7).
// Both are assumed non-deterministic, rate-limited, and prone to transient
// failure, so every concrete implementation is wrapped in a circuit breaker
// and a rate limiter before the core ever calls it (see Guard in
// breaker.go), grounded on the teacher's internal/llm/circuit_breaker.go.
package ports

import (
	"context"

	"github.com/fenwick/engram/pkg/types"
)

// SuggestedLink is one candidate relationship the Enricher proposes while
// deriving metadata for new content.
type SuggestedLink struct {
	TargetID string
	Type     types.LinkType
	Strength float64
	Reason   string
}

// Derivation is the structured output of an Enricher call.
type Derivation struct {
	Summary         string
	Keywords        []string
	Tags            []string
	MemoryType      types.MemoryType
	SuggestedLinks  []SuggestedLink
}

// ConsolidationDecision is the Enricher's verdict on a consolidation cluster
// (spec.md §4.8).
type ConsolidationDecision struct {
	Action   ConsolidationAction
	WinnerID string // set only for Supersede
	Reason   string
}

// ConsolidationAction is one of the three outcomes the Evolution engine
// applies per cluster.
type ConsolidationAction string

const (
	ConsolidationMerge     ConsolidationAction = "merge"
	ConsolidationSupersede ConsolidationAction = "supersede"
	ConsolidationKeepBoth  ConsolidationAction = "keep_both"
)

// Enricher derives structured metadata from raw content and arbitrates
// consolidation clusters. Implementations are network-backed and must
// report failure rather than block indefinitely; callers pass a
// context.Context carrying the port deadline (default 30s, spec.md §5).
type Enricher interface {
	Enrich(ctx context.Context, content string) (Derivation, error)
	Consolidate(ctx context.Context, candidates []types.Memory) (ConsolidationDecision, error)
}

// Embedder maps text to a unit-norm vector of the dimension fixed at store
// initialisation. A pure function of text modulo model version.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}
