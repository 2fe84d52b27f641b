package ports

import (
	"context"

	"github.com/fenwick/engram/internal/config"
	"github.com/fenwick/engram/internal/engramerr"
	"github.com/fenwick/engram/pkg/types"
)

// GuardedEnricher decorates an Enricher with a circuit breaker, rate
// limiter, and deadline, so every call site gets spec.md §7's degradation
// contract for free instead of re-implementing it per caller.
type GuardedEnricher struct {
	inner   Enricher
	guard   *Guard
	timeout config.PortConfig
}

func NewGuardedEnricher(inner Enricher, cfg config.PortConfig) *GuardedEnricher {
	return &GuardedEnricher{
		inner:   inner,
		guard:   NewGuard("enricher", cfg, engramerr.EnrichmentUnavailable),
		timeout: cfg,
	}
}

func (g *GuardedEnricher) Enrich(ctx context.Context, content string) (Derivation, error) {
	result, err := g.guard.Call(ctx, g.timeout.Timeout, func(ctx context.Context) (interface{}, error) {
		return g.inner.Enrich(ctx, content)
	})
	if err != nil {
		return Derivation{}, err
	}
	return result.(Derivation), nil
}

func (g *GuardedEnricher) Consolidate(ctx context.Context, candidates []types.Memory) (ConsolidationDecision, error) {
	result, err := g.guard.Call(ctx, g.timeout.Timeout, func(ctx context.Context) (interface{}, error) {
		return g.inner.Consolidate(ctx, candidates)
	})
	if err != nil {
		return ConsolidationDecision{}, err
	}
	return result.(ConsolidationDecision), nil
}

// State exposes the underlying breaker's state for health reporting.
func (g *GuardedEnricher) State() string { return g.guard.State() }

// GuardedEmbedder is the Embedder analogue of GuardedEnricher.
type GuardedEmbedder struct {
	inner   Embedder
	guard   *Guard
	timeout config.PortConfig
}

func NewGuardedEmbedder(inner Embedder, cfg config.PortConfig) *GuardedEmbedder {
	return &GuardedEmbedder{
		inner:   inner,
		guard:   NewGuard("embedder", cfg, engramerr.EmbeddingUnavailable),
		timeout: cfg,
	}
}

func (g *GuardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := g.guard.Call(ctx, g.timeout.Timeout, func(ctx context.Context) (interface{}, error) {
		return g.inner.Embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}

func (g *GuardedEmbedder) Model() string { return g.inner.Model() }

func (g *GuardedEmbedder) State() string { return g.guard.State() }
