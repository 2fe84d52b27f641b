package engine

import (
	"context"
	"time"

	"github.com/fenwick/engram/internal/evolution"
	"github.com/fenwick/engram/internal/events"
	"github.com/fenwick/engram/internal/ports"
)

// EvolveNow runs one maintenance cycle over namespace immediately rather
// than waiting for a caller's own ticker to fire at cfg.Evolution.Cadence
// (spec.md §9: "a single long-lived task driven by a tick signal" — the
// tick itself is the caller's concern, EvolveNow is the tick handler).
func (e *Engine) EvolveNow(ctx context.Context, namespace string) (evolution.Summary, error) {
	if err := e.requireStarted(); err != nil {
		return evolution.Summary{}, err
	}

	summary, err := evolution.RunCycle(ctx, e.store, e.enricherPort(), &e.cfg.Evolution, namespace, time.Now().UTC())
	if err != nil {
		return summary, err
	}

	e.bus.Publish(events.Event{
		Kind:         events.KindEvolutionBatch,
		Consolidated: summary.ClustersFound,
		Decayed:      summary.LinksDecayed,
		Archived:     summary.Archived,
		Recalibrated: summary.Recalibrated,
	})
	return summary, nil
}

// enricherPort returns e.enricher as a ports.Enricher, explicitly nil (not a
// non-nil interface wrapping a nil pointer) when no Enricher is configured,
// so evolution.RunCycle's "enricher != nil" check behaves correctly.
func (e *Engine) enricherPort() ports.Enricher {
	if e.enricher == nil {
		return nil
	}
	return e.enricher
}
