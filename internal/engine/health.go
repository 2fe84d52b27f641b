package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/fenwick/engram/internal/engramerr"
)

// HealthStatus reports the Engine's operational state: whether the backend
// answered a round-trip probe, and the circuit-breaker state of each
// configured port (spec.md §6: "health-check" is part of the core's
// operation set alongside the §4.1/§4.5 verbs).
type HealthStatus struct {
	BackendHealthy bool
	BackendError   string
	EnricherState  string // "", "closed", "open", "half-open"
	EmbedderState  string
}

// HealthCheck probes the backend with a harmless checkpoint round-trip and
// reports each configured port's circuit-breaker state.
func (e *Engine) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{BackendHealthy: true}

	if err := e.store.Checkpoint(ctx, "health_probe", time.Now().UTC().Format(time.RFC3339)); err != nil {
		status.BackendHealthy = false
		status.BackendError = err.Error()
	}
	if e.enricher != nil {
		status.EnricherState = e.enricher.State()
	}
	if e.embedder != nil {
		status.EmbedderState = e.embedder.State()
	}
	return status
}

// Recover attempts a single backend recovery round-trip (spec.md §7:
// "recovery attempt is made once"). The bulk of recovery — clearing a stale
// WAL lock, checkpointing — already happens when the store is opened
// (internal/storage/sqlite/wal_recovery.go); Recover exists for a caller
// that suspects the backend degraded mid-process and wants to confirm it
// before surfacing BackendUnavailable with operator guidance.
func (e *Engine) Recover(ctx context.Context) error {
	if err := e.store.Checkpoint(ctx, "recover_probe", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("%w: recovery probe failed: %v", engramerr.BackendUnavailable, err)
	}
	return nil
}
