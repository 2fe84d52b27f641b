// Package engine wires storage, ports, ranking, evolution, audit, policy
// and the event bus into one value constructed at startup and passed by
// reference (spec.md §9 Design Notes: replace mutable global process state
// with an explicit Engine value). Grounded on the teacher's MemoryEngine
// (internal/engine/memory_engine.go) for the overall lifecycle shape
// (started/shuttingDown flags under a mutex, Start/Shutdown, facade methods
// delegating to sub-components) but not its async enrichment-worker-queue
// architecture: the degradation contract here (spec.md §7) is applied
// synchronously on the calling task, since the teacher's own global-handle
// and background-queue shape is exactly the pattern this redesign retires.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/fenwick/engram/internal/config"
	"github.com/fenwick/engram/internal/engramerr"
	"github.com/fenwick/engram/internal/events"
	"github.com/fenwick/engram/internal/policy"
	"github.com/fenwick/engram/internal/ports"
	"github.com/fenwick/engram/internal/storage"
	"github.com/fenwick/engram/pkg/types"
)

// Engine is the single entry point a caller constructs once and threads
// through the rest of the process. It owns no goroutines of its own;
// Evolution cycles are driven by an explicit EvolveNow call or a caller's
// own ticker, per spec.md §9's "cooperative background evolution" note.
type Engine struct {
	store    storage.Store
	enricher *ports.GuardedEnricher // nil when no Enricher is configured
	embedder *ports.GuardedEmbedder // nil when no Embedder is configured
	bus      *events.Bus
	coAccess *policy.CoAccessRecorder
	cfg      *config.Config

	mu      sync.RWMutex
	started bool
}

// New constructs an Engine over store, optionally wrapping enricher and
// embedder in circuit breakers per cfg.Ports. Either port may be nil: the
// Engine runs in degraded mode for that capability from the start, exactly
// as it would after a live port trips its breaker.
func New(store storage.Store, enricher ports.Enricher, embedder ports.Embedder, cfg *config.Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("engine: storage is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("engine: config is required")
	}

	e := &Engine{
		store:    store,
		bus:      events.NewBus(),
		coAccess: policy.NewCoAccessRecorder(10),
		cfg:      cfg,
	}
	if enricher != nil {
		e.enricher = ports.NewGuardedEnricher(enricher, cfg.Ports)
	}
	if embedder != nil {
		e.embedder = ports.NewGuardedEmbedder(embedder, cfg.Ports)
	}
	return e, nil
}

// Start performs one-time initialisation: fixing the vector dimension the
// first time an embedder is present (spec.md's resolution of the vector
// storage open question). Calling Start twice is an error, matching the
// teacher's MemoryEngine.Start contract.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("engine: already started")
	}
	if e.embedder != nil {
		if err := e.store.InitDimension(ctx, e.cfg.Storage.EmbeddingDim); err != nil {
			return err
		}
	}
	e.started = true
	return nil
}

// Shutdown marks the engine stopped. The store itself is closed separately
// by whoever opened it; Engine does not own that lifecycle.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return fmt.Errorf("engine: not started")
	}
	e.started = false
	return nil
}

// Events returns the bus subscribers attach to.
func (e *Engine) Events() *events.Bus { return e.bus }

func (e *Engine) requireStarted() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.started {
		return fmt.Errorf("engine: not started")
	}
	return nil
}

// Create stores a new memory, enriching and embedding it when those ports
// are available and healthy. Either port failing degrades the write rather
// than failing it (spec.md §7, Scenario C): a trivial summary and empty
// tags/keywords stand in for a failed Enricher, no vector row for a failed
// Embedder, and a PortDegraded event is emitted for each.
func (e *Engine) Create(ctx context.Context, draft types.Draft) (*types.Memory, error) {
	if err := e.requireStarted(); err != nil {
		return nil, err
	}

	var derivation ports.Derivation
	enriched := false
	if e.enricher != nil {
		d, err := e.enricher.Enrich(ctx, draft.Content)
		if err != nil {
			e.bus.Publish(events.Event{Kind: events.KindPortDegraded, PortName: "enricher", Reason: err.Error()})
		} else {
			derivation = d
			enriched = true
			if len(draft.Tags) == 0 {
				draft.Tags = derivation.Tags
			}
			if len(draft.Keywords) == 0 {
				draft.Keywords = derivation.Keywords
			}
			if draft.MemoryType == "" {
				draft.MemoryType = derivation.MemoryType
			}
		}
	}

	mem, err := e.store.Create(ctx, draft)
	if err != nil {
		return nil, err
	}

	if enriched && derivation.Summary != "" {
		summary := derivation.Summary
		updated, err := e.store.Update(ctx, mem.ID, types.Patch{Summary: &summary})
		if err != nil {
			return nil, err
		}
		mem = updated
	}

	if enriched {
		for _, sl := range derivation.SuggestedLinks {
			if _, err := e.store.Link(ctx, mem.ID, sl.TargetID, sl.Type, sl.Strength, sl.Reason, false); err != nil {
				continue // a suggestion pointing at a vanished or invalid target doesn't fail the create
			}
			e.bus.Publish(events.Event{Kind: events.KindLinkCreated, Source: mem.ID, Target: sl.TargetID, LinkType: string(sl.Type)})
		}
	}

	if e.embedder != nil {
		vec, err := e.embedder.Embed(ctx, draft.Content)
		if err != nil {
			e.bus.Publish(events.Event{Kind: events.KindPortDegraded, PortName: "embedder", Reason: err.Error()})
		} else if err := e.store.PutVector(ctx, mem.ID, vec, e.embedder.Model()); err != nil {
			return nil, err
		}
	}

	e.bus.Publish(events.Event{Kind: events.KindMemoryStored, MemoryID: mem.ID, Namespace: mem.Namespace})
	return mem, nil
}

// Get fetches a memory by id, hiding it (as NotFound) from a role it is not
// visible_to, consistent with policy.Filter's treatment of List/Recall
// results: a point lookup is still a query the policy layer applies to.
func (e *Engine) Get(ctx context.Context, role, id string) (*types.Memory, error) {
	mem, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !policy.Visible(role, mem) {
		return nil, engramerr.NotFound
	}
	return mem, nil
}

// List fetches a page of memories, filtering out rows not visible_to role.
func (e *Engine) List(ctx context.Context, role string, opts storage.ListOptions) (*storage.PaginatedResult[types.Memory], error) {
	result, err := e.store.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	result.Items = policy.Filter(role, result.Items)
	return result, nil
}

// Update applies patch and publishes MemoryUpdated.
func (e *Engine) Update(ctx context.Context, id string, patch types.Patch) (*types.Memory, error) {
	mem, err := e.store.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	e.bus.Publish(events.Event{Kind: events.KindMemoryUpdated, MemoryID: mem.ID})
	return mem, nil
}

// Archive transitions id to archived and publishes MemoryArchived.
func (e *Engine) Archive(ctx context.Context, id string) error {
	if err := e.store.Archive(ctx, id); err != nil {
		return err
	}
	e.bus.Publish(events.Event{Kind: events.KindMemoryArchived, MemoryID: id})
	return nil
}

// Unarchive transitions id back to active. No dedicated event kind is named
// for this in spec.md §6, so it reuses MemoryUpdated.
func (e *Engine) Unarchive(ctx context.Context, id string) error {
	if err := e.store.Unarchive(ctx, id); err != nil {
		return err
	}
	e.bus.Publish(events.Event{Kind: events.KindMemoryUpdated, MemoryID: id})
	return nil
}

// Supersede marks oldID superseded by newID and publishes MemorySuperseded.
func (e *Engine) Supersede(ctx context.Context, oldID, newID string) error {
	if err := e.store.Supersede(ctx, oldID, newID); err != nil {
		return err
	}
	e.bus.Publish(events.Event{Kind: events.KindMemorySuperseded, OldID: oldID, NewID: newID})
	return nil
}

// Delete removes id permanently. Admin-only by convention of the caller;
// the Engine itself does not authorize, it only executes.
func (e *Engine) Delete(ctx context.Context, id string) error {
	return e.store.Delete(ctx, id)
}

// Merge combines memberIDs into one new memory, grounded on the Evolution
// engine's own use of Store.Merge for consolidation clusters (spec.md §4.8)
// but exposed here for a caller that wants to merge memories outside an
// evolution cycle.
func (e *Engine) Merge(ctx context.Context, namespace, combinedContent string, memberIDs []string, createdBy string) (*types.Memory, error) {
	mem, err := e.store.Merge(ctx, namespace, combinedContent, memberIDs, createdBy)
	if err != nil {
		return nil, err
	}
	e.bus.Publish(events.Event{Kind: events.KindMemoryStored, MemoryID: mem.ID, Namespace: mem.Namespace})
	return mem, nil
}

// Link creates or strengthens a link and publishes LinkCreated.
func (e *Engine) Link(ctx context.Context, source, target string, linkType types.LinkType, strength float64, reason string, userCreated bool) (*types.Link, error) {
	link, err := e.store.Link(ctx, source, target, linkType, strength, reason, userCreated)
	if err != nil {
		return nil, err
	}
	e.bus.Publish(events.Event{Kind: events.KindLinkCreated, Source: source, Target: target, LinkType: string(linkType)})
	return link, nil
}

// DeleteLink removes a link and publishes LinkDeleted.
func (e *Engine) DeleteLink(ctx context.Context, source, target string, linkType types.LinkType) error {
	if err := e.store.DeleteLink(ctx, source, target, linkType); err != nil {
		return err
	}
	e.bus.Publish(events.Event{Kind: events.KindLinkDeleted, Source: source, Target: target, LinkType: string(linkType)})
	return nil
}
