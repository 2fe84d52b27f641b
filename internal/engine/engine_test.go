package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwick/engram/internal/config"
	"github.com/fenwick/engram/internal/engine"
	"github.com/fenwick/engram/internal/events"
	"github.com/fenwick/engram/internal/ports"
	"github.com/fenwick/engram/internal/storage/sqlite"
	"github.com/fenwick/engram/pkg/types"
)

func testConfig() *config.Config {
	cfg := config.Load()
	cfg.Ports.RateLimitPerSecond = 1000 // tests issue many port calls quickly
	cfg.Ports.Timeout = 5 * time.Second
	cfg.Storage.EmbeddingDim = 4
	return cfg
}

func newTestEngine(t *testing.T, enricher ports.Enricher, embedder ports.Embedder) (*engine.Engine, func()) {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)

	e, err := engine.New(s, enricher, embedder, testConfig())
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	return e, func() { s.Close() }
}

func TestCreate_StoresEnrichesAndEmbedsOnHappyPath(t *testing.T) {
	enricher := &ports.FakeEnricher{Derivations: []ports.Derivation{{
		Summary:    "a crisp summary",
		Keywords:   []string{"redis"},
		Tags:       []string{"decision"},
		MemoryType: types.MemoryTypeArchitectureDecision,
	}}}
	embedder := &ports.FakeEmbedder{Dim: 4}
	e, cleanup := newTestEngine(t, enricher, embedder)
	defer cleanup()

	sub := e.Events().Subscribe(4)
	defer sub.Unsubscribe()

	mem, err := e.Create(context.Background(), types.Draft{Content: "Redis for session storage"})
	require.NoError(t, err)
	assert.Equal(t, "a crisp summary", mem.Summary)
	assert.Equal(t, []string{"redis"}, mem.Keywords)
	assert.Equal(t, types.MemoryTypeArchitectureDecision, mem.MemoryType)

	ev := <-sub.Events
	assert.Equal(t, events.KindMemoryStored, ev.Kind)
	assert.Equal(t, mem.ID, ev.MemoryID)
}

func TestCreate_DegradesOnEnricherFailure(t *testing.T) {
	enricher := &ports.AlwaysFailEnricher{}
	e, cleanup := newTestEngine(t, enricher, nil)
	defer cleanup()

	sub := e.Events().Subscribe(4)
	defer sub.Unsubscribe()

	mem, err := e.Create(context.Background(), types.Draft{Content: "quick fix for the flaky test"})
	require.NoError(t, err)
	assert.NotEmpty(t, mem.Summary)
	assert.Empty(t, mem.Tags)
	assert.Equal(t, types.MemoryTypeReference, mem.MemoryType)

	var sawDegraded, sawStored bool
	for i := 0; i < 2; i++ {
		ev := <-sub.Events
		switch ev.Kind {
		case events.KindPortDegraded:
			sawDegraded = true
			assert.Equal(t, "enricher", ev.PortName)
		case events.KindMemoryStored:
			sawStored = true
		}
	}
	assert.True(t, sawDegraded)
	assert.True(t, sawStored)
}

func TestCreate_DegradesOnEmbedderFailure(t *testing.T) {
	embedder := &ports.FakeEmbedder{Err: errors.New("embedder backend unreachable")}
	e, cleanup := newTestEngine(t, nil, embedder)
	defer cleanup()

	mem, err := e.Create(context.Background(), types.Draft{Content: "content without a vector"})
	require.NoError(t, err)
	assert.NotEmpty(t, mem.ID)
}

func TestGet_HidesMemoryNotVisibleToRole(t *testing.T) {
	e, cleanup := newTestEngine(t, nil, nil)
	defer cleanup()

	mem, err := e.Create(context.Background(), types.Draft{Content: "planner-only note", VisibleTo: []string{"planner"}})
	require.NoError(t, err)

	_, err = e.Get(context.Background(), "coder", mem.ID)
	assert.Error(t, err)

	got, err := e.Get(context.Background(), "planner", mem.ID)
	require.NoError(t, err)
	assert.Equal(t, mem.ID, got.ID)
}

func TestSupersede_PublishesEventAndMarksOldSuperseded(t *testing.T) {
	e, cleanup := newTestEngine(t, nil, nil)
	defer cleanup()
	ctx := context.Background()

	old, err := e.Create(ctx, types.Draft{Content: "use PostgreSQL 14"})
	require.NoError(t, err)
	next, err := e.Create(ctx, types.Draft{Content: "use PostgreSQL 15 with pgvector"})
	require.NoError(t, err)

	sub := e.Events().Subscribe(4)
	defer sub.Unsubscribe()

	require.NoError(t, e.Supersede(ctx, old.ID, next.ID))

	got, err := e.Get(ctx, "", old.ID)
	require.NoError(t, err)
	assert.Equal(t, types.MemoryStateSuperseded, got.State())
	assert.Equal(t, next.ID, got.SupersededBy)

	ev := <-sub.Events
	assert.Equal(t, events.KindMemorySuperseded, ev.Kind)
	assert.Equal(t, old.ID, ev.OldID)
	assert.Equal(t, next.ID, ev.NewID)
}

func TestHealthCheck_ReportsPortStates(t *testing.T) {
	e, cleanup := newTestEngine(t, &ports.FakeEnricher{}, &ports.FakeEmbedder{Dim: 4})
	defer cleanup()

	status := e.HealthCheck(context.Background())
	assert.True(t, status.BackendHealthy)
	assert.Equal(t, "closed", status.EnricherState)
	assert.Equal(t, "closed", status.EmbedderState)
}
