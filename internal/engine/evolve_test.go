package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwick/engram/internal/events"
	"github.com/fenwick/engram/pkg/types"
)

func TestEvolveNow_RecalibratesAndReportsSummary(t *testing.T) {
	e, cleanup := newTestEngine(t, nil, nil)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.Create(ctx, types.Draft{Content: "note worth recalibrating", Importance: 9})
		require.NoError(t, err)
	}

	sub := e.Events().Subscribe(4)
	defer sub.Unsubscribe()

	summary, err := e.EvolveNow(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Scanned)

	ev := <-sub.Events
	assert.Equal(t, events.KindEvolutionBatch, ev.Kind)
	assert.Equal(t, summary.Recalibrated, ev.Recalibrated)
}

func TestEvolveNow_RunsWithoutAnEnricherConfigured(t *testing.T) {
	e, cleanup := newTestEngine(t, nil, nil)
	defer cleanup()
	ctx := context.Background()

	_, err := e.Create(ctx, types.Draft{Content: "a lone memory"})
	require.NoError(t, err)

	_, err = e.EvolveNow(ctx, "")
	require.NoError(t, err, "evolution must not fail just because no Enricher is configured for consolidation")
}
