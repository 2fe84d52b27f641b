package evolution

import (
	"context"
	"fmt"
	"time"

	"github.com/fenwick/engram/internal/storage"
)

// RunDecay applies one bounded decay pass over stale, non-user-created
// links (spec.md §4.8, Scenario D). A decayed link's last_traversed_at is
// untouched by the store, so one cycle intentionally processes at most
// batchSize links rather than looping to exhaustion: looping would keep
// re-selecting the same rows (their staleness timestamp does not advance
// after a decay write) and apply strength *= factor to them repeatedly
// within a single cycle. Cadence, not a single call, drains a large
// backlog over successive ticks.
func RunDecay(ctx context.Context, store storage.Store, decayAfter time.Duration, factor, floor float64, batchSize int, now time.Time) (decayed, deleted int, err error) {
	staleSince := now.Add(-decayAfter)
	decayed, deleted, err = store.DecayLinks(ctx, staleSince, factor, floor, batchSize)
	if err != nil {
		return decayed, deleted, fmt.Errorf("evolution: decay links: %w", err)
	}
	return decayed, deleted, nil
}
