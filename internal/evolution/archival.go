package evolution

import (
	"context"
	"fmt"
	"time"

	"github.com/fenwick/engram/internal/engramerr"
	"github.com/fenwick/engram/internal/storage"
	"github.com/fenwick/engram/pkg/types"
)

// archiveIdleAfterDefault mirrors spec.md §4.8's 90-day archival idle
// threshold when the caller's EvolutionConfig.ArchiveIdleAfter is unset.
const archiveIdleAfterDefault = 90 * 24 * time.Hour

// ArchiveIfIdle archives mem when importance <= importanceMax AND it has
// been idle longer than idleAfter AND it has no incoming links (spec.md
// §4.8). Returns whether it archived the memory.
func ArchiveIfIdle(ctx context.Context, store storage.Store, mem *types.Memory, importanceMax int, idleAfter time.Duration, now time.Time) (bool, error) {
	if mem.State() != types.MemoryStateActive {
		return false, nil
	}
	if mem.Importance > importanceMax {
		return false, nil
	}
	if idleAfter <= 0 {
		idleAfter = archiveIdleAfterDefault
	}
	if now.Sub(refTime(mem)) <= idleAfter {
		return false, nil
	}

	inDegree, err := store.InDegree(ctx, mem.ID)
	if err != nil {
		return false, fmt.Errorf("evolution: archive check %s: %w", mem.ID, err)
	}
	if inDegree != 0 {
		return false, nil
	}

	if err := store.Archive(ctx, mem.ID); err != nil && err != engramerr.Conflict {
		return false, fmt.Errorf("evolution: archive %s: %w", mem.ID, err)
	}
	return true, nil
}
