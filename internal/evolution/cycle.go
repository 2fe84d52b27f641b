// Package evolution implements the background maintainer of spec.md §4.8:
// consolidation, link decay, importance recalibration, and archival, run on
// a cadence or on explicit command over the active memory set in bounded
// batches. Grounded on the teacher's internal/engine/decay.go and
// confidence_scorer.go for the scoring-formula shape and
// internal/engine/enrichment_worker.go for the batched-worker-loop idiom,
// reworked around the specified formulas instead of the teacher's.
package evolution

import (
	"context"
	"fmt"
	"time"

	"github.com/fenwick/engram/internal/config"
	"github.com/fenwick/engram/internal/ports"
	"github.com/fenwick/engram/internal/storage"
	"github.com/fenwick/engram/pkg/types"
)

// Summary reports what one RunCycle call did, for logging and tests.
type Summary struct {
	Scanned       int
	Recalibrated  int
	Archived      int
	LinksDecayed  int
	LinksDeleted  int
	ClustersFound int
}

const checkpointKeyPrefix = "evolution_offset:"

// RunCycle walks namespace's active memory set in cfg.BatchSize-sized
// batches, recalibrating importance and archiving idle memories as it goes
// and, when an enricher is given, running consolidation over each batch;
// after the last batch it runs one decay pass. Progress is checkpointed after each batch so an interrupted cycle
// resumes from where it left off rather than restarting (spec.md §4.8).
func RunCycle(ctx context.Context, store storage.Store, enricher ports.Enricher, cfg *config.EvolutionConfig, namespace string, now time.Time) (Summary, error) {
	var summary Summary

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 200
	}

	checkpointKey := checkpointKeyPrefix + namespace
	cursor := ""
	if raw, ok, err := store.GetCheckpoint(ctx, checkpointKey); err == nil && ok {
		cursor = raw
	}

	for {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		ids, err := store.ActiveMemoryIDs(ctx, namespace, batchSize, cursor)
		if err != nil {
			return summary, fmt.Errorf("evolution: scan active memories: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		batch := make([]*types.Memory, 0, len(ids))
		for _, id := range ids {
			mem, err := store.Get(ctx, id)
			if err != nil {
				continue // deleted between scan and fetch; skip
			}
			batch = append(batch, mem)

			summary.Scanned++

			if err := RecalibrateImportance(ctx, store, mem, now); err != nil {
				return summary, err
			} else {
				summary.Recalibrated++
			}

			archived, err := ArchiveIfIdle(ctx, store, mem, cfg.ArchiveImportanceMax, cfg.ArchiveIdleAfter, now)
			if err != nil {
				return summary, err
			}
			if archived {
				summary.Archived++
			}
		}

		if enricher != nil {
			clusters, err := RunConsolidation(ctx, store, enricher, namespace, batch, ConsolidationThresholds{
				Cosine:  cfg.ConsolidationCosineThreshold,
				Jaccard: cfg.ConsolidationJaccardThreshold,
			})
			if err != nil {
				return summary, err
			}
			summary.ClustersFound += clusters
		}

		cursor = ids[len(ids)-1]
		if err := store.Checkpoint(ctx, checkpointKey, cursor); err != nil {
			return summary, fmt.Errorf("evolution: checkpoint: %w", err)
		}

		if len(ids) < batchSize {
			break
		}
	}

	decayed, deleted, err := RunDecay(ctx, store, cfg.DecayAfter, cfg.DecayFactor, cfg.DecayFloor, batchSize, now)
	if err != nil {
		return summary, err
	}
	summary.LinksDecayed = decayed
	summary.LinksDeleted = deleted

	// Cycle completed cleanly: reset the cursor so the next cycle re-scans
	// the whole namespace rather than resuming past memories created since.
	if err := store.Checkpoint(ctx, checkpointKey, ""); err != nil {
		return summary, fmt.Errorf("evolution: reset checkpoint: %w", err)
	}

	return summary, nil
}
