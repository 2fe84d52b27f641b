package evolution

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/fenwick/engram/internal/storage"
	"github.com/fenwick/engram/pkg/types"
)

// accessFactorNormCap bounds the access_factor normalisation: access counts
// are compared against log(1+accessFactorNormCap), clamped to [0,1], so a
// handful of realistic access counts span the range instead of needing
// thousands of accesses to approach 1.0. Not specified numerically by
// spec.md §4.8 ("normalised"); chosen analogous to the teacher's
// confidence_scorer.go entity-count bonus bands, recorded as an Open
// Question resolution in DESIGN.md.
const accessFactorNormCap = 50

// RecalibrateImportance applies spec.md §4.8's literal formula to a single
// memory and, if the result differs from the current value, writes it back
// via Store.Update (which appends the audit `update` row itself).
//
//	new_importance = clamp(1,10, round(base*0.4 + access*0.3 + recency*0.2 + graph*0.1))
func RecalibrateImportance(ctx context.Context, store storage.Store, mem *types.Memory, now time.Time) error {
	inDegree, err := store.InDegree(ctx, mem.ID)
	if err != nil {
		return fmt.Errorf("evolution: recalibrate %s: %w", mem.ID, err)
	}

	base := float64(mem.Importance)
	access := accessFactor(mem.AccessCount)
	recency := recencyFactor(refTime(mem), now)
	graph := graphFactor(inDegree)

	raw := base*0.4 + access*0.3 + recency*0.2 + graph*0.1
	newImportance := clampImportance(int(math.Round(raw)))

	if newImportance == mem.Importance {
		return nil
	}

	_, err = store.Update(ctx, mem.ID, types.Patch{
		Importance: &newImportance,
		ModifiedBy: "evolution",
	})
	if err != nil {
		return fmt.Errorf("evolution: write recalibrated importance for %s: %w", mem.ID, err)
	}
	return nil
}

// refTime mirrors the teacher's decay_manager.go refTime: prefer
// LastAccessedAt, fall back to CreatedAt.
func refTime(mem *types.Memory) time.Time {
	if mem.LastAccessedAt != nil && !mem.LastAccessedAt.IsZero() {
		return *mem.LastAccessedAt
	}
	return mem.CreatedAt
}

// accessFactor normalises log(1+access_count) onto [0,1].
func accessFactor(accessCount int) float64 {
	if accessCount < 0 {
		accessCount = 0
	}
	v := math.Log(1+float64(accessCount)) / math.Log(1+float64(accessFactorNormCap))
	return clamp01(v)
}

// recencyFactor implements exp(-Δdays/30).
func recencyFactor(ref, now time.Time) float64 {
	days := now.Sub(ref).Hours() / 24.0
	if days < 0 {
		days = 0
	}
	return math.Exp(-days / 30.0)
}

// graphFactor implements min(1, in_degree/5).
func graphFactor(inDegree int) float64 {
	return clamp01(float64(inDegree) / 5.0)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampImportance(v int) int {
	if v < 1 {
		return 1
	}
	if v > 10 {
		return 10
	}
	return v
}
