// Package graph implements the bounded, typed-edge breadth-first walker
// used by the hybrid ranker's graph channel (spec.md §4.4).
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/fenwick/engram/internal/engramerr"
	"github.com/fenwick/engram/internal/storage"
)

// boundsChecker tracks nodes/edges/elapsed time against a GraphBounds and
// reports engramerr.GraphBoundsExceeded once any limit is hit.
type boundsChecker struct {
	bounds       storage.GraphBounds
	nodesVisited int
	edgesVisited int
	startTime    time.Time
}

func newBoundsChecker(bounds storage.GraphBounds) *boundsChecker {
	bounds.Normalize()
	return &boundsChecker{bounds: bounds, startTime: time.Now()}
}

// canContinue checks context cancellation, then node/edge/depth/timeout
// bounds, in that order.
func (b *boundsChecker) canContinue(ctx context.Context, depth int) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", engramerr.Cancelled, ctx.Err())
	default:
	}

	if b.nodesVisited >= b.bounds.MaxNodes {
		return fmt.Errorf("%w: max nodes (%d) exceeded", engramerr.GraphBoundsExceeded, b.bounds.MaxNodes)
	}
	if b.edgesVisited >= b.bounds.MaxEdges {
		return fmt.Errorf("%w: max edges (%d) exceeded", engramerr.GraphBoundsExceeded, b.bounds.MaxEdges)
	}
	if depth > b.bounds.MaxHops {
		return fmt.Errorf("%w: max hops (%d) exceeded at depth %d", engramerr.GraphBoundsExceeded, b.bounds.MaxHops, depth)
	}
	if elapsed := time.Since(b.startTime); elapsed >= b.bounds.Timeout {
		return fmt.Errorf("%w: timeout (%v) exceeded after %v", engramerr.GraphBoundsExceeded, b.bounds.Timeout, elapsed)
	}
	return nil
}

func (b *boundsChecker) recordNode() { b.nodesVisited++ }
func (b *boundsChecker) recordEdge() { b.edgesVisited++ }
