package graph

import (
	"container/heap"
	"context"
	"fmt"

	"github.com/fenwick/engram/internal/storage"
	"github.com/fenwick/engram/pkg/types"
)

// Walk performs a bounded, typed-edge traversal from seeds, returning the
// best graph_score reached for every node discovered (spec.md §4.4):
//
//	graph_score(n) = max over paths reaching n of the product of the
//	strengths of the edges on that path, ties broken by the shorter path.
//
// Because strength lies in (0,1], the product only shrinks as a path grows,
// so the best-product path to any node is found by a Dijkstra-style
// best-first search ordered by descending running product. Each link is
// traversed at most once per run (a self-link included), and every link
// actually traversed has its last_traversed_at/traversal_count bumped in a
// single batched Store.RecordTraversal call once the walk completes.
func Walk(ctx context.Context, store storage.Store, seeds []string, bounds storage.GraphBounds) ([]storage.GraphHit, error) {
	bounds.Normalize()
	checker := newBoundsChecker(bounds)

	best := make(map[string]storage.GraphHit, len(seeds))
	seen := make(map[string]bool) // linkID -> traversed this run

	pq := &frontier{}
	heap.Init(pq)
	for _, s := range seeds {
		heap.Push(pq, frontierNode{id: s, score: 1.0, depth: 0})
		best[s] = storage.GraphHit{MemoryID: s, GraphScore: 1.0, PathLength: 0}
	}

	var traversedLinkIDs []string

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(frontierNode)

		if existing, ok := best[cur.id]; ok && cur.id != "" {
			// Stale entry: a better (or equal, shorter) path already won.
			if existing.GraphScore > cur.score || (existing.GraphScore == cur.score && existing.PathLength < cur.depth) {
				continue
			}
		}

		if err := checker.canContinue(ctx, cur.depth); err != nil {
			break
		}
		checker.recordNode()

		links, err := store.OutgoingLinks(ctx, cur.id, bounds)
		if err != nil {
			return nil, fmt.Errorf("graph walk: outgoing links for %s: %w", cur.id, err)
		}

		for _, link := range links {
			if checker.canContinue(ctx, cur.depth+1) != nil {
				break
			}
			if seen[link.ID] {
				continue // every link, self-link included, traversed at most once per query
			}
			seen[link.ID] = true
			traversedLinkIDs = append(traversedLinkIDs, link.ID)
			checker.recordEdge()

			next := cur.score * link.Strength
			nextDepth := cur.depth + 1

			existing, ok := best[link.Target]
			if !ok || next > existing.GraphScore || (next == existing.GraphScore && nextDepth < existing.PathLength) {
				best[link.Target] = storage.GraphHit{MemoryID: link.Target, GraphScore: next, PathLength: nextDepth}
				heap.Push(pq, frontierNode{id: link.Target, score: next, depth: nextDepth})
			}
		}
	}

	if len(traversedLinkIDs) > 0 {
		if err := store.RecordTraversal(ctx, traversedLinkIDs); err != nil {
			return nil, fmt.Errorf("graph walk: record traversal: %w", err)
		}
	}

	hits := make([]storage.GraphHit, 0, len(best))
	for _, h := range best {
		hits = append(hits, h)
	}
	return hits, nil
}

// frontierNode is one entry in the best-first search priority queue.
type frontierNode struct {
	id    string
	score float64
	depth int
}

// frontier is a max-heap on score (ties broken by shallower depth first),
// so the search always expands the currently-best-known path next.
type frontier []frontierNode

func (f frontier) Len() int { return len(f) }
func (f frontier) Less(i, j int) bool {
	if f[i].score != f[j].score {
		return f[i].score > f[j].score
	}
	return f[i].depth < f[j].depth
}
func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x interface{}) { *f = append(*f, x.(frontierNode)) }
func (f *frontier) Pop() interface{} {
	old := *f
	n := len(old)
	item := old[n-1]
	*f = old[:n-1]
	return item
}

// TypesLinkTypeSet is a convenience constructor for GraphBounds.AllowedLinkTypes
// from a list of typed link constants, used by callers that want to restrict
// a walk to specific edge kinds.
func TypesLinkTypeSet(types_ ...types.LinkType) []string {
	out := make([]string, len(types_))
	for i, t := range types_ {
		out[i] = string(t)
	}
	return out
}
