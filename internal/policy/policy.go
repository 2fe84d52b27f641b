// Package policy implements the optional agent policy layer (spec.md
// §4.10): per-memory visibility filtering by role, and a co-access
// recorder that tracks which memory pairs keep showing up together in a
// single result set. Neither mechanism has a direct teacher analogue (the
// teacher has no agent-role visibility system); both are built from the
// specification directly, reusing the teacher's general map/JSON
// persistence idiom for the one piece that needs to survive a restart.
package policy

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/fenwick/engram/pkg/types"
)

// Visible reports whether mem is visible to role. An empty VisibleTo set
// means the memory is visible to every role; an empty role means the
// caller did not opt into the policy layer, so nothing is filtered.
func Visible(role string, mem *types.Memory) bool {
	if role == "" || len(mem.VisibleTo) == 0 {
		return true
	}
	for _, r := range mem.VisibleTo {
		if r == role {
			return true
		}
	}
	return false
}

// Filter drops every memory whose visible_to set excludes role, preserving
// order.
func Filter(role string, memories []types.Memory) []types.Memory {
	if role == "" {
		return memories
	}
	out := make([]types.Memory, 0, len(memories))
	for i := range memories {
		if Visible(role, &memories[i]) {
			out = append(out, memories[i])
		}
	}
	return out
}

// PairKey identifies an unordered memory pair, always stored with the
// lexicographically smaller id first so (a, b) and (b, a) collapse to one
// entry.
type PairKey struct {
	First, Second string
}

func newPairKey(a, b string) PairKey {
	if a < b {
		return PairKey{a, b}
	}
	return PairKey{b, a}
}

// PairCount is one co-access tally, used by TopPairs.
type PairCount struct {
	Pair  PairKey
	Count int
}

// CoAccessRecorder tallies how often two memories appear together within
// the top RankThreshold results of a single query (spec.md §4.10). It
// feeds the ranker's future seed expansion; it is explicitly not required
// for retrieval correctness, so it is kept as a lightweight in-process
// counter rather than a transactional store table.
type CoAccessRecorder struct {
	mu            sync.Mutex
	rankThreshold int
	counts        map[PairKey]int
}

// NewCoAccessRecorder returns a recorder that only counts pairs where both
// members rank at or above rankThreshold (1-based) in a result set.
func NewCoAccessRecorder(rankThreshold int) *CoAccessRecorder {
	if rankThreshold <= 0 {
		rankThreshold = 10
	}
	return &CoAccessRecorder{
		rankThreshold: rankThreshold,
		counts:        make(map[PairKey]int),
	}
}

// Record observes one ranked result set (best match first) and increments
// the co-access count for every pair whose both members fall within the
// recorder's rank threshold.
func (r *CoAccessRecorder) Record(rankedIDs []string) {
	limit := len(rankedIDs)
	if limit > r.rankThreshold {
		limit = r.rankThreshold
	}
	if limit < 2 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < limit; i++ {
		for j := i + 1; j < limit; j++ {
			key := newPairKey(rankedIDs[i], rankedIDs[j])
			r.counts[key]++
		}
	}
}

// Count returns how many times a and b have co-occurred above the rank
// threshold.
func (r *CoAccessRecorder) Count(a, b string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[newPairKey(a, b)]
}

// TopPairs returns the n most co-accessed pairs, highest count first,
// ties broken by pair order for determinism.
func (r *CoAccessRecorder) TopPairs(n int) []PairCount {
	r.mu.Lock()
	out := make([]PairCount, 0, len(r.counts))
	for k, c := range r.counts {
		out = append(out, PairCount{Pair: k, Count: c})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].Pair.First != out[j].Pair.First {
			return out[i].Pair.First < out[j].Pair.First
		}
		return out[i].Pair.Second < out[j].Pair.Second
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// snapshotEntry is the JSON-serialisable shape of one counted pair, used so
// a caller can persist Snapshot()'s output via the existing
// Store.Checkpoint key/value mechanism and restore it with Load on restart.
type snapshotEntry struct {
	First  string `json:"first"`
	Second string `json:"second"`
	Count  int    `json:"count"`
}

// Snapshot serialises the current counts to JSON for persistence alongside
// the evolution cycle's own checkpoint values.
func (r *CoAccessRecorder) Snapshot() (string, error) {
	r.mu.Lock()
	entries := make([]snapshotEntry, 0, len(r.counts))
	for k, c := range r.counts {
		entries = append(entries, snapshotEntry{First: k.First, Second: k.Second, Count: c})
	}
	r.mu.Unlock()

	b, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("policy: marshal co-access snapshot: %w", err)
	}
	return string(b), nil
}

// Load restores counts previously produced by Snapshot, replacing whatever
// state the recorder currently holds.
func (r *CoAccessRecorder) Load(data string) error {
	if data == "" {
		return nil
	}
	var entries []snapshotEntry
	if err := json.Unmarshal([]byte(data), &entries); err != nil {
		return fmt.Errorf("policy: unmarshal co-access snapshot: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts = make(map[PairKey]int, len(entries))
	for _, e := range entries {
		r.counts[newPairKey(e.First, e.Second)] = e.Count
	}
	return nil
}
