// Package cluster implements the temporal clustering engine shared by both
// consolidation stages: segments are grouped into sessions per source and
// actor, and persisted sessions are grouped into work items across sources.
// Only the gap threshold and the grouping key differ between the two call
// sites.
package cluster

import (
	"sort"
	"time"
)

// Options parameterizes one clustering pass over items of type T.
type Options[T any] struct {
	// Gap is the maximum allowed pause between consecutive items in one
	// cluster; a larger pause starts a new cluster.
	Gap time.Duration

	// Start and End expose the item's time bounds. For point-in-time items
	// End should return the same instant as Start.
	Start func(T) time.Time
	End   func(T) time.Time

	// Key returns the grouping key; a key change always starts a new
	// cluster. Nil means all items share one key (cross-source clustering).
	Key func(T) string

	// Valid reports whether the item's timestamps are usable. Invalid items
	// are excluded from clustering and returned as skipped, never silently
	// dropped. Nil means every item is valid.
	Valid func(T) bool
}

// Result is the outcome of one clustering pass.
type Result[T any] struct {
	Clusters [][]T
	Skipped  []T
}

// Group partitions items into maximal runs sharing a grouping key in which
// every consecutive pair is separated by at most the gap threshold.
//
// The sort is stable, so items with equal keys and start times keep their
// input order and output is deterministic across runs. A single item always
// forms its own cluster.
func Group[T any](items []T, opts Options[T]) Result[T] {
	var result Result[T]

	valid := make([]T, 0, len(items))
	for _, item := range items {
		if opts.Valid != nil && !opts.Valid(item) {
			result.Skipped = append(result.Skipped, item)
			continue
		}
		valid = append(valid, item)
	}
	if len(valid) == 0 {
		return result
	}

	key := opts.Key
	if key == nil {
		key = func(T) string { return "" }
	}

	sort.SliceStable(valid, func(i, j int) bool {
		ki, kj := key(valid[i]), key(valid[j])
		if ki != kj {
			return ki < kj
		}
		return opts.Start(valid[i]).Before(opts.Start(valid[j]))
	})

	current := []T{valid[0]}
	for i := 1; i < len(valid); i++ {
		prev, curr := valid[i-1], valid[i]
		keyChanged := key(curr) != key(prev)
		gapExceeded := opts.Start(curr).Sub(opts.End(prev)) > opts.Gap

		if keyChanged || gapExceeded {
			result.Clusters = append(result.Clusters, current)
			current = []T{curr}
			continue
		}
		current = append(current, curr)
	}
	result.Clusters = append(result.Clusters, current)

	return result
}
