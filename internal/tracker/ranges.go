package tracker

import (
	"sort"

	"github.com/samber/lo"
)

// MergeTolerance is the largest gap, in seconds, between two watched ranges
// that still collapses them into one. Time updates arrive on a jittery timer,
// so coverage a few hundred milliseconds apart is treated as contiguous.
const MergeTolerance = 0.5

// WatchedRange is a contiguous span of playback positions, in seconds.
type WatchedRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Length returns the span covered by the range.
func (r WatchedRange) Length() float64 {
	return r.End - r.Start
}

// WatchedRanges is kept sorted by Start with no two ranges overlapping or
// lying within MergeTolerance of each other.
type WatchedRanges []WatchedRange

// Insert returns a new set with [start, end] merged in. The receiver is not
// modified. A reversed interval (a backwards jump reported before the seek
// completes) is normalized so that start <= end.
func (r WatchedRanges) Insert(start, end float64) WatchedRanges {
	if start > end {
		start, end = end, start
	}

	merged := make(WatchedRanges, 0, len(r)+1)
	merged = append(merged, r...)
	merged = append(merged, WatchedRange{Start: start, End: end})
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Start < merged[j].Start
	})

	compact := make(WatchedRanges, 0, len(merged))
	for _, next := range merged {
		if n := len(compact); n > 0 && next.Start <= compact[n-1].End+MergeTolerance {
			if next.End > compact[n-1].End {
				compact[n-1].End = next.End
			}
			continue
		}
		compact = append(compact, next)
	}
	return compact
}

// Coverage returns the total number of seconds covered by the set.
func (r WatchedRanges) Coverage() float64 {
	return lo.SumBy(r, func(w WatchedRange) float64 {
		return w.Length()
	})
}

// Clone returns a copy that shares no backing array with r.
func (r WatchedRanges) Clone() WatchedRanges {
	if r == nil {
		return nil
	}
	out := make(WatchedRanges, len(r))
	copy(out, r)
	return out
}
