package assembler

import "github.com/zsiec/reel/internal/model"

// Mask thresholds: a slice is a highlight candidate on semantic score alone,
// or on a slightly lower semantic score backed by high mechanical saliency.
const (
	highlightThreshold     = 0.7
	assistedSaliencyFloor  = 0.7
	assistedHighlightFloor = 0.6
)

// scoreMask converts score rows into a 0/1 mask: 1 iff the semantic score
// clears the threshold on its own, or high mechanical saliency backs a
// slightly lower semantic score.
func scoreMask(rows []model.ScoreRow) []int {
	mask := make([]int, len(rows))
	for i, row := range rows {
		if row.HighlightScore >= highlightThreshold ||
			(row.SaliencyScore >= assistedSaliencyFloor && row.HighlightScore >= assistedHighlightFloor) {
			mask[i] = 1
		}
	}
	return mask
}

// group is one inclusive run [l, r] of mask indexes.
type group struct {
	l, r int
}

// getOneGroups converts a 0/1 mask into inclusive (l, r) runs of ones.
func getOneGroups(mask []int) []group {
	var groups []group
	start := -1
	for i, v := range mask {
		switch {
		case v == 1 && start < 0:
			start = i
		case v != 1 && start >= 0:
			groups = append(groups, group{l: start, r: i - 1})
			start = -1
		}
	}
	if start >= 0 {
		groups = append(groups, group{l: start, r: len(mask) - 1})
	}
	return groups
}

// consolidateGroups merges adjacent runs separated by exactly one zero slice
// (next.l - prev.r == 2). Wider gaps are preserved.
func consolidateGroups(groups []group) []group {
	if len(groups) == 0 {
		return nil
	}
	out := []group{groups[0]}
	for _, g := range groups[1:] {
		last := &out[len(out)-1]
		if g.l-last.r == 2 {
			last.r = g.r
		} else {
			out = append(out, g)
		}
	}
	return out
}

// subgroupBounds maps a grouping-LLM index list (relative to a block's
// [l..r] caption slice) to absolute row indexes, tolerating non-contiguous
// lists by taking the min and max.
func subgroupBounds(g group, indexes []int) (int, int, bool) {
	if len(indexes) == 0 {
		return 0, 0, false
	}
	min, max := indexes[0], indexes[0]
	for _, idx := range indexes[1:] {
		if idx < min {
			min = idx
		}
		if idx > max {
			max = idx
		}
	}
	lo, hi := g.l+min, g.l+max
	if lo < g.l {
		lo = g.l
	}
	if hi > g.r {
		hi = g.r
	}
	if lo > hi {
		return 0, 0, false
	}
	return lo, hi, true
}
