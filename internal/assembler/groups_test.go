package assembler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/reel/internal/model"
)

func TestScoreMask_Thresholds(t *testing.T) {
	rows := []model.ScoreRow{
		{HighlightScore: 0.71},                      // semantic alone
		{HighlightScore: 0.65, SaliencyScore: 0.9},  // saliency-assisted
		{HighlightScore: 0.65, SaliencyScore: 0.5},  // assisted floor not met
		{HighlightScore: 0.59, SaliencyScore: 0.95}, // semantic too low even assisted
		{HighlightScore: 0.7},                       // exactly at threshold
	}
	require.Equal(t, []int{1, 1, 0, 0, 1}, scoreMask(rows))
}

func TestGetOneGroups(t *testing.T) {
	require.Equal(t,
		[]group{{0, 1}, {3, 3}, {6, 6}},
		getOneGroups([]int{1, 1, 0, 1, 0, 0, 1}))

	require.Nil(t, getOneGroups([]int{0, 0, 0}))
	require.Equal(t, []group{{0, 2}}, getOneGroups([]int{1, 1, 1}))
}

func TestConsolidateGroups_MergesSingleSliceGaps(t *testing.T) {
	// Mask [1,1,0,1,0,0,1]: (0,1) and (3,3) are 2 apart and merge; the gap
	// to (6,6) is 3 and is preserved.
	raw := []group{{0, 1}, {3, 3}, {6, 6}}
	require.Equal(t, []group{{0, 3}, {6, 6}}, consolidateGroups(raw))

	require.Nil(t, consolidateGroups(nil))
	require.Equal(t, []group{{2, 5}}, consolidateGroups([]group{{2, 2}, {4, 5}}))
}

func TestSubgroupBounds(t *testing.T) {
	g := group{l: 4, r: 9}

	lo, hi, ok := subgroupBounds(g, []int{0, 1, 2})
	require.True(t, ok)
	require.Equal(t, 4, lo)
	require.Equal(t, 6, hi)

	// Non-contiguous index lists resolve to their min/max span.
	lo, hi, ok = subgroupBounds(g, []int{3, 0, 5})
	require.True(t, ok)
	require.Equal(t, 4, lo)
	require.Equal(t, 9, hi)

	// Out-of-range indexes are clamped to the parent group.
	lo, hi, ok = subgroupBounds(g, []int{-2, 40})
	require.True(t, ok)
	require.Equal(t, 4, lo)
	require.Equal(t, 9, hi)

	_, _, ok = subgroupBounds(g, nil)
	require.False(t, ok)
}
