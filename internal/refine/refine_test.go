package refine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/reel/internal/llmclient"
	"github.com/zsiec/reel/internal/snap"
)

func baseInput() Input {
	return Input{
		OrigStart: 10.0, OrigEnd: 20.0,
		SnappedStart: 10.2, SnappedEnd: 19.8,
		MinLen: 4.0, MaxLen: 12.0,
		MaxEdgeShiftSeconds: 3.0,
		StartDeltaRange:     DeltaRange{Min: -1.0, Max: 1.0},
		EndDeltaRange:       DeltaRange{Min: -1.5, Max: 1.5},
	}
}

func TestExecutePlan_Keep(t *testing.T) {
	in := baseInput()
	start, end := executePlan(in, llmclient.Plan{Action: llmclient.PlanKeep})
	require.Equal(t, in.SnappedStart, start)
	require.Equal(t, in.SnappedEnd, end)
}

func TestExecutePlan_UseTopic_CallsResnap(t *testing.T) {
	in := baseInput()
	var gotPriority snap.Priority
	in.Resnap = func(priority snap.Priority) snap.Result {
		gotPriority = priority
		return snap.Result{Start: 11.0, End: 19.0}
	}
	start, end := executePlan(in, llmclient.Plan{Action: llmclient.PlanUseTopic})
	require.Equal(t, snap.PriorityTopicFirst, gotPriority)
	require.Equal(t, 11.0, start)
	require.Equal(t, 19.0, end)
}

func TestExecutePlan_MicroAdjust_AppliesDeltasWithinRange(t *testing.T) {
	in := baseInput()
	start, end := executePlan(in, llmclient.Plan{Action: llmclient.PlanMicroAdjust, StartDelta: 0.5, EndDelta: -0.5})
	require.InDelta(t, 10.7, start, 1e-9)
	require.InDelta(t, 19.3, end, 1e-9)
}

func TestExecutePlan_MicroAdjust_RevertsWhenCrossingMidpoint(t *testing.T) {
	in := baseInput()
	mid := (in.SnappedStart + in.SnappedEnd) / 2.0
	// A start_delta that would push the new start past the midpoint is reverted.
	hugeDelta := mid - in.SnappedStart + 5.0
	in.StartDeltaRange = DeltaRange{Min: -100, Max: 100}
	start, _ := executePlan(in, llmclient.Plan{Action: llmclient.PlanMicroAdjust, StartDelta: hugeDelta})
	require.Equal(t, in.SnappedStart, start)
}

func TestExecutePlan_MicroAdjust_RevertsWholeWindowWhenClampedDurationInvalid(t *testing.T) {
	in := baseInput()
	in.MaxEdgeShiftSeconds = 0.01 // clamps both edges almost back to original, shrinking duration below MinLen is avoided by reverting
	in.MinLen = 100               // impossible to satisfy, forces revert
	start, end := executePlan(in, llmclient.Plan{Action: llmclient.PlanMicroAdjust, StartDelta: 0.2, EndDelta: -0.2})
	require.Equal(t, in.SnappedStart, start)
	require.Equal(t, in.SnappedEnd, end)
}

func TestExecutePlan_MicroAdjust_OutOfRangeDeltaFallsBackToSnapped(t *testing.T) {
	in := baseInput()
	// Start delta beyond the configured [-1, 1] range: the whole plan is
	// rejected, not narrowed into range.
	start, end := executePlan(in, llmclient.Plan{Action: llmclient.PlanMicroAdjust, StartDelta: 2.0, EndDelta: 0.5})
	require.Equal(t, in.SnappedStart, start)
	require.Equal(t, in.SnappedEnd, end)

	// Same for an end delta below the configured [-1.5, 1.5] range.
	start, end = executePlan(in, llmclient.Plan{Action: llmclient.PlanMicroAdjust, StartDelta: 0.5, EndDelta: -3.0})
	require.Equal(t, in.SnappedStart, start)
	require.Equal(t, in.SnappedEnd, end)
}

func TestExecutePlan_MicroAdjust_MidpointGuardRevertsBothEdges(t *testing.T) {
	// Snapped (50, 58), mid 54: +5/-5 would invert the window past the
	// midpoint on both sides, so both edges revert and the window is
	// unchanged.
	in := Input{
		OrigStart: 50.0, OrigEnd: 58.0,
		SnappedStart: 50.0, SnappedEnd: 58.0,
		MinLen: 4.0, MaxLen: 12.0,
		MaxEdgeShiftSeconds: 10.0,
		StartDeltaRange:     DeltaRange{Min: -10, Max: 10},
		EndDeltaRange:       DeltaRange{Min: -10, Max: 10},
	}
	start, end := executePlan(in, llmclient.Plan{Action: llmclient.PlanMicroAdjust, StartDelta: 5.0, EndDelta: -5.0})
	require.Equal(t, 50.0, start)
	require.Equal(t, 58.0, end)
}

func TestBuildContextBlock_IncludesNearestCandidates(t *testing.T) {
	in := baseInput()
	in.Topics = []float64{10.1, 19.9}
	in.Scenes = []float64{9.9}
	block := buildContextBlock(in)
	require.Contains(t, block, `"topic_candidate_sec":10.1`)
	require.Contains(t, block, `"snapped_start":10.2`)
}
