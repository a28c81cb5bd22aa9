// Package snap implements the pure boundary-snapping operation: given a
// candidate highlight window and independently detected scene and topic
// boundaries, nudge each edge onto the nearest nearby boundary without
// crossing the window's midpoint, then enforce min/max duration.
package snap

import "math"

// Source names which boundary set (if any) an edge snapped to.
type Source string

const (
	SourceScene    Source = "scene"
	SourceTopic    Source = "topic"
	SourceOriginal Source = "original"
)

// Priority chooses which boundary set is consulted first for each edge.
type Priority string

const (
	PrioritySceneFirst Priority = "scene_first"
	PriorityTopicFirst Priority = "topic_first"
)

// ShiftBudgets bounds how far each edge may move to reach a candidate
// boundary, in seconds.
type ShiftBudgets struct {
	MaxShiftSceneStart float64
	MaxShiftSceneEnd   float64
	MaxShiftTopic      float64
}

// Window is a candidate highlight's time bounds.
type Window struct {
	Start float64
	End   float64
}

// Result is the snapped window plus the source of each edge's final value.
type Result struct {
	Start       float64
	End         float64
	StartSource Source
	EndSource   Source
}

const tieBreakEpsilon = 1e-2

// direction biases nearest's tie-breaking: "past" prefers candidates at or
// before t, "future" prefers candidates at or after t.
type direction int

const (
	dirPast direction = iota
	dirFuture
)

// nearest finds the candidate closest to t, within maxShift seconds, that
// does not move t across forbidCross. Ties within 10ms are broken by dir.
func nearest(t float64, candidates []float64, maxShift, forbidCross float64, dir direction) (float64, bool) {
	var best float64
	var bestDist float64
	found := false

	for _, c := range candidates {
		d := math.Abs(c - t)
		if d > maxShift {
			continue
		}
		if t <= forbidCross && forbidCross < c {
			continue // moving start past the midpoint
		}
		if c < forbidCross && forbidCross <= t {
			continue // moving end past the midpoint
		}

		switch {
		case !found || d < bestDist-tieBreakEpsilon:
			best, bestDist, found = c, d, true
		case found && math.Abs(d-bestDist) <= tieBreakEpsilon:
			if dir == dirPast && c <= t && best > t {
				best, bestDist = c, d
			} else if dir == dirFuture && c >= t && best < t {
				best, bestDist = c, d
			}
		}
	}
	return best, found
}

// Snap snaps w's edges to the nearest scene or topic boundary (consulted in
// priority order), enforces the min/max duration guard, and reports which
// source each final edge came from. w.End must be greater than w.Start.
func Snap(w Window, scenes, topics []float64, budgets ShiftBudgets, minLen, maxLen float64, priority Priority) Result {
	start, end := w.Start, w.End
	mid := (start + end) / 2.0

	startSrc := SourceOriginal
	endSrc := SourceOriginal

	if priority == PriorityTopicFirst {
		if c, ok := nearest(start, topics, budgets.MaxShiftTopic, mid, dirPast); ok {
			start, startSrc = c, SourceTopic
		} else if c, ok := nearest(start, scenes, budgets.MaxShiftSceneStart, mid, dirPast); ok {
			start, startSrc = c, SourceScene
		}

		if c, ok := nearest(end, topics, budgets.MaxShiftTopic, mid, dirFuture); ok {
			end, endSrc = c, SourceTopic
		} else if c, ok := nearest(end, scenes, budgets.MaxShiftSceneEnd, mid, dirFuture); ok {
			end, endSrc = c, SourceScene
		}
	} else {
		if c, ok := nearest(start, scenes, budgets.MaxShiftSceneStart, mid, dirPast); ok {
			start, startSrc = c, SourceScene
		} else if c, ok := nearest(start, topics, budgets.MaxShiftTopic, mid, dirPast); ok {
			start, startSrc = c, SourceTopic
		}

		if c, ok := nearest(end, scenes, budgets.MaxShiftSceneEnd, mid, dirFuture); ok {
			end, endSrc = c, SourceScene
		} else if c, ok := nearest(end, topics, budgets.MaxShiftTopic, mid, dirFuture); ok {
			end, endSrc = c, SourceTopic
		}
	}

	start, end = enforceDuration(start, end, startSrc, endSrc, minLen, maxLen)

	return Result{
		Start:       roundTo(start, 3),
		End:         roundTo(end, 3),
		StartSource: startSrc,
		EndSource:   endSrc,
	}
}

func enforceDuration(start, end float64, startSrc, endSrc Source, minLen, maxLen float64) (float64, float64) {
	dur := end - start

	switch {
	case dur < minLen:
		need := minLen - dur
		switch {
		case endSrc == SourceOriginal:
			end = math.Min(end+need, start+maxLen)
		case startSrc == SourceOriginal:
			start = math.Max(start-need, end-maxLen)
		default:
			half := need / 2.0
			newEnd := math.Min(end+half, start+maxLen)
			newStart := math.Max(start-(need-(newEnd-(start+dur))), newEnd-maxLen)
			start, end = newStart, newEnd
		}
	case dur > maxLen:
		excess := dur - maxLen
		trimStart, trimEnd := excess/2.0, excess/2.0
		switch {
		case startSrc != SourceOriginal && endSrc == SourceOriginal:
			trimStart, trimEnd = 0, excess
		case endSrc != SourceOriginal && startSrc == SourceOriginal:
			trimStart, trimEnd = excess, 0
		}
		start += trimStart
		end -= trimEnd
	}
	return start, end
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
