// Package refine implements the agentic edge refiner: it assembles a context
// block and a handful of representative frames for one snapped highlight,
// asks an LLM to pick exactly one of keep/use_topic/use_scene/micro_adjust,
// and then executes that plan deterministically under midpoint, clamp, and
// duration guards.
package refine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/zsiec/reel/internal/llmclient"
	"github.com/zsiec/reel/internal/snap"
)

// DeltaRange bounds a micro_adjust delta, in seconds.
type DeltaRange struct {
	Min float64
	Max float64
}

// Input is everything Refine needs for one snapped highlight.
type Input struct {
	StreamID string
	BaseDir  string

	OrigStart, OrigEnd       float64 // pre-snap edges, the micro_adjust clamp anchor
	SnappedStart, SnappedEnd float64
	MinLen, MaxLen           float64
	FPS                      float64
	MaxEdgeShiftSeconds      float64
	StartDeltaRange          DeltaRange
	EndDeltaRange            DeltaRange

	Transcript string
	Topics     []float64
	Scenes     []float64

	// Resnap re-runs the Snapper against the same original window with a
	// different priority order, for the use_topic/use_scene actions.
	Resnap func(priority snap.Priority) snap.Result
}

// Refiner wraps the edge-arbiter LLM contract plus deterministic plan
// execution.
type Refiner struct {
	arbiter *llmclient.EdgeArbiter
	log     *slog.Logger
}

// New constructs a Refiner.
func New(arbiter *llmclient.EdgeArbiter, log *slog.Logger) *Refiner {
	if log == nil {
		log = slog.Default()
	}
	return &Refiner{arbiter: arbiter, log: log.With("component", "edge-refiner")}
}

// Refine asks the LLM for a plan and executes it, returning the final
// (start, end). On any LLM error or malformed plan, it falls back to keep.
func (r *Refiner) Refine(ctx context.Context, in Input) (start, end float64) {
	contextBlock := buildContextBlock(in)
	jpegs := loadEdgeAndKeyFrames(in.BaseDir, in.StreamID, in.SnappedStart, in.SnappedEnd, in.FPS, 3)

	prompt := contextBlock + "\n\nTranscript (inside window):\n" + in.Transcript

	plan, err := r.arbiter.Arbitrate(ctx, prompt, jpegs)
	if err != nil {
		r.log.Warn("edge arbiter failed, falling back to keep", "error", err)
		plan = llmclient.Plan{Action: llmclient.PlanKeep, Reason: "fallback-keep"}
	}

	return executePlan(in, plan)
}

func executePlan(in Input, plan llmclient.Plan) (float64, float64) {
	mid := (in.SnappedStart + in.SnappedEnd) / 2.0

	switch plan.Action {
	case llmclient.PlanUseTopic:
		if in.Resnap == nil {
			return in.SnappedStart, in.SnappedEnd
		}
		res := in.Resnap(snap.PriorityTopicFirst)
		return res.Start, res.End

	case llmclient.PlanUseScene:
		if in.Resnap == nil {
			return in.SnappedStart, in.SnappedEnd
		}
		res := in.Resnap(snap.PrioritySceneFirst)
		return res.Start, res.End

	case llmclient.PlanMicroAdjust:
		// An out-of-range delta is a data-shape error from the model, not a
		// request to clamp: fall back to the snapped window.
		if plan.StartDelta < in.StartDeltaRange.Min || plan.StartDelta > in.StartDeltaRange.Max ||
			plan.EndDelta < in.EndDeltaRange.Min || plan.EndDelta > in.EndDeltaRange.Max {
			return in.SnappedStart, in.SnappedEnd
		}
		newStart := in.SnappedStart + plan.StartDelta
		newEnd := in.SnappedEnd + plan.EndDelta

		if newStart > mid {
			newStart = in.SnappedStart
		}
		if newEnd < mid {
			newEnd = in.SnappedEnd
		}

		newStart = clamp(newStart, in.OrigStart-in.MaxEdgeShiftSeconds, in.OrigStart+in.MaxEdgeShiftSeconds)
		newEnd = clamp(newEnd, in.OrigEnd-in.MaxEdgeShiftSeconds, in.OrigEnd+in.MaxEdgeShiftSeconds)

		dur := newEnd - newStart
		if dur <= 0 || dur < in.MinLen || dur > in.MaxLen {
			return in.SnappedStart, in.SnappedEnd
		}
		return newStart, newEnd

	default: // keep, or an action that somehow slipped past validation
		return in.SnappedStart, in.SnappedEnd
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// nearestCandidate returns the candidate in arr closest to t, plus its
// signed delta (candidate - t).
func nearestCandidate(t float64, arr []float64) (candidate *float64, delta *float64) {
	if len(arr) == 0 {
		return nil, nil
	}
	best := arr[0]
	bestDist := math.Abs(best - t)
	for _, c := range arr[1:] {
		if d := math.Abs(c - t); d < bestDist {
			best, bestDist = c, d
		}
	}
	d := best - t
	return &best, &d
}

type edgeBoundaryInfo struct {
	TopicCandidateSec *float64 `json:"topic_candidate_sec"`
	TopicDeltaSec     *float64 `json:"topic_delta_sec"`
	SceneCandidateSec *float64 `json:"scene_candidate_sec"`
	SceneDeltaSec     *float64 `json:"scene_delta_sec"`
}

type contextBlock struct {
	Window struct {
		SnappedStart float64 `json:"snapped_start"`
		SnappedEnd   float64 `json:"snapped_end"`
		Duration     float64 `json:"duration"`
		MinLen       float64 `json:"min_len"`
		MaxLen       float64 `json:"max_len"`
		FPS          float64 `json:"fps"`
	} `json:"window"`
	Boundaries struct {
		Start edgeBoundaryInfo `json:"start"`
		End   edgeBoundaryInfo `json:"end"`
	} `json:"boundaries"`
	Limits struct {
		StartDeltaRangeSec [2]float64 `json:"start_delta_range_sec"`
		EndDeltaRangeSec   [2]float64 `json:"end_delta_range_sec"`
	} `json:"limits"`
}

func buildContextBlock(in Input) string {
	var cb contextBlock
	cb.Window.SnappedStart = round3(in.SnappedStart)
	cb.Window.SnappedEnd = round3(in.SnappedEnd)
	cb.Window.Duration = round3(in.SnappedEnd - in.SnappedStart)
	cb.Window.MinLen = in.MinLen
	cb.Window.MaxLen = in.MaxLen
	cb.Window.FPS = in.FPS

	startTopic, startTopicDelta := nearestCandidate(in.SnappedStart, in.Topics)
	startScene, startSceneDelta := nearestCandidate(in.SnappedStart, in.Scenes)
	endTopic, endTopicDelta := nearestCandidate(in.SnappedEnd, in.Topics)
	endScene, endSceneDelta := nearestCandidate(in.SnappedEnd, in.Scenes)

	cb.Boundaries.Start = edgeBoundaryInfo{startTopic, startTopicDelta, startScene, startSceneDelta}
	cb.Boundaries.End = edgeBoundaryInfo{endTopic, endTopicDelta, endScene, endSceneDelta}

	cb.Limits.StartDeltaRangeSec = [2]float64{in.StartDeltaRange.Min, in.StartDeltaRange.Max}
	cb.Limits.EndDeltaRangeSec = [2]float64{in.EndDeltaRange.Min, in.EndDeltaRange.Max}

	raw, err := json.Marshal(cb)
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(raw)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// loadEdgeAndKeyFrames returns the JPEG bytes for: the frame just before
// start, the start frame, up to maxMidFrames evenly spaced mid-frames, the
// frame just before end, and the frame just after end — skipping any frame
// that isn't on disk.
func loadEdgeAndKeyFrames(baseDir, streamID string, start, end, fps float64, maxMidFrames int) [][]byte {
	framesDir := filepath.Join(baseDir, streamID, "frames")
	startIdx := int(start * fps)
	endIdx := int(end * fps)

	var indexes []int
	indexes = append(indexes, startIdx-1, startIdx)

	total := endIdx - startIdx
	if total > 2 && maxMidFrames > 0 {
		for k := 1; k <= maxMidFrames; k++ {
			pos := startIdx + (k*total)/(maxMidFrames+1)
			if pos <= startIdx || pos >= endIdx {
				continue
			}
			indexes = append(indexes, pos)
		}
	}
	indexes = append(indexes, endIdx-1, endIdx)

	var frames [][]byte
	for _, idx := range indexes {
		if idx < 0 {
			continue
		}
		path := filepath.Join(framesDir, fmt.Sprintf("frame_%09d.jpg", idx))
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		frames = append(frames, data)
	}
	return frames
}
