// Package assembler implements the highlight assembler: it reads blocks of
// score rows, thresholds them into a mask, coalesces contiguous runs, has
// the grouping LLM split each run into titled subgroups, and for each
// subgroup runs snap, refine, and clamp before persisting the evolving
// highlight list to the stream row.
package assembler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/zsiec/reel/internal/boundary"
	"github.com/zsiec/reel/internal/latch"
	"github.com/zsiec/reel/internal/llmclient"
	"github.com/zsiec/reel/internal/metrics"
	"github.com/zsiec/reel/internal/model"
	"github.com/zsiec/reel/internal/refine"
	"github.com/zsiec/reel/internal/snap"
)

const (
	pollInterval  = 2 * time.Second
	groupAttempts = 3

	// Per-edge snap budgets, in seconds.
	defaultSceneStartShift = 1.0
	defaultSceneEndShift   = 1.0
	defaultTopicShift      = 2.0

	// Micro-adjust delta ranges, in seconds.
	startDeltaMin = -1.0
	startDeltaMax = 1.0
	endDeltaMin   = -1.5
	endDeltaMax   = 1.5

	// Scene-cut detector tuning.
	sceneCutThreshold = 0.5
	minSceneLenSec    = 1.0

	// Recompute topic boundaries once this many new words have arrived.
	topicRecomputeWords = 100
)

// ScoreReader is the read view of score rows the assembler needs.
type ScoreReader interface {
	ScoresByOffset(ctx context.Context, streamID string, offset, count int) ([]model.ScoreRow, error)
	HasMoreScoresAfter(ctx context.Context, streamID string, afterStartTime float64) (bool, error)
}

// StreamStore reads and atomically replaces the stream row's highlight list.
type StreamStore interface {
	GetStream(ctx context.Context, streamID string) (model.Stream, error)
	ReplaceHighlights(ctx context.Context, streamID string, highlights []model.Highlight) error
}

// WordSource provides every chunk row, for flattening the transcript ahead
// of topic-boundary detection.
type WordSource interface {
	AudioChunksAll(ctx context.Context, streamID string) ([]model.AudioChunkRow, error)
}

// Grouper is the §6 grouping contract.
type Grouper interface {
	Group(ctx context.Context, captions []string) ([]llmclient.Group, error)
}

// EdgeRefiner is the agentic refinement step; *refine.Refiner satisfies it.
type EdgeRefiner interface {
	Refine(ctx context.Context, in refine.Input) (start, end float64)
}

// Config carries the assembler's tunables.
type Config struct {
	StreamID            string
	BaseDir             string
	HighlightChunk      int
	CandidateSlice      float64
	MinLen              float64
	MaxLen              float64
	MaxEdgeShiftSeconds float64
	FPS                 float64
	AgenticRefinement   bool

	TextTilingBlock  int
	TextTilingStep   int
	TextTilingSmooth int
	CutoffStd        float64
}

// boundaryCache holds the per-stream boundary lists the assembler owns
// exclusively.
type boundaryCache struct {
	scenes         []float64
	scenesComputed bool

	topics        []float64
	words         []model.WordItem
	lastWordCount int
	topicsFinal   bool
}

// Assembler turns score rows into refined, titled highlights.
type Assembler struct {
	cfg     Config
	scores  ScoreReader
	streams StreamStore
	words   WordSource
	grouper Grouper
	refiner EdgeRefiner

	scorerDone *latch.Flag
	cache      boundaryCache

	met *metrics.Metrics
	log *slog.Logger
}

// New constructs an Assembler. scorerDone is the clip_scorer completion
// latch; refiner may be nil when agentic refinement is disabled.
func New(cfg Config, scores ScoreReader, streams StreamStore, words WordSource,
	grouper Grouper, refiner EdgeRefiner, scorerDone *latch.Flag,
	met *metrics.Metrics, log *slog.Logger) *Assembler {
	if log == nil {
		log = slog.Default()
	}
	return &Assembler{
		cfg:        cfg,
		scores:     scores,
		streams:    streams,
		words:      words,
		grouper:    grouper,
		refiner:    refiner,
		scorerDone: scorerDone,
		met:        met,
		log:        log.With("component", "assembler"),
	}
}

// Run processes score-row blocks until the scorer is done and no rows remain.
// Each iteration covers HighlightChunk seconds of timeline, i.e.
// HighlightChunk/CandidateSlice rows.
func (a *Assembler) Run(ctx context.Context) error {
	blockRows := int(float64(a.cfg.HighlightChunk) / a.cfg.CandidateSlice)
	offset := 0

	for {
		rows, err := a.scores.ScoresByOffset(ctx, a.cfg.StreamID, offset, blockRows)
		if err != nil {
			return fmt.Errorf("fetch score rows: %w", err)
		}

		final := false
		if len(rows) < blockRows {
			if !a.scorerDone.IsSet() {
				select {
				case <-time.After(pollInterval):
					continue
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if len(rows) == 0 {
				a.log.Info("assembler finished: no more score rows")
				return nil
			}
			more, err := a.scores.HasMoreScoresAfter(ctx, a.cfg.StreamID, rows[len(rows)-1].StartTime)
			if err != nil {
				return fmt.Errorf("check more scores: %w", err)
			}
			if more {
				// Stale read: rows past this short block already exist, so
				// retry the fetch rather than processing a partial block.
				continue
			}
			final = true
		}

		if err := a.processBlock(ctx, rows); err != nil {
			return err
		}
		offset += len(rows)

		if final {
			a.log.Info("assembler finished: final block processed", "rows", offset)
			return nil
		}
	}
}

// processBlock masks one block of rows, groups it, and persists the cycle's
// highlights.
func (a *Assembler) processBlock(ctx context.Context, rows []model.ScoreRow) error {
	groups := consolidateGroups(getOneGroups(scoreMask(rows)))
	if len(groups) == 0 {
		return nil
	}

	var cycle []model.Highlight
	for _, g := range groups {
		captions := make([]string, 0, g.r-g.l+1)
		for i := g.l; i <= g.r; i++ {
			captions = append(captions, rows[i].Caption)
		}

		subgroups := a.groupWithFallback(ctx, captions)
		for _, sub := range subgroups {
			lo, hi, ok := subgroupBounds(g, sub.Indexes)
			if !ok {
				a.log.Warn("discarding subgroup with unusable indexes", "title", sub.Title)
				continue
			}
			h, err := a.buildHighlight(ctx, rows, lo, hi, sub.Title)
			if err != nil {
				return err
			}
			cycle = append(cycle, h)
		}
	}
	if len(cycle) == 0 {
		return nil
	}

	stream, err := a.streams.GetStream(ctx, a.cfg.StreamID)
	if err != nil {
		return fmt.Errorf("load stream row: %w", err)
	}
	merged := append(stream.Highlights, cycle...)
	if err := a.streams.ReplaceHighlights(ctx, a.cfg.StreamID, merged); err != nil {
		return fmt.Errorf("persist highlights: %w", err)
	}
	a.met.HighlightsEmitted(len(cycle))
	a.log.Info("highlights persisted", "new", len(cycle), "total", len(merged))
	return nil
}

// groupWithFallback calls the grouping LLM with retries; on final failure it
// degrades to one group spanning the whole block.
func (a *Assembler) groupWithFallback(ctx context.Context, captions []string) []llmclient.Group {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 60 * time.Second

	groups, err := backoff.Retry(ctx, func() ([]llmclient.Group, error) {
		return a.grouper.Group(ctx, captions)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(groupAttempts))
	if err != nil || len(groups) == 0 {
		a.met.LLMCall("grouper", "error")
		a.log.Warn("grouper failed, using one group for the whole block", "error", err)
		all := make([]int, len(captions))
		for i := range all {
			all[i] = i
		}
		return []llmclient.Group{{Title: fallbackTitle(captions), Indexes: all}}
	}
	a.met.LLMCall("grouper", "ok")
	return groups
}

// fallbackTitle derives a short title from the first caption when the
// grouping LLM is unavailable.
func fallbackTitle(captions []string) string {
	for _, c := range captions {
		words := strings.Fields(c)
		if len(words) == 0 {
			continue
		}
		if len(words) > 6 {
			words = words[:6]
		}
		return strings.Join(words, " ")
	}
	return "Untitled highlight"
}

// buildHighlight emits one highlight for rows[lo..hi], running the snap →
// refine → clamp chain when agentic refinement is enabled.
func (a *Assembler) buildHighlight(ctx context.Context, rows []model.ScoreRow, lo, hi int, title string) (model.Highlight, error) {
	origStart := rows[lo].StartTime
	origEnd := rows[hi].EndTime

	var caps []string
	for i := lo; i <= hi; i++ {
		caps = append(caps, rows[i].Caption)
	}
	caption := strings.Join(caps, " ")

	h := model.Highlight{
		StartTime: origStart,
		EndTime:   origEnd,
		Title:     title,
		Caption:   caption,
		Thumbnail: frameFilename(origStart, a.cfg.FPS),
	}
	if !a.cfg.AgenticRefinement {
		return h, nil
	}

	if err := a.ensureBoundaries(ctx); err != nil {
		a.log.Warn("boundary detection failed, emitting unrefined highlight", "error", err)
		return h, nil
	}

	budgets := snap.ShiftBudgets{
		MaxShiftSceneStart: defaultSceneStartShift,
		MaxShiftSceneEnd:   defaultSceneEndShift,
		MaxShiftTopic:      defaultTopicShift,
	}
	window := snap.Window{Start: origStart, End: origEnd}

	resnap := func(p snap.Priority) snap.Result {
		res := snap.Snap(window, a.cache.scenes, a.cache.topics, budgets, a.cfg.MinLen, a.cfg.MaxLen, p)
		res.Start = clamp(res.Start, origStart-a.cfg.MaxEdgeShiftSeconds, origStart+a.cfg.MaxEdgeShiftSeconds)
		res.End = clamp(res.End, origEnd-a.cfg.MaxEdgeShiftSeconds, origEnd+a.cfg.MaxEdgeShiftSeconds)
		return res
	}
	snapped := resnap(snap.PrioritySceneFirst)

	start, end := snapped.Start, snapped.End
	if a.refiner != nil {
		transcript := transcriptExcerpt(a.cache.words, snapped.Start, snapped.End)
		start, end = a.refiner.Refine(ctx, refine.Input{
			StreamID:            a.cfg.StreamID,
			BaseDir:             a.cfg.BaseDir,
			OrigStart:           origStart,
			OrigEnd:             origEnd,
			SnappedStart:        snapped.Start,
			SnappedEnd:          snapped.End,
			MinLen:              a.cfg.MinLen,
			MaxLen:              a.cfg.MaxLen,
			FPS:                 a.cfg.FPS,
			MaxEdgeShiftSeconds: a.cfg.MaxEdgeShiftSeconds,
			StartDeltaRange:     refine.DeltaRange{Min: startDeltaMin, Max: startDeltaMax},
			EndDeltaRange:       refine.DeltaRange{Min: endDeltaMin, Max: endDeltaMax},
			Transcript:          transcript,
			Topics:              a.cache.topics,
			Scenes:              a.cache.scenes,
			Resnap:              resnap,
		})
	}

	start, end, refined := a.finalize(origStart, origEnd, snapped.Start, snapped.End, start, end)
	h.StartTime = start
	h.EndTime = end
	h.Thumbnail = frameFilename(start, a.cfg.FPS)
	if refined {
		h.StartSource = model.EdgeSource(snapped.StartSource)
		h.EndSource = model.EdgeSource(snapped.EndSource)
	} else {
		h.StartSource = model.EdgeOriginal
		h.EndSource = model.EdgeOriginal
	}
	return h, nil
}

// finalize enforces the post-refinement invariants: an invalid refined
// window reverts to the snapped one, and an invalid snapped window reverts
// to the original. refined reports whether the emitted window differs from
// the original at all.
func (a *Assembler) finalize(origStart, origEnd, snapStart, snapEnd, start, end float64) (float64, float64, bool) {
	if !a.validWindow(origStart, origEnd, start, end) {
		start, end = snapStart, snapEnd
	}
	if !a.validWindow(origStart, origEnd, start, end) {
		return origStart, origEnd, false
	}
	return start, end, start != origStart || end != origEnd
}

func (a *Assembler) validWindow(origStart, origEnd, start, end float64) bool {
	const eps = 1e-6
	dur := end - start
	if dur <= 0 || dur < a.cfg.MinLen-eps || dur > a.cfg.MaxLen+eps {
		return false
	}
	return math.Abs(start-origStart) <= a.cfg.MaxEdgeShiftSeconds+eps &&
		math.Abs(end-origEnd) <= a.cfg.MaxEdgeShiftSeconds+eps
}

// ensureBoundaries fills the boundary caches: scene cuts are computed once
// per stream; topic boundaries are recomputed on first use, whenever the
// flattened word count has grown by topicRecomputeWords since the last
// compute, and one final time once the scorer is done.
func (a *Assembler) ensureBoundaries(ctx context.Context) error {
	if !a.cache.scenesComputed {
		framesDir := filepath.Join(a.cfg.BaseDir, a.cfg.StreamID, "frames")
		scenes, err := boundary.DetectSceneCuts(framesDir, a.cfg.FPS, sceneCutThreshold, minSceneLenSec)
		if err != nil {
			return fmt.Errorf("detect scene cuts: %w", err)
		}
		a.cache.scenes = scenes
		a.cache.scenesComputed = true
		a.log.Info("scene cuts detected", "count", len(scenes))
	}

	scorerDone := a.scorerDone.IsSet()
	if a.cache.topicsFinal {
		return nil
	}

	words, err := a.flattenWords(ctx)
	if err != nil {
		return err
	}

	needsCompute := a.cache.lastWordCount == 0 ||
		len(words)-a.cache.lastWordCount >= topicRecomputeWords ||
		scorerDone
	if needsCompute {
		a.cache.topics = boundary.DetectTopicBoundaries(words,
			a.cfg.TextTilingBlock, a.cfg.TextTilingStep, a.cfg.TextTilingSmooth, a.cfg.CutoffStd)
		a.cache.words = words
		a.cache.lastWordCount = len(words)
		a.cache.topicsFinal = scorerDone
		a.log.Info("topic boundaries computed", "words", len(words), "count", len(a.cache.topics))
	}
	return nil
}

// flattenWords collects every decoded word item across all chunk rows,
// shifted to absolute stream time.
func (a *Assembler) flattenWords(ctx context.Context) ([]model.WordItem, error) {
	chunks, err := a.words.AudioChunksAll(ctx, a.cfg.StreamID)
	if err != nil {
		return nil, fmt.Errorf("fetch audio chunks: %w", err)
	}

	var words []model.WordItem
	for _, chunk := range chunks {
		items, err := model.DecodeTranscript(chunk.Transcript)
		if err != nil {
			continue
		}
		for _, item := range items {
			item.StartTime += chunk.StartTimestamp
			item.EndTime += chunk.StartTimestamp
			words = append(words, item)
		}
	}
	return words, nil
}

// transcriptExcerpt joins the pronunciation (or untyped) words whose start
// time falls inside [start, end], bounding the text shipped to the edge
// arbiter.
func transcriptExcerpt(words []model.WordItem, start, end float64) string {
	const maxLen = 2000
	var parts []string
	for _, w := range words {
		if w.Type != "" && w.Type != "pronunciation" {
			continue
		}
		if w.StartTime >= start && w.StartTime <= end {
			parts = append(parts, w.Content)
		}
	}
	s := strings.Join(parts, " ")
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

func frameFilename(startTime, fps float64) string {
	idx := int(startTime * fps)
	if idx < 0 {
		idx = 0
	}
	return fmt.Sprintf("frame_%09d.jpg", idx)
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
