// Package scorer implements the candidate scorer: it walks the timeline in
// fixed-length windows, gathers the co-temporal audio, frames, and
// transcript for each, computes a motion+loudness saliency score, asks the
// captioner LLM for a caption and semantic highlight score, and writes one
// score row per window.
package scorer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/zsiec/reel/internal/candidate"
	"github.com/zsiec/reel/internal/latch"
	"github.com/zsiec/reel/internal/metrics"
	"github.com/zsiec/reel/internal/model"
)

const (
	pollInterval    = time.Second
	captionAttempts = 3
)

// ChunkReader is the read view of audio chunk rows the scorer needs.
type ChunkReader interface {
	AudioChunksByRange(ctx context.Context, streamID string, startChunk, endChunk int) ([]model.AudioChunkRow, error)
}

// FrameReader is the read view of frame rows the scorer needs.
type FrameReader interface {
	FramesByRange(ctx context.Context, streamID string, startIndex, count int) ([]model.FrameRow, error)
}

// ScoreWriter is the write view of score rows.
type ScoreWriter interface {
	InsertScore(ctx context.Context, row model.ScoreRow) error
}

// Retranscriber re-runs transcription for a single failed chunk.
type Retranscriber interface {
	Retranscribe(ctx context.Context, chunk model.AudioChunkRow) error
}

// Captioner is the §6 captioner contract.
type Captioner interface {
	Caption(ctx context.Context, transcript string, jpegs [][]byte) (caption string, highlightScore float64, err error)
}

// Scorer emits one score row per candidate window.
type Scorer struct {
	streamID     string
	baseDir      string
	slice        float64
	chunkSeconds float64
	fps          float64

	chunks    ChunkReader
	frames    FrameReader
	scores    ScoreWriter
	retrans   Retranscriber
	captioner Captioner

	videoDone *latch.Flag
	audioDone *latch.Flag
	done      *latch.Flag

	met *metrics.Metrics
	log *slog.Logger
}

// New constructs a Scorer. videoDone and audioDone are the sampler's and
// chunker's completion latches; once both are set and the remaining rows
// cannot cover a full window, the scorer drains and exits.
func New(streamID, baseDir string, slice, chunkSeconds, fps float64,
	chunks ChunkReader, frames FrameReader, scores ScoreWriter,
	retrans Retranscriber, captioner Captioner,
	videoDone, audioDone *latch.Flag, met *metrics.Metrics, log *slog.Logger) *Scorer {
	if log == nil {
		log = slog.Default()
	}
	return &Scorer{
		streamID:     streamID,
		baseDir:      baseDir,
		slice:        slice,
		chunkSeconds: chunkSeconds,
		fps:          fps,
		chunks:       chunks,
		frames:       frames,
		scores:       scores,
		retrans:      retrans,
		captioner:    captioner,
		videoDone:    videoDone,
		audioDone:    audioDone,
		done:         latch.New(),
		met:          met,
		log:          log.With("component", "clip-scorer"),
	}
}

// Done returns the scorer's completion latch (the clip_scorer flag), set once
// Run returns.
func (s *Scorer) Done() *latch.Flag { return s.done }

// Run iterates windows [i*slice, (i+1)*slice) until the producers are done
// and the remaining rows cannot cover another full window.
func (s *Scorer) Run(ctx context.Context) error {
	defer s.done.Set()

	for i := 0; ; i++ {
		start := float64(i) * s.slice
		end := start + s.slice
		clip := candidate.New(s.baseDir, s.streamID, start, end)

		rows, shouldBreak, err := s.awaitWindow(ctx, clip, end)
		if err != nil {
			return err
		}
		if shouldBreak && len(rows) == 0 {
			s.log.Info("scorer finished: producers done, no remaining audio", "windows", i)
			return nil
		}

		rows, err = s.awaitTranscripts(ctx, rows)
		if err != nil {
			return err
		}

		if err := s.scoreWindow(ctx, clip, rows); err != nil {
			return err
		}

		if shouldBreak {
			s.log.Info("scorer finished: final partial window emitted", "windows", i+1)
			return nil
		}
	}
}

// awaitWindow polls until the window's overlapping chunk rows fully cover it,
// or both producers are done (in which case shouldBreak is true and whatever
// rows exist are returned for the final partial step).
func (s *Scorer) awaitWindow(ctx context.Context, clip *candidate.Clip, end float64) ([]model.AudioChunkRow, bool, error) {
	indexes := clip.AudioChunkIndexes(s.chunkSeconds)
	firstChunk, lastChunk := indexes[0], indexes[len(indexes)-1]

	for {
		rows, err := s.chunks.AudioChunksByRange(ctx, s.streamID, firstChunk, lastChunk)
		if err != nil {
			return nil, false, fmt.Errorf("fetch audio chunks: %w", err)
		}
		if windowCovered(rows, len(indexes), end) {
			return rows, false, nil
		}
		if s.videoDone.IsSet() && s.audioDone.IsSet() {
			return rows, true, nil
		}
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return nil, false, err
		}
	}
}

// windowCovered reports whether rows contain every overlapping chunk and the
// last one's end reaches the window's right edge.
func windowCovered(rows []model.AudioChunkRow, wantChunks int, end float64) bool {
	const eps = 1e-6
	if len(rows) < wantChunks {
		return false
	}
	return rows[len(rows)-1].EndTimestamp+eps >= end
}

// awaitTranscripts waits for every row's transcript to leave the
// TranscriptEmpty state, re-running the transcriber once per chunk that
// carries the TranscriptError sentinel. A chunk that stays TranscriptError
// after its one retry is used as-is (the transcript view skips it).
func (s *Scorer) awaitTranscripts(ctx context.Context, rows []model.AudioChunkRow) ([]model.AudioChunkRow, error) {
	if len(rows) == 0 {
		return rows, nil
	}

	firstChunk := rows[0].ChunkIndex
	lastChunk := rows[len(rows)-1].ChunkIndex
	retried := make(map[int]bool)

	for {
		pending := false
		for _, row := range rows {
			switch row.Transcript {
			case model.TranscriptError:
				if !retried[row.ChunkIndex] {
					retried[row.ChunkIndex] = true
					s.log.Warn("retrying failed transcript", "chunk_index", row.ChunkIndex)
					if err := s.retrans.Retranscribe(ctx, row); err != nil {
						s.log.Warn("retranscribe failed", "chunk_index", row.ChunkIndex, "error", err)
						continue
					}
					pending = true
				}
			case model.TranscriptEmpty:
				pending = true
			}
		}
		if !pending {
			return rows, nil
		}
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return nil, err
		}

		var err error
		rows, err = s.chunks.AudioChunksByRange(ctx, s.streamID, firstChunk, lastChunk)
		if err != nil {
			return nil, fmt.Errorf("refetch audio chunks: %w", err)
		}
	}
}

// scoreWindow computes the saliency score, asks the captioner, and inserts
// one score row. A window with no usable modality at all is skipped, as is a
// window whose captioner call fails after retries.
func (s *Scorer) scoreWindow(ctx context.Context, clip *candidate.Clip, rows []model.AudioChunkRow) error {
	startIdx := int(clip.StartTime * s.fps)
	endIdx := int(clip.EndTime * s.fps)
	frameRows, err := s.frames.FramesByRange(ctx, s.streamID, startIdx, endIdx-startIdx)
	if err != nil {
		return fmt.Errorf("fetch frame rows: %w", err)
	}

	jpegs, err := clip.LoadFrames(s.fps)
	if err != nil {
		s.log.Warn("load frames failed, treating window as frameless", "start", clip.StartTime, "error", err)
		jpegs = nil
	}
	pcm, _, _, err := clip.LoadAudioBytes(rows, s.chunkSeconds)
	if err != nil {
		s.log.Warn("load audio failed, treating window as silent", "start", clip.StartTime, "error", err)
		pcm = nil
	}
	transcript, _ := clip.Transcript(rows)

	if len(jpegs) == 0 && len(pcm) == 0 && transcript == "" {
		s.log.Warn("skipping window: no usable modality", "start", clip.StartTime, "frame_rows", len(frameRows))
		return nil
	}

	sal := saliency(jpegs, pcm)

	caption, highlightScore, err := s.captionWithRetry(ctx, transcript, jpegs)
	if err != nil {
		s.met.LLMCall("captioner", "error")
		s.log.Error("captioner failed after retries, skipping window", "start", clip.StartTime, "error", err)
		return nil
	}
	s.met.LLMCall("captioner", "ok")

	row := model.ScoreRow{
		StreamID:       s.streamID,
		StartTime:      clip.StartTime,
		EndTime:        clip.EndTime,
		SaliencyScore:  sal,
		HighlightScore: highlightScore,
		Caption:        caption,
	}
	if err := s.scores.InsertScore(ctx, row); err != nil {
		return fmt.Errorf("insert score row: %w", err)
	}
	s.met.WindowScored()
	return nil
}

type captionResult struct {
	caption string
	score   float64
}

func (s *Scorer) captionWithRetry(ctx context.Context, transcript string, jpegs [][]byte) (string, float64, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 60 * time.Second

	res, err := backoff.Retry(ctx, func() (captionResult, error) {
		caption, score, err := s.captioner.Caption(ctx, transcript, jpegs)
		if err != nil {
			return captionResult{}, err
		}
		return captionResult{caption: caption, score: score}, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(captionAttempts))
	if err != nil {
		return "", 0, err
	}
	return res.caption, res.score, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
