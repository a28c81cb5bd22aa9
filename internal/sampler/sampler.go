// Package sampler implements the video frame sampler: it keeps at most one
// frame per sample period and persists it as a JPEG artifact plus a frame
// row.
package sampler

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/zsiec/reel/internal/container"
	"github.com/zsiec/reel/internal/latch"
	"github.com/zsiec/reel/internal/model"
)

// FrameWriter is the write-only view of the store the sampler needs.
type FrameWriter interface {
	InsertFrame(ctx context.Context, row model.FrameRow) error
}

// Sampler consumes decoded video packets and keeps at most one frame per
// 1/sampleRate seconds of media time.
type Sampler struct {
	streamID   string
	baseDir    string
	sampleRate float64
	writer     FrameWriter
	log        *slog.Logger
	done       *latch.Flag

	frameIndex int
	lastSaved  float64
	everSaved  bool
}

// New constructs a Sampler. sampleRate is VIDEO_FRAME_SAMPLE_RATE (kept
// frames per second).
func New(streamID, baseDir string, sampleRate float64, writer FrameWriter, log *slog.Logger) *Sampler {
	if log == nil {
		log = slog.Default()
	}
	return &Sampler{
		streamID:   streamID,
		baseDir:    baseDir,
		sampleRate: sampleRate,
		writer:     writer,
		log:        log.With("component", "video-sampler"),
		done:       latch.New(),
	}
}

// Done returns the sampler's completion latch, set once Run returns.
func (s *Sampler) Done() *latch.Flag { return s.done }

// Run consumes video packets until the channel is closed (the demuxer closes
// it on exit) or ctx is cancelled.
func (s *Sampler) Run(ctx context.Context, video <-chan container.Packet) error {
	defer s.done.Set()

	dir := filepath.Join(s.baseDir, s.streamID, "frames")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create frames dir: %w", err)
	}

	for {
		select {
		case pk, ok := <-video:
			if !ok {
				s.log.Info("video sampler finished: upstream closed", "frames_kept", s.frameIndex)
				return nil
			}
			if err := s.handle(ctx, dir, pk); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Sampler) handle(ctx context.Context, dir string, pk container.Packet) error {
	period := 1.0 / s.sampleRate
	if s.everSaved && pk.MediaTime-s.lastSaved < period {
		return nil
	}

	width, height := 0, 0
	if cfg, err := jpeg.DecodeConfig(bytes.NewReader(pk.Data)); err == nil {
		width, height = cfg.Width, cfg.Height
	} else {
		s.log.Warn("could not read jpeg dimensions", "frame_index", s.frameIndex, "error", err)
	}

	filename := fmt.Sprintf("frame_%09d.jpg", s.frameIndex)
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, pk.Data, 0o644); err != nil {
		return fmt.Errorf("write frame file: %w", err)
	}

	row := model.FrameRow{
		StreamID:   s.streamID,
		Filename:   filename,
		FrameIndex: s.frameIndex,
		Timestamp:  pk.MediaTime,
		PTS:        pk.PTS,
		Width:      width,
		Height:     height,
		CreatedAt:  time.Now(),
	}
	if err := s.writer.InsertFrame(ctx, row); err != nil {
		return fmt.Errorf("insert frame row: %w", err)
	}

	s.frameIndex++
	s.lastSaved = pk.MediaTime
	s.everSaved = true
	return nil
}
