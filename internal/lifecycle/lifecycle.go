// Package lifecycle sequences the pipeline: it opens the container, creates
// the bounded queues and completion flags, launches every stage, translates
// process signals into cooperative shutdown, awaits drain in dependency
// order, and records the stream's terminal status.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/reel/internal/assembler"
	"github.com/zsiec/reel/internal/chunker"
	"github.com/zsiec/reel/internal/config"
	"github.com/zsiec/reel/internal/container"
	"github.com/zsiec/reel/internal/demux"
	"github.com/zsiec/reel/internal/latch"
	"github.com/zsiec/reel/internal/llmclient"
	"github.com/zsiec/reel/internal/metrics"
	"github.com/zsiec/reel/internal/model"
	"github.com/zsiec/reel/internal/refine"
	"github.com/zsiec/reel/internal/sampler"
	"github.com/zsiec/reel/internal/scorer"
	"github.com/zsiec/reel/internal/store"
	"github.com/zsiec/reel/internal/transcriber"
)

// Services is the set of collaborators the controller constructs stages
// from, built once by the entry point and passed down; stages receive only
// the narrow interfaces they need.
type Services struct {
	Store     *store.Store
	Source    container.Source
	Captioner *llmclient.Captioner
	Grouper   *llmclient.Grouper
	Arbiter   *llmclient.EdgeArbiter
	Metrics   *metrics.Metrics
}

// Controller runs one stream's pipeline from IN_PROGRESS to a terminal
// status.
type Controller struct {
	cfg      *config.Config
	streamID string
	svc      Services
	log      *slog.Logger

	// stageLog is the parent logger handed to stages, which tag their own
	// component themselves.
	stageLog *slog.Logger
}

// New constructs a Controller.
func New(cfg *config.Config, streamID string, svc Services, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	stageLog := log.With("stream_id", streamID)
	return &Controller{
		cfg:      cfg,
		streamID: streamID,
		svc:      svc,
		log:      stageLog.With("component", "lifecycle"),
		stageLog: stageLog,
	}
}

// Run executes the pipeline. ctx cancellation (a process signal) triggers
// cooperative drain: the demuxer's stop flag is set, its queues close, and
// every downstream stage drains its remaining work before Run returns. The
// terminal stream status is written on every path, and the database pool is
// closed last.
func (c *Controller) Run(ctx context.Context) error {
	// Stages run on a context that survives the signal, so drain work
	// (database writes, in-flight transcriptions) completes; only a stage
	// failure cancels it.
	base := context.WithoutCancel(ctx)
	defer c.svc.Store.Close()

	if err := c.svc.Store.SetStreamStatus(base, c.streamID, model.StreamInProgress, ""); err != nil {
		return c.fail(base, fmt.Errorf("mark stream in progress: %w", err))
	}

	if err := c.svc.Source.Open(base); err != nil {
		return c.fail(base, fmt.Errorf("open container: %w", err))
	}
	if _, ok := c.svc.Source.VideoStream(); !ok {
		c.svc.Source.Close()
		return c.fail(base, &container.StreamOpenError{Reason: "no video stream selected"})
	}
	audioInfo, ok := c.svc.Source.AudioStream()
	if !ok {
		c.svc.Source.Close()
		return c.fail(base, &container.StreamOpenError{Reason: "no audio stream selected"})
	}

	videoQueue := make(chan container.Packet, demux.QueueCapacity)
	audioQueue := make(chan container.Packet, demux.QueueCapacity)
	stop := latch.New()

	dmx := demux.New(c.svc.Source, videoQueue, audioQueue, c.cfg.MaxStreamDuration, stop, c.stageLog)
	smp := sampler.New(c.streamID, c.cfg.BaseDir, c.cfg.VideoFrameSampleRate, c.svc.Store, c.stageLog)
	chk := chunker.New(c.streamID, c.cfg.BaseDir, c.cfg.AudioChunkSeconds,
		audioInfo.SampleRate, audioInfo.Channels, c.cfg.TargetSampleRate, c.svc.Store, c.stageLog)
	trn := transcriber.New(c.streamID, c.cfg.BaseDir, c.cfg.STTEndpoint, c.cfg.STTAPIKey,
		c.cfg.STTLanguageCode, c.svc.Store, chk.Done(), c.stageLog)
	scr := scorer.New(c.streamID, c.cfg.BaseDir, c.cfg.CandidateSlice, c.cfg.AudioChunkSeconds,
		c.cfg.VideoFrameSampleRate, c.svc.Store, c.svc.Store, c.svc.Store, trn,
		c.svc.Captioner, smp.Done(), chk.Done(), c.svc.Metrics, c.stageLog)

	var edgeRefiner assembler.EdgeRefiner
	if c.cfg.AgenticRefinementOn {
		edgeRefiner = refine.New(c.svc.Arbiter, c.stageLog)
	}
	asm := assembler.New(assembler.Config{
		StreamID:            c.streamID,
		BaseDir:             c.cfg.BaseDir,
		HighlightChunk:      c.cfg.HighlightChunk,
		CandidateSlice:      c.cfg.CandidateSlice,
		MinLen:              c.cfg.HighlightMinLen,
		MaxLen:              c.cfg.HighlightMaxLen,
		MaxEdgeShiftSeconds: c.cfg.MaxEdgeShiftSeconds,
		FPS:                 c.cfg.VideoFrameSampleRate,
		AgenticRefinement:   c.cfg.AgenticRefinementOn,
		TextTilingBlock:     c.cfg.TextTilingBlock,
		TextTilingStep:      c.cfg.TextTilingStep,
		TextTilingSmooth:    c.cfg.TextTilingSmooth,
		CutoffStd:           c.cfg.TextTilingCutoffStd,
	}, c.svc.Store, c.svc.Store, c.svc.Store, c.svc.Grouper, edgeRefiner, scr.Done(), c.svc.Metrics, c.stageLog)

	c.log.Info("pipeline starting",
		"max_stream_duration", secondsToHHMMSS(c.cfg.MaxStreamDuration),
		"agentic_refinement", c.cfg.AgenticRefinementOn)

	g, gctx := errgroup.WithContext(base)

	// A process signal becomes a stop request; the demuxer notices, closes
	// its queues, and the pipeline drains front to back.
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			c.log.Info("shutdown requested, draining pipeline")
			stop.Set()
		case <-finished:
		}
	}()

	g.Go(func() error { return c.stage(gctx, "demuxer", dmx.Run) })
	g.Go(func() error {
		return c.stage(gctx, "video_processor", func(ctx context.Context) error {
			return smp.Run(ctx, videoQueue)
		})
	})
	g.Go(func() error {
		return c.stage(gctx, "audio_processor", func(ctx context.Context) error {
			return chk.Run(ctx, audioQueue)
		})
	})
	g.Go(func() error { return c.stage(gctx, "transcriber", trn.Run) })
	g.Go(func() error { return c.stage(gctx, "clip_scorer", scr.Run) })
	g.Go(func() error { return c.stage(gctx, "assembler", asm.Run) })

	if err := g.Wait(); err != nil {
		return c.fail(base, err)
	}

	if err := c.svc.Store.SetStreamStatus(base, c.streamID, model.StreamCompleted, ""); err != nil {
		return fmt.Errorf("mark stream completed: %w", err)
	}
	c.log.Info("pipeline completed")
	return nil
}

// stage wraps one stage's Run with error tagging and completion metrics.
func (c *Controller) stage(ctx context.Context, name string, run func(context.Context) error) error {
	if err := run(ctx); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	c.svc.Metrics.StageDone(name)
	return nil
}

// fail records the terminal FAILED status with the error's message.
// Highlights persisted before the failure are preserved (the status columns
// are the only ones touched).
func (c *Controller) fail(ctx context.Context, cause error) error {
	c.log.Error("pipeline failed", "error", cause)
	if err := c.svc.Store.SetStreamStatus(ctx, c.streamID, model.StreamFailed, cause.Error()); err != nil {
		c.log.Error("could not record FAILED status", "error", err)
	}
	return cause
}

// secondsToHHMMSS formats a duration in seconds as HH:MM:SS for log lines.
func secondsToHHMMSS(seconds float64) string {
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
