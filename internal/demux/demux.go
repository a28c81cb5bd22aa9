// Package demux drives a container.Source on a dedicated OS thread and fans
// its packets into two bounded channels, stopping deterministically at a
// configured maximum media time.
package demux

import (
	"context"
	"errors"
	"log/slog"
	"runtime"

	"github.com/zsiec/reel/internal/container"
	"github.com/zsiec/reel/internal/latch"
)

// QueueCapacity is the bounded channel capacity shared by every cross-stage
// queue in the pipeline; a full queue blocks the demuxer, which is the
// pipeline's only backpressure source.
const QueueCapacity = 2048

// Demuxer drives one container.Source and splits it into timestamped video
// and audio packet streams. The decoder underlying a Source is blocking, so
// Run pins itself to a dedicated OS thread via runtime.LockOSThread.
type Demuxer struct {
	src               container.Source
	video             chan<- container.Packet
	audio             chan<- container.Packet
	maxStreamDuration float64
	stop              *latch.Flag
	log               *slog.Logger
}

// New constructs a Demuxer over an already-opened Source (the lifecycle
// controller opens it at startup, since the chunker needs the audio stream's
// parameters before any stage runs). video and audio are the bounded queues
// frames are fanned into; stop doubles as a cooperative shutdown signal: the
// controller sets it on a process signal, and Run sets it itself on every
// return path (success or failure) so downstream stages can detect upstream
// completion.
func New(src container.Source, video, audio chan<- container.Packet, maxStreamDuration float64, stop *latch.Flag, log *slog.Logger) *Demuxer {
	if log == nil {
		log = slog.Default()
	}
	return &Demuxer{
		src:               src,
		video:             video,
		audio:             audio,
		maxStreamDuration: maxStreamDuration,
		stop:              stop,
		log:               log.With("component", "demuxer"),
	}
}

// Run enqueues packets until the source is exhausted, maxStreamDuration of
// media time has elapsed, the stop flag is set, or ctx is cancelled. It
// always sets d.stop and closes both queues before returning.
func (d *Demuxer) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer d.stop.Set()
	defer close(d.video)
	defer close(d.audio)
	defer d.src.Close()

	d.log.Info("demuxing started", "max_stream_duration", d.maxStreamDuration)

	for {
		if d.stop.IsSet() {
			d.log.Info("demuxing finished: stop requested")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		pk, err := d.src.ReadPacket(ctx)
		if errors.Is(err, container.ErrEndOfStream) {
			d.log.Info("demuxing finished: source exhausted")
			return nil
		}
		if err != nil {
			var decodeErr *container.DecodeError
			if errors.As(err, &decodeErr) {
				d.log.Error("unrecoverable decode error", "error", decodeErr)
				return decodeErr
			}
			d.log.Warn("skipping packet after transient read error", "error", err)
			continue
		}

		if pk.MediaTime > d.maxStreamDuration {
			d.log.Info("demuxing finished: max stream duration reached", "media_time", pk.MediaTime)
			return nil
		}

		if err := d.enqueue(ctx, pk); err != nil {
			return err
		}
	}
}

func (d *Demuxer) enqueue(ctx context.Context, pk container.Packet) error {
	var dst chan<- container.Packet
	switch pk.Kind {
	case container.Video:
		dst = d.video
	case container.Audio:
		dst = d.audio
	default:
		return nil
	}

	select {
	case dst <- pk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
