// Package chunker implements the audio chunker: it resamples incoming PCM
// audio frames to the target sample rate and groups them into fixed-duration
// chunks written as WAV artifacts plus chunk rows.
package chunker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/zsiec/reel/internal/container"
	"github.com/zsiec/reel/internal/latch"
	"github.com/zsiec/reel/internal/model"
)

// AudioWriter is the write-only view of the store the chunker needs.
type AudioWriter interface {
	InsertAudioChunk(ctx context.Context, row model.AudioChunkRow) error
}

// AudioChunker groups resampled PCM audio into AUDIO_CHUNK-second chunks.
type AudioChunker struct {
	streamID         string
	baseDir          string
	chunkSeconds     float64
	sourceSampleRate int
	targetSampleRate int
	channels         int
	writer           AudioWriter
	log              *slog.Logger
	done             *latch.Flag

	buffer     []byte // resampled int16 PCM, little-endian
	startTS    float64
	hasStart   bool
	chunkIndex int
}

// New constructs an AudioChunker. sourceSampleRate/channels describe the
// container's audio stream; targetSampleRate is TARGET_SAMPLE_RATE.
func New(streamID, baseDir string, chunkSeconds float64, sourceSampleRate, channels, targetSampleRate int, writer AudioWriter, log *slog.Logger) *AudioChunker {
	if log == nil {
		log = slog.Default()
	}
	return &AudioChunker{
		streamID:         streamID,
		baseDir:          baseDir,
		chunkSeconds:     chunkSeconds,
		sourceSampleRate: sourceSampleRate,
		targetSampleRate: targetSampleRate,
		channels:         channels,
		writer:           writer,
		log:              log.With("component", "audio-chunker"),
		done:             latch.New(),
	}
}

// Done returns the chunker's completion latch, set once Run returns.
func (c *AudioChunker) Done() *latch.Flag { return c.done }

// Run consumes audio packets until the channel is closed, flushing any
// residual buffered audio before returning.
func (c *AudioChunker) Run(ctx context.Context, audio <-chan container.Packet) error {
	defer c.done.Set()

	dir := filepath.Join(c.baseDir, c.streamID, "audio_chunks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create audio_chunks dir: %w", err)
	}

	var lastTS float64
	for {
		select {
		case pk, ok := <-audio:
			if !ok {
				if err := c.flush(ctx, dir, lastTS); err != nil {
					return err
				}
				c.log.Info("audio chunker finished: upstream closed", "chunks_written", c.chunkIndex)
				return nil
			}
			lastTS = pk.MediaTime
			if err := c.handle(ctx, dir, pk); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *AudioChunker) handle(ctx context.Context, dir string, pk container.Packet) error {
	if !c.hasStart {
		c.startTS = pk.MediaTime
		c.hasStart = true
	}

	c.buffer = append(c.buffer, resamplePCM16(pk.Data, c.sourceSampleRate, c.targetSampleRate, c.channels)...)

	if pk.MediaTime-c.startTS >= c.chunkSeconds {
		return c.flush(ctx, dir, pk.MediaTime)
	}
	return nil
}

func (c *AudioChunker) flush(ctx context.Context, dir string, endTS float64) error {
	if len(c.buffer) == 0 {
		return nil
	}

	filename := fmt.Sprintf("audio_%06d.wav", c.chunkIndex)
	path := filepath.Join(dir, filename)
	if err := writeWAV(path, c.buffer, c.targetSampleRate, c.channels); err != nil {
		return fmt.Errorf("write audio chunk: %w", err)
	}

	row := model.AudioChunkRow{
		StreamID:       c.streamID,
		Filename:       filename,
		ChunkIndex:     c.chunkIndex,
		StartTimestamp: c.startTS,
		EndTimestamp:   endTS,
		SampleRate:     c.targetSampleRate,
		CapturedAt:     time.Now(),
		Transcript:     model.TranscriptEmpty,
	}
	if err := c.writer.InsertAudioChunk(ctx, row); err != nil {
		return fmt.Errorf("insert audio chunk row: %w", err)
	}

	c.chunkIndex++
	c.buffer = nil
	c.hasStart = false
	return nil
}
