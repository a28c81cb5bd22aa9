// Package transcriber implements the transcriber stage: it upgrades each
// audio chunk row's transcript from TranscriptEmpty to either a JSON-encoded
// word-item list or TranscriptError, driving one streaming speech-to-text
// session per chunk.
package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/zsiec/reel/internal/latch"
	"github.com/zsiec/reel/internal/model"
	"github.com/zsiec/reel/internal/sttclient"
)

const (
	sendFrameSize = 16 * 1024
	maxAttempts   = 3
	pollInterval  = 2 * time.Second
	fetchLimit    = 10
)

// ChunkStore is the narrow view of the store the transcriber needs.
type ChunkStore interface {
	EmptyAudioChunks(ctx context.Context, streamID string, from, limit int) ([]model.AudioChunkRow, error)
	UpdateTranscript(ctx context.Context, streamID, filename, transcript string) error
}

// Transcriber drives audio chunks through a speech-to-text collaborator.
type Transcriber struct {
	streamID     string
	baseDir      string
	sttEndpoint  string
	sttAPIKey    string
	languageCode string
	store        ChunkStore
	producerDone *latch.Flag
	log          *slog.Logger
	done         *latch.Flag
}

// New constructs a Transcriber. producerDone is the audio chunker's
// completion latch: once it is set and no EMPTY chunks remain, the driver
// loop exits.
func New(streamID, baseDir, sttEndpoint, sttAPIKey, languageCode string, store ChunkStore, producerDone *latch.Flag, log *slog.Logger) *Transcriber {
	if log == nil {
		log = slog.Default()
	}
	return &Transcriber{
		streamID:     streamID,
		baseDir:      baseDir,
		sttEndpoint:  sttEndpoint,
		sttAPIKey:    sttAPIKey,
		languageCode: languageCode,
		store:        store,
		producerDone: producerDone,
		log:          log.With("component", "transcriber"),
		done:         latch.New(),
	}
}

// Done returns the transcriber's completion latch.
func (t *Transcriber) Done() *latch.Flag { return t.done }

// Run repeatedly fetches up to fetchLimit chunks with transcript
// TranscriptEmpty, ordered by chunk_index. When none remain and the producer
// has finished, it returns; otherwise it sleeps briefly and retries.
func (t *Transcriber) Run(ctx context.Context) error {
	defer t.done.Set()

	dir := filepath.Join(t.baseDir, t.streamID, "audio_chunks")
	fromChunk := 0

	for {
		chunks, err := t.store.EmptyAudioChunks(ctx, t.streamID, fromChunk, fetchLimit)
		if err != nil {
			return fmt.Errorf("fetch empty audio chunks: %w", err)
		}

		if len(chunks) == 0 {
			if t.producerDone.IsSet() {
				t.log.Info("transcriber finished: no more chunks")
				return nil
			}
			select {
			case <-time.After(pollInterval):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		for _, chunk := range chunks {
			transcript := t.transcribeOne(ctx, dir, chunk)
			if err := t.store.UpdateTranscript(ctx, t.streamID, chunk.Filename, transcript); err != nil {
				return fmt.Errorf("update transcript: %w", err)
			}
			fromChunk = chunk.ChunkIndex + 1
		}
	}
}

// Retranscribe re-runs the streaming protocol for a single chunk whose
// transcript previously failed. The scorer calls this when it finds a
// TranscriptError sentinel on a chunk it needs. A chunk that already carries
// a finalized word list is left untouched.
func (t *Transcriber) Retranscribe(ctx context.Context, chunk model.AudioChunkRow) error {
	if chunk.Transcript != model.TranscriptEmpty && chunk.Transcript != model.TranscriptError {
		return nil
	}
	dir := filepath.Join(t.baseDir, t.streamID, "audio_chunks")
	transcript := t.transcribeOne(ctx, dir, chunk)
	if err := t.store.UpdateTranscript(ctx, t.streamID, chunk.Filename, transcript); err != nil {
		return fmt.Errorf("update retranscribed chunk: %w", err)
	}
	return nil
}

// transcribeOne runs the full retry-with-backoff protocol for one chunk and
// returns the serialized transcript, or TranscriptError after exhausting
// retries.
func (t *Transcriber) transcribeOne(ctx context.Context, dir string, chunk model.AudioChunkRow) string {
	path := filepath.Join(dir, chunk.Filename)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond

	items, err := backoff.Retry(ctx, func() ([]model.WordItem, error) {
		return t.transcribeAttempt(ctx, path, chunk.SampleRate)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(maxAttempts))
	if err != nil {
		t.log.Error("transcription failed after retries", "filename", chunk.Filename, "error", err)
		return model.TranscriptError
	}

	raw, err := json.Marshal(items)
	if err != nil {
		t.log.Error("encode transcript", "filename", chunk.Filename, "error", err)
		return model.TranscriptError
	}
	return string(raw)
}

// transcribeAttempt opens one streaming session, sends the chunk file in
// 16 KiB frames, and concurrently collects finalized word items.
func (t *Transcriber) transcribeAttempt(ctx context.Context, path string, sampleRate int) ([]model.WordItem, error) {
	session, err := sttclient.Dial(ctx, t.sttEndpoint, sampleRate, t.languageCode, t.sttAPIKey)
	if err != nil {
		return nil, fmt.Errorf("open stt session: %w", err)
	}
	defer session.Close()

	var items []model.WordItem
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sendAudioFile(gctx, session, path)
	})
	g.Go(func() error {
		collected, err := recvWordItems(session)
		items = collected
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

func sendAudioFile(ctx context.Context, session *sttclient.Session, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open chunk file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, sendFrameSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := f.Read(buf)
		if n > 0 {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			if sendErr := session.SendAudio(frame); sendErr != nil {
				return sendErr
			}
		}
		if err != nil {
			break
		}
	}
	return session.EndStream()
}

// recvWordItems reads result events until the session closes, keeping only
// finalized (non-partial) items.
func recvWordItems(session *sttclient.Session) ([]model.WordItem, error) {
	var items []model.WordItem
	for {
		results, err := session.Recv()
		if err != nil {
			return items, normalizeCloseErr(err)
		}
		for _, result := range results {
			if result.IsPartial || len(result.Alternatives) == 0 {
				continue
			}
			for _, item := range result.Alternatives[0].Items {
				if item.IsPartial {
					continue
				}
				items = append(items, model.WordItem{
					Content:   item.Content,
					StartTime: item.StartTime,
					EndTime:   item.EndTime,
					Type:      item.ItemType,
				})
			}
		}
	}
}

// normalizeCloseErr treats a clean websocket close as the end of the result
// stream rather than an error.
func normalizeCloseErr(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return err
}
