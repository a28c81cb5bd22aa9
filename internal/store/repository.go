package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/zsiec/reel/internal/model"
)

// InsertFrame inserts one sampled video frame row. Rows are never updated.
func (s *Store) InsertFrame(ctx context.Context, row model.FrameRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO video_metadata (stream_id, filename, frame_index, timestamp, pts, width, height, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		row.StreamID, row.Filename, row.FrameIndex, row.Timestamp, row.PTS, row.Width, row.Height, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert frame row: %w", err)
	}
	return nil
}

// FramesByRange returns frame rows with frame_index in [startIndex, startIndex+count),
// ordered by frame_index.
func (s *Store) FramesByRange(ctx context.Context, streamID string, startIndex, count int) ([]model.FrameRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT stream_id, filename, frame_index, timestamp, pts, width, height, created_at
		FROM video_metadata
		WHERE stream_id = $1 AND frame_index >= $2 AND frame_index < $3
		ORDER BY frame_index`,
		streamID, startIndex, startIndex+count)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, pgx.RowToStructByName[model.FrameRow])
}

// InsertAudioChunk inserts one audio chunk row with the transcript it carries
// (the chunker always passes TranscriptEmpty).
func (s *Store) InsertAudioChunk(ctx context.Context, row model.AudioChunkRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audio_metadata (stream_id, filename, chunk_index, start_timestamp, end_timestamp, sample_rate, captured_at, transcript)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		row.StreamID, row.Filename, row.ChunkIndex, row.StartTimestamp, row.EndTimestamp, row.SampleRate, row.CapturedAt, row.Transcript)
	if err != nil {
		return fmt.Errorf("insert audio chunk row: %w", err)
	}
	return nil
}

// AudioChunksByRange returns audio chunk rows with chunk_index in
// [startChunk, endChunk], ordered by chunk_index.
func (s *Store) AudioChunksByRange(ctx context.Context, streamID string, startChunk, endChunk int) ([]model.AudioChunkRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT stream_id, filename, chunk_index, start_timestamp, end_timestamp, sample_rate, captured_at, transcript
		FROM audio_metadata
		WHERE stream_id = $1 AND chunk_index >= $2 AND chunk_index <= $3
		ORDER BY chunk_index`,
		streamID, startChunk, endChunk)
	if err != nil {
		return nil, fmt.Errorf("query audio chunks: %w", err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, pgx.RowToStructByName[model.AudioChunkRow])
}

// AudioChunksAll returns every audio chunk row for a stream, ordered by
// chunk_index. Used to flatten the full transcript word list for topic
// boundary detection.
func (s *Store) AudioChunksAll(ctx context.Context, streamID string) ([]model.AudioChunkRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT stream_id, filename, chunk_index, start_timestamp, end_timestamp, sample_rate, captured_at, transcript
		FROM audio_metadata
		WHERE stream_id = $1
		ORDER BY chunk_index`,
		streamID)
	if err != nil {
		return nil, fmt.Errorf("query all audio chunks: %w", err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, pgx.RowToStructByName[model.AudioChunkRow])
}

// EmptyAudioChunks returns up to limit audio chunk rows whose transcript is
// still TranscriptEmpty and whose chunk_index is >= from, ordered by
// chunk_index. Used by the transcriber's driver loop.
func (s *Store) EmptyAudioChunks(ctx context.Context, streamID string, from, limit int) ([]model.AudioChunkRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT stream_id, filename, chunk_index, start_timestamp, end_timestamp, sample_rate, captured_at, transcript
		FROM audio_metadata
		WHERE stream_id = $1 AND chunk_index >= $2 AND transcript = $3
		ORDER BY chunk_index
		LIMIT $4`,
		streamID, from, model.TranscriptEmpty, limit)
	if err != nil {
		return nil, fmt.Errorf("query empty audio chunks: %w", err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, pgx.RowToStructByName[model.AudioChunkRow])
}

// UpdateTranscript sets the transcript field of one audio chunk row.
func (s *Store) UpdateTranscript(ctx context.Context, streamID, filename, transcript string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE audio_metadata SET transcript = $1 WHERE stream_id = $2 AND filename = $3`,
		transcript, streamID, filename)
	if err != nil {
		return fmt.Errorf("update transcript: %w", err)
	}
	return nil
}

// InsertScore inserts one candidate-window score row.
func (s *Store) InsertScore(ctx context.Context, row model.ScoreRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO score_metadata (stream_id, start_time, end_time, saliency_score, highlight_score, caption, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())`,
		row.StreamID, row.StartTime, row.EndTime, row.SaliencyScore, row.HighlightScore, row.Caption)
	if err != nil {
		return fmt.Errorf("insert score row: %w", err)
	}
	return nil
}

// ScoresByOffset returns up to count score rows starting at the offset-th
// row (ordered by start_time), matching the assembler's slice-index
// addressing of score rows.
func (s *Store) ScoresByOffset(ctx context.Context, streamID string, offset, count int) ([]model.ScoreRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT stream_id, start_time, end_time, saliency_score, highlight_score, caption, created_at, updated_at
		FROM score_metadata
		WHERE stream_id = $1
		ORDER BY start_time
		OFFSET $2 LIMIT $3`,
		streamID, offset, count)
	if err != nil {
		return nil, fmt.Errorf("query score rows: %w", err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, pgx.RowToStructByName[model.ScoreRow])
}

// HasMoreScoresAfter reports whether any score row's start_time exceeds
// afterEndTime.
func (s *Store) HasMoreScoresAfter(ctx context.Context, streamID string, afterEndTime float64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM score_metadata WHERE stream_id = $1 AND start_time > $2)`,
		streamID, afterEndTime).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check more scores: %w", err)
	}
	return exists, nil
}

// CreateStream inserts the initial SUBMITTED stream row.
func (s *Store) CreateStream(ctx context.Context, streamID, streamURL string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stream_metadata (stream_id, stream_url, status, highlights)
		VALUES ($1, $2, $3, '[]')
		ON CONFLICT (stream_id) DO NOTHING`,
		streamID, streamURL, model.StreamSubmitted)
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	return nil
}

// GetStream fetches one stream row, including its deserialized highlight list.
func (s *Store) GetStream(ctx context.Context, streamID string) (model.Stream, error) {
	var (
		stream        model.Stream
		highlightsRaw []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT stream_id, stream_url, status, message, highlights FROM stream_metadata WHERE stream_id = $1`,
		streamID).Scan(&stream.StreamID, &stream.StreamURL, &stream.Status, &stream.Message, &highlightsRaw)
	if err != nil {
		return model.Stream{}, fmt.Errorf("get stream: %w", err)
	}
	if len(highlightsRaw) > 0 {
		if err := unmarshalHighlights(highlightsRaw, &stream.Highlights); err != nil {
			return model.Stream{}, fmt.Errorf("decode highlights: %w", err)
		}
	}
	return stream, nil
}

// SetStreamStatus advances the stream's status and optional message.
// StreamFailed is terminal; callers must not call this again afterwards.
func (s *Store) SetStreamStatus(ctx context.Context, streamID string, status model.StreamStatus, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE stream_metadata SET status = $1, message = $2 WHERE stream_id = $3`,
		status, message, streamID)
	if err != nil {
		return fmt.Errorf("set stream status: %w", err)
	}
	return nil
}

// ReplaceHighlights atomically overwrites the stream row's full highlight
// list. The caller is responsible for having already merged in prior
// entries; the row is never partially updated.
func (s *Store) ReplaceHighlights(ctx context.Context, streamID string, highlights []model.Highlight) error {
	raw, err := marshalHighlights(highlights)
	if err != nil {
		return fmt.Errorf("encode highlights: %w", err)
	}
	_, err = s.pool.Exec(ctx, `UPDATE stream_metadata SET highlights = $1 WHERE stream_id = $2`, raw, streamID)
	if err != nil {
		return fmt.Errorf("replace highlights: %w", err)
	}
	return nil
}
