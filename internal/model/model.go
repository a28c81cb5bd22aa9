// Package model holds the domain row types shared by the store and every
// pipeline stage that reads or writes them. Keeping them here instead of in
// internal/store avoids an import cycle between the scorer/assembler (which
// need the row shapes) and the store (which persists them).
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Sentinel transcript values. A chunk's transcript starts as TranscriptEmpty
// and is upgraded by the transcriber to either a JSON word list or
// TranscriptError on permanent failure.
const (
	TranscriptEmpty = "!EMPTY!"
	TranscriptError = "!ERROR!"
)

// StreamStatus is the lifecycle state of a Stream row.
type StreamStatus string

const (
	StreamSubmitted  StreamStatus = "SUBMITTED"
	StreamInProgress StreamStatus = "IN_PROGRESS"
	StreamCompleted  StreamStatus = "COMPLETED"
	StreamFailed     StreamStatus = "FAILED"
)

// Stream is the top-level job row. Status advances monotonically except
// StreamFailed, which is terminal.
type Stream struct {
	StreamID   string       `json:"stream_id"`
	StreamURL  string       `json:"stream_url"`
	Status     StreamStatus `json:"status"`
	Message    string       `json:"message,omitempty"`
	Highlights []Highlight  `json:"highlights"`
}

// FrameRow is one sampled video frame. FrameIndex is strictly increasing
// from 0 per stream; Timestamp is strictly increasing.
type FrameRow struct {
	StreamID   string    `json:"stream_id"`
	Filename   string    `json:"filename"`
	FrameIndex int       `json:"frame_index"`
	Timestamp  float64   `json:"timestamp"`
	PTS        int64     `json:"pts"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	CreatedAt  time.Time `json:"created_at"`
}

// AudioChunkRow is one fixed-duration resampled audio chunk. Transcript is
// one of TranscriptEmpty, TranscriptError, or a JSON-encoded WordItem list.
type AudioChunkRow struct {
	StreamID       string    `json:"stream_id"`
	Filename       string    `json:"filename"`
	ChunkIndex     int       `json:"chunk_index"`
	StartTimestamp float64   `json:"start_timestamp"`
	EndTimestamp   float64   `json:"end_timestamp"`
	SampleRate     int       `json:"sample_rate"`
	CapturedAt     time.Time `json:"captured_at"`
	Transcript     string    `json:"transcript"`
}

// WordItem is one finalized speech-to-text result item.
type WordItem struct {
	Content   string  `json:"content"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Type      string  `json:"type"`
}

// DecodeTranscript parses a chunk row's transcript field as a word-item
// list. The sentinel values TranscriptEmpty and TranscriptError (and an
// unset field) decode to an error rather than an empty list, so callers can
// tell "no words" apart from "not transcribed".
func DecodeTranscript(transcript string) ([]WordItem, error) {
	if transcript == TranscriptEmpty || transcript == TranscriptError || transcript == "" {
		return nil, fmt.Errorf("transcript not available: %q", transcript)
	}
	var items []WordItem
	if err := json.Unmarshal([]byte(transcript), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// ScoreRow is one candidate-window score. Windows are CANDIDATE_SLICE
// seconds long, non-overlapping, and contiguous from 0.
type ScoreRow struct {
	StreamID       string    `json:"stream_id"`
	StartTime      float64   `json:"start_time"`
	EndTime        float64   `json:"end_time"`
	SaliencyScore  float64   `json:"saliency_score"`
	HighlightScore float64   `json:"highlight_score"`
	Caption        string    `json:"caption"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// EdgeSource records which boundary source, if any, won an edge during
// snapping or refinement.
type EdgeSource string

const (
	EdgeScene    EdgeSource = "scene"
	EdgeTopic    EdgeSource = "topic"
	EdgeOriginal EdgeSource = "original"
)

// Highlight is one emitted highlight segment inside a Stream's Highlights
// list.
type Highlight struct {
	StartTime   float64    `json:"start_time"`
	EndTime     float64    `json:"end_time"`
	Title       string     `json:"title"`
	Caption     string     `json:"caption"`
	Thumbnail   string     `json:"thumbnail"`
	StartSource EdgeSource `json:"start_source,omitempty"`
	EndSource   EdgeSource `json:"end_source,omitempty"`
}
