// Package sttclient implements the bidirectional streaming speech-to-text
// protocol: a send-only stream of raw PCM audio events at a declared sample
// rate, and a receive stream of result events whose finalized (non-partial)
// items carry per-word timings.
package sttclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// startMessage opens a session, declaring the media encoding and sample
// rate for every audio event that follows.
type startMessage struct {
	Type           string `json:"type"`
	MediaEncoding  string `json:"media_encoding"`
	SampleRateHz   int    `json:"sample_rate_hz"`
	LanguageCode   string `json:"language_code"`
}

// audioEvent carries one chunk of raw PCM.
type audioEvent struct {
	Type  string `json:"type"`
	Audio []byte `json:"audio"`
}

// endOfStreamEvent signals no more audio will be sent.
type endOfStreamEvent struct {
	Type string `json:"type"`
}

// Item is one word-level result item with its timing and kind.
type Item struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Content   string  `json:"content"`
	ItemType  string  `json:"item_type"`
	IsPartial bool    `json:"is_partial"`
}

// Alternative is one transcription hypothesis for a result.
type Alternative struct {
	Items []Item `json:"items"`
}

// Result is one incoming transcription result; IsPartial mirrors the
// contract's "only non-partial items are consumed" rule at the result level
// too (a result can be provisional and get revised).
type Result struct {
	Alternatives []Alternative `json:"alternatives"`
	IsPartial    bool          `json:"is_partial"`
}

// resultEvent is the wire shape of one server->client event.
type resultEvent struct {
	Type    string   `json:"type"`
	Results []Result `json:"results"`
}

// Session is one bidirectional speech-to-text streaming session, scoped to a
// single audio chunk.
type Session struct {
	conn *websocket.Conn
}

// Dial opens a new session against endpoint, declaring PCM encoding at
// sampleRateHz. apiKey, if non-empty, is sent as a bearer token.
func Dial(ctx context.Context, endpoint string, sampleRateHz int, languageCode, apiKey string) (*Session, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse stt endpoint: %w", err)
	}

	header := make(map[string][]string)
	if apiKey != "" {
		header["Authorization"] = []string{"Bearer " + apiKey}
	}

	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 15 * time.Second

	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial stt endpoint: %w", err)
	}

	s := &Session{conn: conn}
	start := startMessage{
		Type:          "start",
		MediaEncoding: "pcm",
		SampleRateHz:  sampleRateHz,
		LanguageCode:  languageCode,
	}
	if err := conn.WriteJSON(start); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send start message: %w", err)
	}
	return s, nil
}

// SendAudio sends one raw PCM frame.
func (s *Session) SendAudio(frame []byte) error {
	if err := s.conn.WriteJSON(audioEvent{Type: "audio", Audio: frame}); err != nil {
		return fmt.Errorf("send audio frame: %w", err)
	}
	return nil
}

// EndStream signals that no more audio will be sent; the server will finish
// emitting result events and then close.
func (s *Session) EndStream() error {
	if err := s.conn.WriteJSON(endOfStreamEvent{Type: "end_of_stream"}); err != nil {
		return fmt.Errorf("send end-of-stream: %w", err)
	}
	return nil
}

// Recv reads the next result event. Once the server closes the connection
// it returns the websocket read error unchanged; a normal closure arrives as
// a *websocket.CloseError.
func (s *Session) Recv() ([]Result, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var ev resultEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode result event: %w", err)
	}
	return ev.Results, nil
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}
