// Package candidate implements the clip view the scorer builds for each
// scoring window: the audio chunks it overlaps and the frames sampled inside
// it, loaded lazily from the on-disk artifacts, and the transcript words
// that fall inside its bounds, decoded from the chunk rows it is given.
package candidate

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/zsiec/reel/internal/model"
)

// Clip is a read-only view over one scoring window's backing artifacts.
type Clip struct {
	baseDir   string
	streamID  string
	StartTime float64
	EndTime   float64
}

// New constructs a Clip for the window [startTime, endTime).
func New(baseDir, streamID string, startTime, endTime float64) *Clip {
	return &Clip{baseDir: baseDir, streamID: streamID, StartTime: startTime, EndTime: endTime}
}

// AudioChunkIndexes returns the inclusive range of chunk indices this clip
// overlaps, given chunkDuration seconds per chunk. It special-cases a
// right-endpoint exactly on a chunk boundary: no audio from the following
// chunk lies inside the window.
func (c *Clip) AudioChunkIndexes(chunkDuration float64) []int {
	startChunk := int(c.StartTime / chunkDuration)
	endChunk := int(c.EndTime / chunkDuration)

	if chunkDuration > 0 && math.Mod(c.EndTime, chunkDuration) == 0 && c.EndTime != 0 {
		endChunk--
	}
	if endChunk < startChunk {
		endChunk = startChunk
	}

	out := make([]int, 0, endChunk-startChunk+1)
	for i := startChunk; i <= endChunk; i++ {
		out = append(out, i)
	}
	return out
}

// LoadAudioBytes concatenates the PCM payload of every overlapping audio
// chunk file and crops it to the clip's exact millisecond offsets. It
// returns the cropped PCM, the sample rate, and channel count read from the
// chunk WAV headers.
func (c *Clip) LoadAudioBytes(chunks []model.AudioChunkRow, chunkDuration float64) ([]byte, int, int, error) {
	indexes := c.AudioChunkIndexes(chunkDuration)
	if len(indexes) == 0 {
		return nil, 0, 0, nil
	}

	byIndex := make(map[int]model.AudioChunkRow, len(chunks))
	for _, row := range chunks {
		byIndex[row.ChunkIndex] = row
	}

	dir := filepath.Join(c.baseDir, c.streamID, "audio_chunks")

	var (
		full       []byte
		sampleRate int
		channels   int
		firstIndex = indexes[0]
	)
	for _, idx := range indexes {
		row, ok := byIndex[idx]
		if !ok {
			continue
		}
		path := filepath.Join(dir, row.Filename)
		pcm, sr, ch, err := readWAV(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, 0, 0, fmt.Errorf("read audio chunk %q: %w", row.Filename, err)
		}
		sampleRate, channels = sr, ch
		full = append(full, pcm...)
	}
	if sampleRate == 0 || len(full) == 0 {
		return nil, 0, 0, nil
	}

	bytesPerFrame := 2 * channels
	startOffset := int((c.StartTime - float64(firstIndex)*chunkDuration) * float64(sampleRate) * float64(bytesPerFrame))
	length := int((c.EndTime - c.StartTime) * float64(sampleRate) * float64(bytesPerFrame))

	if startOffset < 0 {
		startOffset = 0
	}
	if startOffset > len(full) {
		startOffset = len(full)
	}
	end := startOffset + length
	if end > len(full) {
		end = len(full)
	}
	if end < startOffset {
		end = startOffset
	}
	return full[startOffset:end], sampleRate, channels, nil
}

// LoadFrames reads every frame JPEG whose index falls in
// [start_time*fps, end_time*fps), skipping frames that were never saved
// (the sampler only keeps one frame per sampling period).
func (c *Clip) LoadFrames(fps float64) ([][]byte, error) {
	dir := filepath.Join(c.baseDir, c.streamID, "frames")

	startIdx := int(c.StartTime * fps)
	endIdx := int(c.EndTime * fps)

	var frames [][]byte
	for i := startIdx; i < endIdx; i++ {
		path := filepath.Join(dir, fmt.Sprintf("frame_%09d.jpg", i))
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read frame %d: %w", i, err)
		}
		frames = append(frames, data)
	}
	return frames, nil
}

// Transcript concatenates the content of every pronunciation word item whose
// absolute timing falls entirely within [StartTime, EndTime], across the
// given audio chunk rows' decoded word-item transcripts.
func (c *Clip) Transcript(chunks []model.AudioChunkRow) (string, error) {
	var words []string
	for _, row := range chunks {
		items, err := model.DecodeTranscript(row.Transcript)
		if err != nil {
			continue // sentinel values (EMPTY/ERROR) decode to nothing usable
		}
		for _, item := range items {
			if item.Type != "pronunciation" {
				continue
			}
			start := item.StartTime + row.StartTimestamp
			end := item.EndTime + row.StartTimestamp
			if start >= c.StartTime && end <= c.EndTime {
				words = append(words, item.Content)
			}
		}
	}
	return strings.Join(words, " "), nil
}

// readWAV reads a canonical 44-byte-header PCM WAV file as written by
// internal/chunker, returning the raw PCM payload, sample rate, and channel
// count.
func readWAV(path string) ([]byte, int, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, 0, err
	}
	if len(data) < 44 {
		return nil, 0, 0, fmt.Errorf("wav file too short: %s", path)
	}
	channels := int(binary.LittleEndian.Uint16(data[22:24]))
	sampleRate := int(binary.LittleEndian.Uint32(data[24:28]))
	return data[44:], sampleRate, channels, nil
}
