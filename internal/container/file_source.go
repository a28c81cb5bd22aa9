package container

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
)

// magic identifies the documented elementary container this package parses:
// a video stream of baseline-JPEG access units and an audio stream of signed
// 16-bit linear PCM, multiplexed as a flat sequence of length-prefixed
// packets ordered by presentation time.
var magic = [4]byte{'R', 'E', 'E', 'L'}

const formatVersion = 1

const (
	timeBaseNanos = 1e9 // PTS is stored in nanoseconds; media_time = pts / timeBaseNanos
)

// FileSource implements Source by reading the documented REEL container
// format from an io.Reader. It is used both for local files and for HTTP(S)
// URLs: cmd/reel wraps either the opened file or the response body with it.
type FileSource struct {
	r      *bufio.Reader
	closer io.Closer

	hasVideo bool
	video    StreamInfo
	hasAudio bool
	audio    StreamInfo
}

// NewFileSource wraps r (and, if it implements io.Closer, closes it on
// Close). r must not have been read from yet.
func NewFileSource(r io.Reader) *FileSource {
	fs := &FileSource{r: bufio.NewReaderSize(r, 64*1024)}
	if c, ok := r.(io.Closer); ok {
		fs.closer = c
	}
	return fs
}

func (f *FileSource) Open(ctx context.Context) error {
	var gotMagic [4]byte
	if _, err := io.ReadFull(f.r, gotMagic[:]); err != nil {
		return &StreamOpenError{Reason: fmt.Sprintf("read magic: %v", err)}
	}
	if gotMagic != magic {
		return &StreamOpenError{Reason: "not a REEL container"}
	}

	var version uint8
	if err := binary.Read(f.r, binary.BigEndian, &version); err != nil {
		return &StreamOpenError{Reason: fmt.Sprintf("read version: %v", err)}
	}
	if version != formatVersion {
		return &StreamOpenError{Reason: fmt.Sprintf("unsupported version %d", version)}
	}

	var hasVideo, hasAudio uint8
	if err := binary.Read(f.r, binary.BigEndian, &hasVideo); err != nil {
		return &StreamOpenError{Reason: fmt.Sprintf("read video flag: %v", err)}
	}
	if hasVideo == 1 {
		var w, h uint16
		if err := binary.Read(f.r, binary.BigEndian, &w); err != nil {
			return &StreamOpenError{Reason: fmt.Sprintf("read video width: %v", err)}
		}
		if err := binary.Read(f.r, binary.BigEndian, &h); err != nil {
			return &StreamOpenError{Reason: fmt.Sprintf("read video height: %v", err)}
		}
		f.hasVideo = true
		f.video = StreamInfo{Kind: Video, Width: int(w), Height: int(h)}
	}

	if err := binary.Read(f.r, binary.BigEndian, &hasAudio); err != nil {
		return &StreamOpenError{Reason: fmt.Sprintf("read audio flag: %v", err)}
	}
	if hasAudio == 1 {
		var sampleRate uint32
		var channels uint16
		if err := binary.Read(f.r, binary.BigEndian, &sampleRate); err != nil {
			return &StreamOpenError{Reason: fmt.Sprintf("read sample rate: %v", err)}
		}
		if err := binary.Read(f.r, binary.BigEndian, &channels); err != nil {
			return &StreamOpenError{Reason: fmt.Sprintf("read channels: %v", err)}
		}
		f.hasAudio = true
		f.audio = StreamInfo{Kind: Audio, SampleRate: int(sampleRate), Channels: int(channels)}
	}

	if !f.hasVideo {
		return &StreamOpenError{Reason: "container has no video stream"}
	}
	if !f.hasAudio {
		return &StreamOpenError{Reason: "container has no audio stream"}
	}
	return nil
}

func (f *FileSource) VideoStream() (StreamInfo, bool) { return f.video, f.hasVideo }
func (f *FileSource) AudioStream() (StreamInfo, bool) { return f.audio, f.hasAudio }

func (f *FileSource) ReadPacket(ctx context.Context) (Packet, error) {
	var kind uint8
	if err := binary.Read(f.r, binary.BigEndian, &kind); err != nil {
		if err == io.EOF {
			return Packet{}, ErrEndOfStream
		}
		return Packet{}, &DecodeError{Reason: "read packet kind", Err: err}
	}

	var ptsNanos int64
	if err := binary.Read(f.r, binary.BigEndian, &ptsNanos); err != nil {
		return Packet{}, &DecodeError{Reason: "read packet pts", Err: err}
	}

	var length uint32
	if err := binary.Read(f.r, binary.BigEndian, &length); err != nil {
		return Packet{}, &DecodeError{Reason: "read packet length", Err: err}
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(f.r, data); err != nil {
		return Packet{}, &DecodeError{Reason: "read packet payload", Err: err}
	}

	pk := Packet{
		PTS:       ptsNanos,
		MediaTime: float64(ptsNanos) / timeBaseNanos,
		Data:      data,
	}
	switch kind {
	case 0:
		pk.Kind = Video
	case 1:
		pk.Kind = Audio
	default:
		return Packet{}, &DecodeError{Reason: fmt.Sprintf("unknown packet kind %d", kind)}
	}
	return pk, nil
}

func (f *FileSource) Close() error {
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}
