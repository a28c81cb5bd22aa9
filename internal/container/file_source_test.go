package container

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

type testPacket struct {
	kind     uint8
	ptsNanos int64
	data     []byte
}

func buildContainer(t *testing.T, hasVideo, hasAudio bool, width, height, sampleRate, channels int, packets []testPacket) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(magic[:])
	binary.Write(&buf, binary.BigEndian, uint8(formatVersion))

	if hasVideo {
		binary.Write(&buf, binary.BigEndian, uint8(1))
		binary.Write(&buf, binary.BigEndian, uint16(width))
		binary.Write(&buf, binary.BigEndian, uint16(height))
	} else {
		binary.Write(&buf, binary.BigEndian, uint8(0))
	}

	if hasAudio {
		binary.Write(&buf, binary.BigEndian, uint8(1))
		binary.Write(&buf, binary.BigEndian, uint32(sampleRate))
		binary.Write(&buf, binary.BigEndian, uint16(channels))
	} else {
		binary.Write(&buf, binary.BigEndian, uint8(0))
	}

	for _, p := range packets {
		binary.Write(&buf, binary.BigEndian, p.kind)
		binary.Write(&buf, binary.BigEndian, p.ptsNanos)
		binary.Write(&buf, binary.BigEndian, uint32(len(p.data)))
		buf.Write(p.data)
	}
	return buf.Bytes()
}

func TestFileSource_OpenAndReadPackets(t *testing.T) {
	raw := buildContainer(t, true, true, 640, 360, 16000, 1, []testPacket{
		{kind: 0, ptsNanos: 0, data: []byte("jpeg-frame-0")},
		{kind: 1, ptsNanos: 500_000_000, data: []byte("pcm-chunk-0")},
		{kind: 0, ptsNanos: 1_000_000_000, data: []byte("jpeg-frame-1")},
	})

	src := NewFileSource(bytes.NewReader(raw))
	require.NoError(t, src.Open(context.Background()))

	video, ok := src.VideoStream()
	require.True(t, ok)
	require.Equal(t, 640, video.Width)
	require.Equal(t, 360, video.Height)

	audio, ok := src.AudioStream()
	require.True(t, ok)
	require.Equal(t, 16000, audio.SampleRate)
	require.Equal(t, 1, audio.Channels)

	pk1, err := src.ReadPacket(context.Background())
	require.NoError(t, err)
	require.Equal(t, Video, pk1.Kind)
	require.Equal(t, 0.0, pk1.MediaTime)

	pk2, err := src.ReadPacket(context.Background())
	require.NoError(t, err)
	require.Equal(t, Audio, pk2.Kind)
	require.Equal(t, 0.5, pk2.MediaTime)

	pk3, err := src.ReadPacket(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1.0, pk3.MediaTime)

	_, err = src.ReadPacket(context.Background())
	require.ErrorIs(t, err, ErrEndOfStream)
}

func TestFileSource_Open_BadMagic(t *testing.T) {
	src := NewFileSource(bytes.NewReader([]byte("nope")))
	err := src.Open(context.Background())
	require.Error(t, err)
	var openErr *StreamOpenError
	require.ErrorAs(t, err, &openErr)
}

func TestFileSource_Open_NoStreams(t *testing.T) {
	raw := buildContainer(t, false, false, 0, 0, 0, 0, nil)
	src := NewFileSource(bytes.NewReader(raw))
	err := src.Open(context.Background())
	require.Error(t, err)
}
