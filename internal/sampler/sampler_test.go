package sampler

import (
	"context"
	"image"
	"image/jpeg"
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zsiec/reel/internal/container"
	"github.com/zsiec/reel/internal/model"
)

type fakeWriter struct {
	mu   sync.Mutex
	rows []model.FrameRow
}

func (f *fakeWriter) InsertFrame(ctx context.Context, row model.FrameRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, row)
	return nil
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestSampler_KeepsOneFramePerPeriod(t *testing.T) {
	writer := &fakeWriter{}
	s := New("stream-1", t.TempDir(), 1.0, writer, nil) // one frame per second

	video := make(chan container.Packet, 8)
	video <- container.Packet{Kind: container.Video, PTS: 0, MediaTime: 0.0, Data: jpegBytes(t, 8, 8)}
	video <- container.Packet{Kind: container.Video, PTS: 1, MediaTime: 0.2, Data: jpegBytes(t, 8, 8)} // too soon, skipped
	video <- container.Packet{Kind: container.Video, PTS: 2, MediaTime: 1.1, Data: jpegBytes(t, 8, 8)} // kept
	close(video)

	err := s.Run(context.Background(), video)
	require.NoError(t, err)

	writer.mu.Lock()
	defer writer.mu.Unlock()
	require.Len(t, writer.rows, 2)
	require.Equal(t, 0, writer.rows[0].FrameIndex)
	require.Equal(t, 0.0, writer.rows[0].Timestamp)
	require.Equal(t, 1, writer.rows[1].FrameIndex)
	require.Equal(t, 1.1, writer.rows[1].Timestamp)
	require.Equal(t, 8, writer.rows[0].Width)

	require.True(t, s.Done().IsSet())
}

func TestSampler_FrameIndexesStrictlyIncreasing(t *testing.T) {
	writer := &fakeWriter{}
	s := New("stream-1", t.TempDir(), 10.0, writer, nil)

	video := make(chan container.Packet, 8)
	for i := 0; i < 5; i++ {
		video <- container.Packet{Kind: container.Video, MediaTime: float64(i) * 0.2, Data: jpegBytes(t, 4, 4)}
	}
	close(video)

	require.NoError(t, s.Run(context.Background(), video))

	writer.mu.Lock()
	defer writer.mu.Unlock()
	for i, row := range writer.rows {
		require.Equal(t, i, row.FrameIndex)
	}
}
