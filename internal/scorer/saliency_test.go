package scorer

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func solidJPEG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func pcm16(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

func TestMeanFlowMagnitude_NoFramePairIsZero(t *testing.T) {
	require.Zero(t, meanFlowMagnitude(nil))
	require.Zero(t, meanFlowMagnitude([][]byte{solidJPEG(t, color.White)}))
}

func TestMeanFlowMagnitude_IdenticalFramesNearZero(t *testing.T) {
	frame := solidJPEG(t, color.Gray{Y: 128})
	m := meanFlowMagnitude([][]byte{frame, frame})
	require.InDelta(t, 0, m, 1e-6)
}

func TestMeanFlowMagnitude_FullFrameChangeIsLarge(t *testing.T) {
	black := solidJPEG(t, color.Black)
	white := solidJPEG(t, color.White)
	m := meanFlowMagnitude([][]byte{black, white})
	require.Greater(t, m, 1.0)
}

func TestPCMRMS(t *testing.T) {
	require.Zero(t, pcmRMS(nil))

	// A constant full-scale signal has RMS 1.
	samples := make([]int16, 256)
	for i := range samples {
		samples[i] = math.MaxInt16
	}
	require.InDelta(t, 1.0, pcmRMS(pcm16(samples)), 1e-3)

	// Silence has RMS 0.
	require.Zero(t, pcmRMS(pcm16(make([]int16, 256))))
}

func TestSaliency_StaysInUnitInterval(t *testing.T) {
	black := solidJPEG(t, color.Black)
	white := solidJPEG(t, color.White)
	loud := make([]int16, 512)
	for i := range loud {
		loud[i] = math.MaxInt16
	}

	s := saliency([][]byte{black, white, black, white}, pcm16(loud))
	require.GreaterOrEqual(t, s, 0.0)
	require.LessOrEqual(t, s, 1.0)

	require.Zero(t, saliency(nil, nil))
}
