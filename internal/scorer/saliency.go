package scorer

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"
)

// Relative weight of motion vs loudness in the combined saliency score.
const (
	alphaMotion = 0.7
	alphaAudio  = 0.3
)

const (
	flowW = 160
	flowH = 90
)

// saliency combines tanh-squashed motion magnitude and audio loudness into a
// single score in [0,1].
func saliency(frames [][]byte, pcm []byte) float64 {
	motion := meanFlowMagnitude(frames)
	loudness := pcmRMS(pcm)
	s := math.Tanh(motion)*alphaMotion + math.Tanh(loudness)*alphaAudio
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// meanFlowMagnitude estimates the mean optical-flow magnitude between each
// consecutive pair of frames using the normal-flow approximation
// |It| / sqrt(Ix^2 + Iy^2) over downscaled grayscale images. No frame pair
// yields 0.
func meanFlowMagnitude(frames [][]byte) float64 {
	if len(frames) < 2 {
		return 0
	}

	var prev []float64
	var sum float64
	var pairs int
	for _, data := range frames {
		gray, ok := grayscalePlane(data)
		if !ok {
			continue
		}
		if prev != nil {
			sum += normalFlowMagnitude(prev, gray)
			pairs++
		}
		prev = gray
	}
	if pairs == 0 {
		return 0
	}
	return sum / float64(pairs)
}

// grayscalePlane decodes a JPEG and returns its luma downscaled to
// flowW x flowH, values in [0,1].
func grayscalePlane(data []byte) ([]float64, bool) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}

	dst := image.NewGray(image.Rect(0, 0, flowW, flowH))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	plane := make([]float64, flowW*flowH)
	for i, v := range dst.Pix {
		plane[i] = float64(v) / 255.0
	}
	return plane, true
}

func normalFlowMagnitude(prev, cur []float64) float64 {
	const eps = 1e-6

	var sum float64
	var count int
	for y := 1; y < flowH-1; y++ {
		for x := 1; x < flowW-1; x++ {
			i := y*flowW + x
			ix := (cur[i+1] - cur[i-1]) / 2
			iy := (cur[i+flowW] - cur[i-flowW]) / 2
			it := cur[i] - prev[i]
			sum += math.Abs(it) / math.Sqrt(ix*ix+iy*iy+eps)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	// Damp the mean ratio by 10 before the tanh squash. On flat regions the
	// gradient term is only eps, so a uniform full-frame change still yields
	// a value far above 1.
	return sum / float64(count) / 10.0
}

// pcmRMS computes the root-mean-square level of little-endian int16 PCM,
// normalized to [0,1] by the int16 full scale.
func pcmRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
