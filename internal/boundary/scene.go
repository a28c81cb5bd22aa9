// Package boundary implements the two independent boundary detectors the
// assembler consults: scene cuts from sampled video frames, and lexical
// topic boundaries from the flattened transcript.
//
// Scene-cut detection downscales each frame, converts it to HSV, and
// compares normalized hue-saturation histograms of adjacent frames with the
// Bhattacharyya distance.
package boundary

import (
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"golang.org/x/image/draw"
)

const (
	histBinsH = 32
	histBinsS = 32
	downscaleW = 160
	downscaleH = 90
)

var frameFileRE = regexp.MustCompile(`^frame_(\d+)\.jpg$`)

type indexedFrame struct {
	index int
	path  string
}

func sortedFrameFiles(framesDir string) ([]indexedFrame, error) {
	entries, err := os.ReadDir(framesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read frames dir: %w", err)
	}

	var frames []indexedFrame
	for _, entry := range entries {
		m := frameFileRE.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		frames = append(frames, indexedFrame{index: idx, path: filepath.Join(framesDir, entry.Name())})
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].index < frames[j].index })
	return frames, nil
}

// DetectSceneCuts compares adjacent sampled frames' downscaled H-S color
// histograms and emits a boundary, in seconds, at the later frame's
// timestamp whenever the Bhattacharyya distance exceeds threshold and at
// least minSceneLenSec·fps frames have elapsed since the last boundary.
// Deterministic and idempotent; returns a strictly increasing list.
func DetectSceneCuts(framesDir string, fps, threshold, minSceneLenSec float64) ([]float64, error) {
	frames, err := sortedFrameFiles(framesDir)
	if err != nil {
		return nil, err
	}
	if len(frames) < 2 {
		return nil, nil
	}

	minGapFrames := int(math.Ceil(minSceneLenSec * fps))
	if minGapFrames < 1 {
		minGapFrames = 1
	}

	prevHist, err := histogramForFile(frames[0].path)
	if err != nil {
		return nil, nil // unreadable first frame: no boundaries, matches original's defensive behavior
	}

	var boundaries []float64
	lastCutIdx := frames[0].index

	for _, f := range frames[1:] {
		hist, err := histogramForFile(f.path)
		if err != nil {
			continue
		}

		dist := bhattacharyyaDistance(prevHist, hist)
		if dist > threshold && (f.index-lastCutIdx) >= minGapFrames {
			t := float64(f.index) / fps
			boundaries = append(boundaries, roundTo(t, 3))
			lastCutIdx = f.index
		}
		prevHist = hist
	}
	return boundaries, nil
}

func histogramForFile(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := jpeg.Decode(f)
	if err != nil {
		return nil, err
	}
	return hsHistogram(img), nil
}

// hsHistogram downscales img to 160x90 and computes a normalized
// histBinsH x histBinsS histogram over hue and saturation.
func hsHistogram(img image.Image) []float64 {
	dst := image.NewRGBA(image.Rect(0, 0, downscaleW, downscaleH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	hist := make([]float64, histBinsH*histBinsS)
	for y := 0; y < downscaleH; y++ {
		for x := 0; x < downscaleW; x++ {
			r, g, b, _ := dst.At(x, y).RGBA()
			h, s := rgbToHS(uint8(r>>8), uint8(g>>8), uint8(b>>8))
			hBin := int(h / 360.0 * float64(histBinsH))
			if hBin >= histBinsH {
				hBin = histBinsH - 1
			}
			sBin := int(s * float64(histBinsS))
			if sBin >= histBinsS {
				sBin = histBinsS - 1
			}
			hist[hBin*histBinsS+sBin]++
		}
	}

	var sum float64
	for _, v := range hist {
		sum += v
	}
	if sum > 0 {
		for i := range hist {
			hist[i] /= sum
		}
	}
	return hist
}

// rgbToHS converts an RGB triple to hue in [0,360) and saturation in [0,1].
func rgbToHS(r, g, b uint8) (float64, float64) {
	rf, gf, bf := float64(r)/255, float64(g)/255, float64(b)/255
	max := math.Max(rf, math.Max(gf, bf))
	min := math.Min(rf, math.Min(gf, bf))
	delta := max - min

	var h float64
	switch {
	case delta == 0:
		h = 0
	case max == rf:
		h = 60 * math.Mod((gf-bf)/delta, 6)
	case max == gf:
		h = 60 * ((bf-rf)/delta + 2)
	default:
		h = 60 * ((rf-gf)/delta + 4)
	}
	if h < 0 {
		h += 360
	}

	var s float64
	if max > 0 {
		s = delta / max
	}
	return h, s
}

// bhattacharyyaDistance computes the Bhattacharyya distance between two
// normalized histograms of equal length: 0 means identical, higher means
// more different.
func bhattacharyyaDistance(a, b []float64) float64 {
	var bc float64
	for i := range a {
		bc += math.Sqrt(a[i] * b[i])
	}
	if bc >= 1 {
		return 0
	}
	if bc <= 0 {
		return 1
	}
	return math.Sqrt(1 - bc)
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
