package boundary

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeSolidFrame(t *testing.T, dir string, idx int, col color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, col)
		}
	}
	path := filepath.Join(dir, frameName(idx))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, img, &jpeg.Options{Quality: 95}))
}

func frameName(idx int) string {
	return fmt.Sprintf("frame_%09d.jpg", idx)
}

func TestDetectSceneCuts_FlagsLargeColorShift(t *testing.T) {
	dir := t.TempDir()
	writeSolidFrame(t, dir, 0, color.RGBA{R: 255, G: 0, B: 0, A: 255})
	writeSolidFrame(t, dir, 1, color.RGBA{R: 255, G: 10, B: 0, A: 255})
	writeSolidFrame(t, dir, 2, color.RGBA{R: 0, G: 0, B: 255, A: 255})

	boundaries, err := DetectSceneCuts(dir, 1.0, 0.3, 0.0)
	require.NoError(t, err)
	require.NotEmpty(t, boundaries)
	require.Equal(t, 2.0, boundaries[len(boundaries)-1])
}

func TestDetectSceneCuts_FewerThanTwoFramesReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	writeSolidFrame(t, dir, 0, color.RGBA{R: 1, G: 2, B: 3, A: 255})

	boundaries, err := DetectSceneCuts(dir, 1.0, 0.5, 1.0)
	require.NoError(t, err)
	require.Empty(t, boundaries)
}

func TestDetectSceneCuts_MissingDirReturnsEmpty(t *testing.T) {
	boundaries, err := DetectSceneCuts(filepath.Join(t.TempDir(), "missing"), 1.0, 0.5, 1.0)
	require.NoError(t, err)
	require.Empty(t, boundaries)
}
