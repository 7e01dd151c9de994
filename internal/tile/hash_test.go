package tile

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestExtractRGBDropsAlpha(t *testing.T) {
	img := solidImage(4, 4, color.RGBA{R: 10, G: 20, B: 30, A: 128})
	rect := image.Rect(1, 1, 3, 3)

	out := ExtractRGB(img, rect)
	assert.Len(t, out, 2*2*3)
	for i := 0; i < len(out); i += 3 {
		assert.Equal(t, []byte{10, 20, 30}, out[i:i+3])
	}
}

func TestFingerprintDependsOnlyOnBytes(t *testing.T) {
	a := []byte{1, 2, 3, 4, 5, 6}
	b := []byte{1, 2, 3, 4, 5, 6}
	c := []byte{1, 2, 3, 4, 5, 7}

	assert.Equal(t, FingerprintBytes(a), FingerprintBytes(b))
	assert.NotEqual(t, FingerprintBytes(a), FingerprintBytes(c))
}

func TestChangedTreatsAbsenceAsDifferent(t *testing.T) {
	prev := HashMap{}
	fp := FingerprintBytes([]byte{1, 2, 3})

	assert.True(t, Changed(prev, Coord{0, 0}, fp))

	prev[Coord{0, 0}] = fp
	assert.False(t, Changed(prev, Coord{0, 0}, fp))

	other := FingerprintBytes([]byte{9, 9, 9})
	assert.True(t, Changed(prev, Coord{0, 0}, other))
}
