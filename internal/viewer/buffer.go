package viewer

import (
	"image"
	"image/color"
	"image/draw"
	"sync"
)

// ScreenBuffer is the viewer's local reconstruction of the host's monitor
// image (spec.md §3, "Screen buffer"). It is safe for concurrent patching
// and reading: the client's receive loop patches it, while a separate
// presentation goroutine may read a snapshot at any time.
type ScreenBuffer struct {
	mu  sync.RWMutex
	img *image.RGBA
}

// NewScreenBuffer creates a black buffer of the given dimensions. This is
// the provisional buffer created when a delta arrives before any keyframe.
func NewScreenBuffer(width, height int) *ScreenBuffer {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
	return &ScreenBuffer{img: img}
}

// Replace swaps the buffer wholesale with a freshly decoded keyframe image.
// This is always a full-image change.
func (b *ScreenBuffer) Replace(src image.Image) {
	bounds := src.Bounds()
	next := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(next, next.Bounds(), src, bounds.Min, draw.Src)

	b.mu.Lock()
	b.img = next
	b.mu.Unlock()
}

// Paste draws src into the buffer with its top-left corner at at. Later
// pastes at overlapping coordinates overwrite earlier ones.
func (b *ScreenBuffer) Paste(src image.Image, at image.Point) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.img == nil {
		return
	}
	dstRect := image.Rectangle{Min: at, Max: at.Add(src.Bounds().Size())}
	draw.Draw(b.img, dstRect, src, src.Bounds().Min, draw.Src)
}

// Snapshot returns the current buffer contents. The returned image must be
// treated as read-only by the caller; mutate only through Replace/Paste.
func (b *ScreenBuffer) Snapshot() *image.RGBA {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.img
}

// Bounds reports the buffer's current dimensions.
func (b *ScreenBuffer) Bounds() image.Rectangle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.img == nil {
		return image.Rectangle{}
	}
	return b.img.Bounds()
}
