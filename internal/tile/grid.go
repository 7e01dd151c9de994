// Package tile partitions a captured screen image into a regular grid of
// fixed-size cells and fingerprints each cell's pixel bytes so the
// capture-broadcast engine can tell which cells changed between frames.
package tile

import "image"

// Coord indexes a cell of the grid, (tx, ty), in grid units (not pixels).
type Coord struct {
	TX, TY int
}

// Rect describes one tile's bounds: the pixel rectangle it covers plus
// its grid coordinate. Edge tiles are narrower/shorter than Size when the
// screen dimensions are not a multiple of it.
type Rect struct {
	Coord
	image.Rectangle
}

// Grid describes the tiling of a W×H image at a nominal cell size.
type Grid struct {
	Width, Height int
	Size          int
	Cols, Rows    int
}

// NewGrid computes the column/row count for a W×H image tiled at the given
// nominal size. size must be positive.
func NewGrid(width, height, size int) Grid {
	return Grid{
		Width:  width,
		Height: height,
		Size:   size,
		Cols:   (width + size - 1) / size,
		Rows:   (height + size - 1) / size,
	}
}

// Count returns the total number of tiles in the grid.
func (g Grid) Count() int {
	return g.Cols * g.Rows
}

// Tiles yields every tile rectangle in row-major order, top-left first.
// The iterator is deterministic and total: calling it twice on the same
// Grid always yields the same sequence.
func (g Grid) Tiles() []Rect {
	rects := make([]Rect, 0, g.Count())
	for ty := 0; ty < g.Rows; ty++ {
		y0 := ty * g.Size
		y1 := min(y0+g.Size, g.Height)
		for tx := 0; tx < g.Cols; tx++ {
			x0 := tx * g.Size
			x1 := min(x0+g.Size, g.Width)
			rects = append(rects, Rect{
				Coord:     Coord{TX: tx, TY: ty},
				Rectangle: image.Rect(x0, y0, x1, y1),
			})
		}
	}
	return rects
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
