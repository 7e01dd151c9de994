package tile

import (
	"crypto/sha1" //nolint:gosec // fingerprint is never authenticated, only compared for equality
	"image"
)

// Fingerprint is a 20-byte digest of a tile's raw pixel bytes. SHA-1 is
// collision-resistant enough for change detection; it is never used as a
// security primitive.
type Fingerprint [sha1.Size]byte

// HashMap maps a tile's grid coordinate to its fingerprint for one frame.
// It is owned by exactly one goroutine (the capture-broadcast engine) and
// replaced wholesale each frame; it is never mutated concurrently with a
// reader.
type HashMap map[Coord]Fingerprint

// ExtractRGB copies the raw 24-bit RGB bytes (row-major, no alpha, no
// padding) of rect out of img. The source image must be *image.RGBA, which
// is what screen-capture backends hand back; the alpha channel is dropped
// because the wire tile format carries no alpha.
func ExtractRGB(img *image.RGBA, rect image.Rectangle) []byte {
	w := rect.Dx()
	h := rect.Dy()
	out := make([]byte, w*h*3)
	o := 0
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		rowStart := img.PixOffset(rect.Min.X, y)
		row := img.Pix[rowStart : rowStart+w*4]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+4]
			out[o] = px[0]
			out[o+1] = px[1]
			out[o+2] = px[2]
			o += 3
		}
	}
	return out
}

// FingerprintBytes hashes raw pixel bytes exactly as extracted from the
// source image. It depends only on the bytes given, never on surrounding
// context (position, neighboring tiles, frame id).
func FingerprintBytes(data []byte) Fingerprint {
	return sha1.Sum(data) //nolint:gosec
}

// Changed reports whether coord's fingerprint in prev differs from next,
// treating absence in prev as "different" per the engine's change rule.
func Changed(prev HashMap, coord Coord, next Fingerprint) bool {
	old, ok := prev[coord]
	return !ok || old != next
}
