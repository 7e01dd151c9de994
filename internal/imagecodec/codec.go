// Package imagecodec wraps the two image codecs the wire protocol fixes
// by convention (spec.md §4.2, §9): JPEG for keyframes, WebP for delta
// tiles. The frame codec itself carries no format tag — both endpoints
// must already agree, so this package is the single place that decision
// is encoded.
package imagecodec

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/deepteams/webp"
)

// EncodeJPEG compresses img as a JPEG at the given quality (1-100). This
// is the fixed keyframe format.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("imagecodec: jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeJPEG decodes a keyframe image.
func DecodeJPEG(data []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imagecodec: jpeg decode: %w", err)
	}
	return img, nil
}

// EncodeWebP compresses img as a lossy WebP at the given quality (1-100).
// This is the fixed delta-tile format.
func EncodeWebP(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	opts := &webp.Options{Quality: float32(quality)}
	if err := webp.Encode(&buf, img, opts); err != nil {
		return nil, fmt.Errorf("imagecodec: webp encode: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeWebP decodes a delta-tile image.
func DecodeWebP(data []byte) (image.Image, error) {
	img, err := webp.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imagecodec: webp decode: %w", err)
	}
	return img, nil
}
