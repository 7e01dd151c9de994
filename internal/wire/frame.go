// Package wire is the sole authority over the binary frame format carried
// from host to viewer: keyframe records and delta-tile records. It performs
// no image decoding — only framing and the two entry points of
// pack/unpack.
package wire

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Frame type tags, fixed by the protocol.
const (
	TypeDelta    byte = 0x00
	TypeKeyframe byte = 0x01
)

const (
	headerLen     = 1 + 4 + 8          // type + frame_id + captured_at (unix nanos)
	deltaCountLen = 2                  // n_tiles
	tileHeaderLen = 2 + 2 + 2 + 2 + 4  // px, py, tile_w, tile_h, data_len
)

// ProtocolError signals a malformed binary frame: too short, an unknown
// type tag, or a per-tile header/payload shorter than its declared length.
// It is terminal only for the offending message; the session continues.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("wire: protocol error: %s", e.Reason)
}

// TileEntry is one changed tile in a delta record. PX/PY are the pixel
// offset of the tile's top-left corner on the host screen (see
// SPEC_FULL.md §5.1 — the wire carries pixel coordinates, not grid
// indices, so the viewer's paste offset never depends on its own tile
// size). Data is the WebP-compressed tile payload.
type TileEntry struct {
	PX, PY         uint16
	TileW, TileH   uint16
	Data           []byte
}

// PackKeyframe emits a self-contained keyframe record: a frame id, the
// host-side capture timestamp, and a compressed full-image byte string
// (JPEG, by protocol decision). capturedAt lets the viewer compute
// round-trip latency on arrival without a separate handshake.
func PackKeyframe(frameID uint32, capturedAt time.Time, image []byte) []byte {
	out := make([]byte, headerLen+len(image))
	out[0] = TypeKeyframe
	binary.BigEndian.PutUint32(out[1:5], frameID)
	binary.BigEndian.PutUint64(out[5:13], uint64(capturedAt.UnixNano()))
	copy(out[headerLen:], image)
	return out
}

// PackDelta emits an incremental record carrying only the changed tiles,
// in the given order (row-major, per the engine's iteration order).
// capturedAt carries the same latency-measurement timestamp as PackKeyframe.
func PackDelta(frameID uint32, capturedAt time.Time, tiles []TileEntry) []byte {
	size := headerLen + deltaCountLen
	for _, t := range tiles {
		size += tileHeaderLen + len(t.Data)
	}

	out := make([]byte, size)
	out[0] = TypeDelta
	binary.BigEndian.PutUint32(out[1:5], frameID)
	binary.BigEndian.PutUint64(out[5:13], uint64(capturedAt.UnixNano()))
	binary.BigEndian.PutUint16(out[13:15], uint16(len(tiles)))

	off := headerLen + deltaCountLen
	for _, t := range tiles {
		binary.BigEndian.PutUint16(out[off:off+2], t.PX)
		binary.BigEndian.PutUint16(out[off+2:off+4], t.PY)
		binary.BigEndian.PutUint16(out[off+4:off+6], t.TileW)
		binary.BigEndian.PutUint16(out[off+6:off+8], t.TileH)
		binary.BigEndian.PutUint32(out[off+8:off+12], uint32(len(t.Data)))
		off += tileHeaderLen
		copy(out[off:off+len(t.Data)], t.Data)
		off += len(t.Data)
	}
	return out
}

// Frame is the result of Unpack: exactly one of Image or Tiles is set,
// selected by IsKeyframe. CapturedAt is the host's capture timestamp,
// carried on every frame so a viewer can report round-trip latency.
type Frame struct {
	FrameID    uint32
	CapturedAt time.Time
	IsKeyframe bool
	Image      []byte
	Tiles      []TileEntry
}

// Unpack parses a received byte sequence into a keyframe or a delta
// record. Too-short payloads, an unknown leading type byte, and
// truncated per-tile headers/payloads all return *ProtocolError.
func Unpack(data []byte) (*Frame, error) {
	if len(data) < headerLen {
		return nil, &ProtocolError{Reason: "message shorter than frame header"}
	}

	typ := data[0]
	frameID := binary.BigEndian.Uint32(data[1:5])
	capturedAt := time.Unix(0, int64(binary.BigEndian.Uint64(data[5:13])))
	body := data[headerLen:]

	switch typ {
	case TypeKeyframe:
		img := make([]byte, len(body))
		copy(img, body)
		return &Frame{FrameID: frameID, CapturedAt: capturedAt, IsKeyframe: true, Image: img}, nil

	case TypeDelta:
		return unpackDelta(frameID, capturedAt, body)

	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unknown frame type tag 0x%02x", typ)}
	}
}

func unpackDelta(frameID uint32, capturedAt time.Time, body []byte) (*Frame, error) {
	if len(body) < deltaCountLen {
		return nil, &ProtocolError{Reason: "delta record missing tile count"}
	}
	n := binary.BigEndian.Uint16(body[0:2])
	off := deltaCountLen

	tiles := make([]TileEntry, 0, n)
	for i := uint16(0); i < n; i++ {
		if len(body)-off < tileHeaderLen {
			return nil, &ProtocolError{Reason: "tile header shorter than declared length"}
		}
		px := binary.BigEndian.Uint16(body[off : off+2])
		py := binary.BigEndian.Uint16(body[off+2 : off+4])
		tw := binary.BigEndian.Uint16(body[off+4 : off+6])
		th := binary.BigEndian.Uint16(body[off+6 : off+8])
		dataLen := binary.BigEndian.Uint32(body[off+8 : off+12])
		off += tileHeaderLen

		if uint32(len(body)-off) < dataLen {
			return nil, &ProtocolError{Reason: "tile payload shorter than declared length"}
		}
		payload := make([]byte, dataLen)
		copy(payload, body[off:off+int(dataLen)])
		off += int(dataLen)

		tiles = append(tiles, TileEntry{PX: px, PY: py, TileW: tw, TileH: th, Data: payload})
	}

	return &Frame{FrameID: frameID, CapturedAt: capturedAt, IsKeyframe: false, Tiles: tiles}, nil
}
