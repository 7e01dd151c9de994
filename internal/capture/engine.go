// Package capture drives the host-side capture cadence: it grabs the
// configured monitor on a fixed tick, diffs it against the previous frame
// tile by tile, decides whether to emit a keyframe or a delta, and hands
// the packed wire bytes to a broadcaster. It also services per-viewer
// redraw requests independently of the regular loop.
package capture

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/kbinani/screenshot"

	"github.com/desknet/tilecast/internal/imagecodec"
	"github.com/desknet/tilecast/internal/logging"
	"github.com/desknet/tilecast/internal/tile"
	"github.com/desknet/tilecast/internal/wire"
)

// Broadcaster is the capability the Session Manager exposes to the engine:
// fan a packed frame out to every live session, or deliver one to a single
// session by id. Both are best-effort; neither blocks on a slow session.
type Broadcaster interface {
	Broadcast(frame []byte)
	SendTo(sessionID string, frame []byte) bool
}

// Config holds the immutable, per-host capture parameters.
type Config struct {
	MonitorID         int
	TileSize          int
	FallbackThreshold float64
	JPEGQuality       int
	WebPQuality       int
}

type redrawRequest struct {
	sessionID string
}

// Engine owns the previous-hash map and the monitor capture handle. It is
// driven by a single goroutine (Run); RequestRedraw is the only method safe
// to call from other goroutines.
type Engine struct {
	cfg    Config
	bounds image.Rectangle
	grid   tile.Grid
	bcast  Broadcaster

	frameID uint32
	prev    tile.HashMap

	redraws chan redrawRequest

	// grab captures the configured monitor; it is screenshot.CaptureRect in
	// production and a synthetic source in tests, which have no display.
	grab func(image.Rectangle) (*image.RGBA, error)
}

// New builds an Engine for the given monitor. It queries the monitor's
// bounds immediately so a bad monitor id is a startup failure, not a
// first-tick one.
func New(cfg Config, bcast Broadcaster) (*Engine, error) {
	n := screenshot.NumActiveDisplays()
	if cfg.MonitorID < 0 || cfg.MonitorID >= n {
		return nil, fmt.Errorf("capture: monitor id %d out of range (0-%d)", cfg.MonitorID, n-1)
	}

	bounds := screenshot.GetDisplayBounds(cfg.MonitorID)
	grid := tile.NewGrid(bounds.Dx(), bounds.Dy(), cfg.TileSize)

	return &Engine{
		cfg:     cfg,
		bounds:  bounds,
		grid:    grid,
		bcast:   bcast,
		prev:    tile.HashMap{},
		redraws: make(chan redrawRequest, 16),
		grab:    screenshot.CaptureRect,
	}, nil
}

// RequestRedraw asks the engine to capture a fresh frame and send it, as a
// keyframe, to sessionID only. It never blocks the capture loop: if the
// request queue is full the oldest pending request is dropped and logged.
func (e *Engine) RequestRedraw(sessionID string) {
	req := redrawRequest{sessionID: sessionID}
	select {
	case e.redraws <- req:
	default:
		select {
		case <-e.redraws:
			logging.Warn("capture: redraw queue full, dropping oldest pending request")
		default:
		}
		select {
		case e.redraws <- req:
		default:
			logging.Warn("capture: could not enqueue redraw request for %s", sessionID)
		}
	}
}

// RunWithInterval drives the capture loop on a fixed tick until ctx is
// cancelled. It is the production entry point; Run takes an injected tick
// channel so tests can step the loop deterministically.
func (e *Engine) RunWithInterval(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick := make(chan struct{})
	go func() {
		for {
			select {
			case <-ctx.Done():
				close(tick)
				return
			case <-ticker.C:
				select {
				case tick <- struct{}{}:
				case <-ctx.Done():
					close(tick)
					return
				}
			}
		}
	}()

	return e.Run(ctx, tick)
}

// Run drives the capture loop until ctx is cancelled or tick is closed. It
// owns the previous-hash map for the whole lifetime of the call.
func (e *Engine) Run(ctx context.Context, tick <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-e.redraws:
			e.serveRedraw(req.sessionID)
		case _, ok := <-tick:
			if !ok {
				return nil
			}
			e.captureAndBroadcast()
		}
	}
}

// captureAndBroadcast runs one regular-loop iteration: grab, diff, decide,
// pack, broadcast, replace the previous-hash map. Capture or compression
// failures are logged and swallowed; the previous-hash map is left intact
// so the next successful capture still compares meaningfully.
func (e *Engine) captureAndBroadcast() {
	img, err := e.grab(e.bounds)
	if err != nil {
		logging.CaptureError("capture: grab failed: %v", err)
		return
	}

	e.frameID++

	tiles := e.grid.Tiles()
	next := make(tile.HashMap, len(tiles))
	changed := make([]tile.Rect, 0, len(tiles))
	offset := img.Bounds().Min

	for _, t := range tiles {
		data := tile.ExtractRGB(img, t.Rectangle.Add(offset))
		fp := tile.FingerprintBytes(data)
		if tile.Changed(e.prev, t.Coord, fp) {
			changed = append(changed, t)
		}
		next[t.Coord] = fp
	}

	var (
		frame []byte
		perr  error
	)

	ratio := 0.0
	if len(tiles) > 0 {
		ratio = float64(len(changed)) / float64(len(tiles))
	}

	capturedAt := time.Now()
	if ratio > e.cfg.FallbackThreshold {
		frame, perr = e.packKeyframe(img, capturedAt)
	} else {
		frame, perr = e.packDelta(img, offset, changed, capturedAt)
	}

	if perr != nil {
		logging.CodecError("capture: encode failed: %v", perr)
		return
	}

	e.prev = next
	e.bcast.Broadcast(frame)
}

// serveRedraw captures independently of the regular loop and sends a
// keyframe to one session only. It does not touch the previous-hash map:
// a redraw is additive, not a state mutation visible to other viewers.
func (e *Engine) serveRedraw(sessionID string) {
	img, err := e.grab(e.bounds)
	if err != nil {
		logging.CaptureError("capture: redraw grab failed: %v", err)
		return
	}

	frame, err := e.packKeyframe(img, time.Now())
	if err != nil {
		logging.CodecError("capture: redraw encode failed: %v", err)
		return
	}

	if !e.bcast.SendTo(sessionID, frame) {
		logging.Warn("capture: redraw target %s no longer live", sessionID)
	}
}

func (e *Engine) packKeyframe(img image.Image, capturedAt time.Time) ([]byte, error) {
	jpegBytes, err := imagecodec.EncodeJPEG(img, e.cfg.JPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("capture: jpeg encode: %w", err)
	}
	return wire.PackKeyframe(e.frameID, capturedAt, jpegBytes), nil
}

func (e *Engine) packDelta(img *image.RGBA, offset image.Point, changed []tile.Rect, capturedAt time.Time) ([]byte, error) {
	entries := make([]wire.TileEntry, 0, len(changed))
	for _, t := range changed {
		sub := img.SubImage(t.Rectangle.Add(offset))
		data, err := imagecodec.EncodeWebP(sub, e.cfg.WebPQuality)
		if err != nil {
			return nil, fmt.Errorf("capture: webp encode tile (%d,%d): %w", t.TX, t.TY, err)
		}
		entries = append(entries, wire.TileEntry{
			PX:    uint16(t.Rectangle.Min.X),
			PY:    uint16(t.Rectangle.Min.Y),
			TileW: uint16(t.Rectangle.Dx()),
			TileH: uint16(t.Rectangle.Dy()),
			Data:  data,
		})
	}
	return wire.PackDelta(e.frameID, capturedAt, entries), nil
}
