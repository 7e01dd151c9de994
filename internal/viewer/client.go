// Package viewer implements the Viewer Client: it establishes the session
// with exponential back-off reconnect, bootstraps the Local Screen Buffer,
// reconstructs it from inbound frames, and emits scaled input events back
// to the host.
package viewer

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/desknet/tilecast/internal/imagecodec"
	"github.com/desknet/tilecast/internal/logging"
	"github.com/desknet/tilecast/internal/wire"
)

// State is the viewer's connection state (spec.md §4.6).
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the subset of *websocket.Conn the client needs. Tests substitute
// a fake; production uses a real dial.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// DialFunc establishes one session attempt.
type DialFunc func(ctx context.Context) (Conn, error)

// DefaultDialer builds a DialFunc against a real WebSocket endpoint.
func DefaultDialer(url string) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Config holds the client's reconnect and buffer parameters.
type Config struct {
	ReconnectInitDelay time.Duration
	ReconnectMaxDelay  time.Duration
	DefaultWidth       int
	DefaultHeight      int
}

// Client drives the Viewer Client state machine.
type Client struct {
	cfg          Config
	dial         DialFunc
	presentation Presentation

	mu    sync.Mutex
	state State
	buf   *ScreenBuffer
	conn  Conn
}

// NewClient builds a Client. presentation is never nil in practice but a
// nil value is treated as a silent sink.
func NewClient(cfg Config, dial DialFunc, presentation Presentation) *Client {
	if presentation == nil {
		presentation = NoopPresentation{}
	}
	return &Client{
		cfg:          cfg,
		dial:         dial,
		presentation: presentation,
		state:        StateIdle,
	}
}

// State reports the client's current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run drives the reconnect loop until ctx is cancelled, at which point the
// state becomes Closed and Run returns nil. This is the terminal
// transition; a Client is not reused after Run returns.
func (c *Client) Run(ctx context.Context) error {
	delay := c.cfg.ReconnectInitDelay
	if delay <= 0 {
		delay = time.Second
	}
	maxDelay := c.cfg.ReconnectMaxDelay
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}
	initDelay := delay

	for {
		if ctx.Err() != nil {
			c.setState(StateClosed)
			return nil
		}

		c.setState(StateConnecting)

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.setState(StateClosed)
				return nil
			}
			logging.TransportClosed("viewer: connect failed: %v", err)
			if !sleepCtx(ctx, delay) {
				c.setState(StateClosed)
				return nil
			}
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
			continue
		}

		delay = initDelay
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setState(StateConnected)

		if err := c.sendRedrawRequest(); err != nil {
			logging.TransportClosed("viewer: initial redraw request failed: %v", err)
		}

		c.receiveLoop(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		if ctx.Err() != nil {
			c.setState(StateClosed)
			return nil
		}
		// Transport closed remotely: return to Connecting and retry
		// immediately at the initial delay.
	}
}

// receiveLoop reads binary frames until the transport closes or ctx ends.
func (c *Client) receiveLoop(ctx context.Context, conn Conn) {
	for {
		if ctx.Err() != nil {
			_ = conn.Close()
			return
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			logging.TransportClosed("viewer: read error: %v", err)
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		frame, err := wire.Unpack(data)
		if err != nil {
			logging.ProtocolError("viewer: protocol error: %v", err)
			continue
		}
		c.handleFrame(frame)
	}
}

// handleFrame applies one decoded frame to the screen buffer and notifies
// the presentation collaborator. Every frame carries the host's capture
// timestamp, so every frame also reports the round-trip latency between
// capture and receipt.
func (c *Client) handleFrame(f *wire.Frame) {
	defer c.presentation.ObserveLatency(time.Since(f.CapturedAt))

	if f.IsKeyframe {
		img, err := imagecodec.DecodeJPEG(f.Image)
		if err != nil {
			logging.CodecError("viewer: keyframe decode failed: %v", err)
			return
		}

		c.mu.Lock()
		if c.buf == nil {
			c.buf = NewScreenBuffer(img.Bounds().Dx(), img.Bounds().Dy())
		}
		buf := c.buf
		c.mu.Unlock()

		buf.Replace(img)
		c.presentation.Present(buf.Snapshot(), nil)
		return
	}

	c.mu.Lock()
	if c.buf == nil {
		c.buf = NewScreenBuffer(c.cfg.DefaultWidth, c.cfg.DefaultHeight)
	}
	buf := c.buf
	c.mu.Unlock()

	if len(f.Tiles) == 0 {
		c.presentation.Present(buf.Snapshot(), []image.Rectangle{})
		return
	}

	regions := make([]image.Rectangle, 0, len(f.Tiles))
	for _, t := range f.Tiles {
		img, err := imagecodec.DecodeWebP(t.Data)
		if err != nil {
			logging.CodecError("viewer: tile decode failed: %v", err)
			continue
		}
		at := image.Pt(int(t.PX), int(t.PY))
		buf.Paste(img, at)
		regions = append(regions, image.Rectangle{Min: at, Max: at.Add(image.Pt(int(t.TileW), int(t.TileH)))})
	}
	c.presentation.Present(buf.Snapshot(), regions)
}

// outbound envelope shapes, matching §6.3 exactly.

type commandEnvelope struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

type inputEnvelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type mouseMovePayload struct {
	Action string `json:"action"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
}

type mouseClickPayload struct {
	Action string `json:"action"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
}

type keyPressPayload struct {
	Action string `json:"action"`
	Key    string `json:"key"`
}

// SendRedraw emits the local-signal redraw command used to force a fresh
// keyframe, bypassing the normal key_press path (spec.md §4.6).
func (c *Client) SendRedraw() error {
	return c.sendRedrawRequest()
}

func (c *Client) sendRedrawRequest() error {
	return c.sendJSON(commandEnvelope{Type: "command", Command: "redraw_full_frame"})
}

// SendMouseMove scales (surfaceX, surfaceY) from the presentation surface's
// dimensions to the current screen buffer's dimensions and emits a
// mouse_move input message.
func (c *Client) SendMouseMove(surfaceX, surfaceY, surfaceW, surfaceH int) error {
	x, y := c.scale(surfaceX, surfaceY, surfaceW, surfaceH)
	return c.sendJSON(inputEnvelope{Type: "input", Payload: mouseMovePayload{Action: "mouse_move", X: x, Y: y}})
}

// SendMouseClick scales and emits a mouse_click input message.
func (c *Client) SendMouseClick(surfaceX, surfaceY, surfaceW, surfaceH int) error {
	x, y := c.scale(surfaceX, surfaceY, surfaceW, surfaceH)
	return c.sendJSON(inputEnvelope{Type: "input", Payload: mouseClickPayload{Action: "mouse_click", X: x, Y: y}})
}

// SendKeyPress emits a key_press input message. Key names are not scaled.
func (c *Client) SendKeyPress(key string) error {
	return c.sendJSON(inputEnvelope{Type: "input", Payload: keyPressPayload{Action: "key_press", Key: key}})
}

func (c *Client) scale(x, y, surfaceW, surfaceH int) (int, int) {
	if surfaceW <= 0 || surfaceH <= 0 {
		return x, y
	}

	c.mu.Lock()
	buf := c.buf
	c.mu.Unlock()
	if buf == nil {
		return x, y
	}

	b := buf.Bounds()
	return x * b.Dx() / surfaceW, y * b.Dy() / surfaceH
}

func (c *Client) sendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("viewer: marshal message: %w", err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("viewer: not connected")
	}

	return conn.WriteMessage(websocket.TextMessage, data)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
