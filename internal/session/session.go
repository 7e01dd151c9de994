// Package session implements the host-side Session Manager: it accepts
// inbound viewer connections, keeps a live set tagged by session id,
// dispatches inbound JSON control/input messages, and exposes a bounded
// broadcast/targeted-send capability to the capture-broadcast engine.
package session

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/desknet/tilecast/internal/logging"
	"github.com/desknet/tilecast/internal/wire"
)

const (
	webSocketReadBufferSize  = 8192
	webSocketWriteBufferSize = 8192 * 2

	// outboundQueueSize bounds how many pending binary frames a viewer can
	// have queued before the drop-oldest-never-drop-keyframe policy kicks
	// in (spec.md §4.4 extension: this is a SPEC_FULL addition, not core
	// protocol state).
	outboundQueueSize = 8
)

// inboundMessage is the envelope for both control and input text frames.
type inboundMessage struct {
	Type    string          `json:"type"`
	Command string          `json:"command,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InputHandler receives the raw payload of an {"type":"input",...} message.
// It is implemented by the Input Translator; the Session Manager never
// interprets the payload itself.
type InputHandler interface {
	HandleInput(payload json.RawMessage)
}

// RedrawRequester is the capture side of a redraw_full_frame command.
type RedrawRequester interface {
	RequestRedraw(sessionID string)
}

// viewer holds one live connection plus its bounded outbound queue.
type viewer struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex // unused: queueMu guards the queue and writeLoop is the only conn writer

	queueMu sync.Mutex
	queue   []queuedFrame
	notify  chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

type queuedFrame struct {
	data       []byte
	isKeyframe bool
}

// Manager is the Session Manager. It owns the live-viewer set.
type Manager struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	viewers map[string]*viewer

	input  InputHandler
	redraw RedrawRequester
}

// NewManager builds a Session Manager. allowedOrigins is matched the way
// the upgrader's CheckOrigin expects: an empty list permits only
// localhost-style origins (development mode).
func NewManager(allowedOrigins []string, input InputHandler, redraw RedrawRequester) *Manager {
	m := &Manager{
		viewers: make(map[string]*viewer),
		input:   input,
		redraw:  redraw,
	}
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:  webSocketReadBufferSize,
		WriteBufferSize: webSocketWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return isAllowedOrigin(r.Header.Get("Origin"), allowedOrigins)
		},
	}
	return m
}

// Accept upgrades an inbound HTTP request to a WebSocket session, adds it
// to the live set under a fresh uuid, and spawns its writer and receive
// handler. The receive handler runs on the calling goroutine, so Accept
// returns only once the transport closes and the session is removed.
func (m *Manager) Accept(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("session: upgrade failed: %v", err)
		return
	}

	v := &viewer{
		id:     uuid.New().String(),
		conn:   conn,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.viewers[v.id] = v
	m.mu.Unlock()

	logging.Info("session: %s connected", v.id)

	go m.writeLoop(v)
	m.readLoop(v)
}

// readLoop interprets every inbound message as UTF-8 JSON per §6.3.
// Malformed JSON and unknown types are logged and ignored; the session
// remains live. A transport close removes the session from the set.
func (m *Manager) readLoop(v *viewer) {
	defer m.remove(v)

	for {
		msgType, data, err := v.conn.ReadMessage()
		if err != nil {
			if !strings.HasSuffix(err.Error(), "use of closed network connection") {
				logging.TransportClosed("session: %s read error: %v", v.id, err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.ProtocolError("session: %s malformed control message: %v", v.id, err)
			continue
		}

		switch msg.Type {
		case "input":
			if m.input != nil {
				m.input.HandleInput(msg.Payload)
			}
		case "command":
			if msg.Command == "redraw_full_frame" && m.redraw != nil {
				m.redraw.RequestRedraw(v.id)
			} else {
				logging.Warn("session: %s unknown command %q", v.id, msg.Command)
			}
		default:
			logging.Warn("session: %s unknown message type %q", v.id, msg.Type)
		}
	}
}

// writeLoop drains v's outbound queue and writes frames to the transport
// in arrival order. It exits once the viewer is removed from the set.
func (m *Manager) writeLoop(v *viewer) {
	for {
		frame, ok := v.popFrame()
		if !ok {
			select {
			case <-v.notify:
				continue
			case <-v.done:
				return
			}
		}

		if err := v.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			logging.TransportClosed("session: %s write failed: %v", v.id, err)
			m.remove(v)
			return
		}
	}
}

func (m *Manager) remove(v *viewer) {
	m.mu.Lock()
	_, ok := m.viewers[v.id]
	delete(m.viewers, v.id)
	m.mu.Unlock()

	if !ok {
		return
	}

	v.closeOnce.Do(func() {
		close(v.done)
		if err := v.conn.Close(); err != nil {
			logging.Debug("session: %s close error: %v", v.id, err)
		}
	})
	logging.Info("session: %s disconnected", v.id)
}

// Broadcast fans frame out to every live viewer's outbound queue. It never
// blocks on a slow viewer: enqueue is O(1) and applies the drop-oldest
// policy locally.
func (m *Manager) Broadcast(frame []byte) {
	m.mu.Lock()
	targets := make([]*viewer, 0, len(m.viewers))
	for _, v := range m.viewers {
		targets = append(targets, v)
	}
	m.mu.Unlock()

	for _, v := range targets {
		v.pushFrame(frame)
	}
}

// SendTo delivers frame to one viewer by id. It reports whether the viewer
// was still live.
func (m *Manager) SendTo(sessionID string, frame []byte) bool {
	m.mu.Lock()
	v, ok := m.viewers[sessionID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	v.pushFrame(frame)
	return true
}

// pushFrame enqueues frame. A new keyframe makes every earlier queued
// entry moot — later deltas were computed against the state the new
// keyframe now replaces — so it collapses the queue down to itself rather
// than taking up a second slot. A new delta, when the queue is full,
// evicts the oldest queued delta; if the queue is full of nothing but
// keyframes (no delta victim available), the incoming delta is dropped
// instead, so a queued keyframe is never evicted.
func (v *viewer) pushFrame(frame []byte) {
	item := queuedFrame{data: frame, isKeyframe: len(frame) > 0 && frame[0] == wire.TypeKeyframe}

	v.queueMu.Lock()
	if item.isKeyframe {
		v.queue = v.queue[:0]
		v.queue = append(v.queue, item)
	} else if len(v.queue) >= outboundQueueSize {
		evict := -1
		for i, q := range v.queue {
			if !q.isKeyframe {
				evict = i
				break
			}
		}
		if evict < 0 {
			v.queueMu.Unlock()
			return
		}
		v.queue = append(v.queue[:evict], v.queue[evict+1:]...)
		v.queue = append(v.queue, item)
	} else {
		v.queue = append(v.queue, item)
	}
	v.queueMu.Unlock()

	select {
	case v.notify <- struct{}{}:
	default:
	}
}

func (v *viewer) popFrame() ([]byte, bool) {
	v.queueMu.Lock()
	defer v.queueMu.Unlock()
	if len(v.queue) == 0 {
		return nil, false
	}
	item := v.queue[0]
	v.queue = v.queue[1:]
	return item.data, true
}

func isAllowedOrigin(origin string, allowed []string) bool {
	if origin == "" {
		return false
	}

	normalized := strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://")
	normalized = strings.TrimSuffix(normalized, "/")

	if strings.HasPrefix(normalized, "localhost") || strings.HasPrefix(normalized, "127.0.0.1") {
		return true
	}

	for _, candidate := range allowed {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if candidate == origin || candidate == normalized {
			return true
		}
		if strings.TrimPrefix(candidate, "http://") == normalized || strings.TrimPrefix(candidate, "https://") == normalized {
			return true
		}
	}

	return false
}
