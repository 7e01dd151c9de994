package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desknet/tilecast/internal/wire"
)

type recordingInput struct {
	mu       sync.Mutex
	payloads []json.RawMessage
}

func (r *recordingInput) HandleInput(payload json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
}

func (r *recordingInput) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

type recordingRedraw struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingRedraw) RequestRedraw(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, sessionID)
}

func (r *recordingRedraw) requested() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

func dialTestServer(t *testing.T, m *Manager) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(m.Accept))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func TestManagerDispatchesInputMessage(t *testing.T) {
	input := &recordingInput{}
	redraw := &recordingRedraw{}
	m := NewManager(nil, input, redraw)

	conn, cleanup := dialTestServer(t, m)
	defer cleanup()

	msg := `{"type":"input","payload":{"action":"mouse_move","x":1,"y":2}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))

	require.Eventually(t, func() bool { return input.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestManagerDispatchesRedrawCommand(t *testing.T) {
	input := &recordingInput{}
	redraw := &recordingRedraw{}
	m := NewManager(nil, input, redraw)

	conn, cleanup := dialTestServer(t, m)
	defer cleanup()

	msg := `{"type":"command","command":"redraw_full_frame"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))

	require.Eventually(t, func() bool { return len(redraw.requested()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestManagerIgnoresMalformedJSON(t *testing.T) {
	input := &recordingInput{}
	redraw := &recordingRedraw{}
	m := NewManager(nil, input, redraw)

	conn, cleanup := dialTestServer(t, m)
	defer cleanup()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	// Session must remain live: a well-formed message afterwards still works.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"command","command":"redraw_full_frame"}`)))

	require.Eventually(t, func() bool { return len(redraw.requested()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestManagerBroadcastReachesConnectedViewer(t *testing.T) {
	m := NewManager(nil, nil, nil)

	conn, cleanup := dialTestServer(t, m)
	defer cleanup()

	// Give the accept loop a moment to register the session before broadcasting.
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.viewers) == 1
	}, time.Second, 10*time.Millisecond)

	frame := wire.PackKeyframe(1, time.Now(), []byte("jpeg-bytes"))
	m.Broadcast(frame)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, msgType)
	assert.Equal(t, frame, data)
}

func TestManagerSendToUnknownSessionReturnsFalse(t *testing.T) {
	m := NewManager(nil, nil, nil)
	assert.False(t, m.SendTo("no-such-session", []byte("x")))
}

func TestManagerRemovesSessionOnDisconnect(t *testing.T) {
	m := NewManager(nil, nil, nil)

	conn, cleanup := dialTestServer(t, m)
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.viewers) == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.viewers) == 0
	}, time.Second, 10*time.Millisecond)

	cleanup()
}

func TestViewerPushFrameEvictsOldestNonKeyframe(t *testing.T) {
	v := &viewer{notify: make(chan struct{}, 1), done: make(chan struct{})}

	delta := wire.PackDelta(1, time.Now(), nil)
	for i := 0; i < outboundQueueSize+2; i++ {
		v.pushFrame(delta)
	}

	v.queueMu.Lock()
	n := len(v.queue)
	v.queueMu.Unlock()
	assert.Equal(t, outboundQueueSize, n)
}

func TestViewerPushFrameNeverDropsKeyframeWhenRoomAvailable(t *testing.T) {
	v := &viewer{notify: make(chan struct{}, 1), done: make(chan struct{})}

	keyframe := wire.PackKeyframe(1, time.Now(), []byte("img"))
	v.pushFrame(keyframe)
	for i := 0; i < outboundQueueSize; i++ {
		v.pushFrame(wire.PackDelta(uint32(i+2), time.Now(), nil))
	}

	v.queueMu.Lock()
	defer v.queueMu.Unlock()
	found := false
	for _, q := range v.queue {
		if q.isKeyframe {
			found = true
		}
	}
	assert.True(t, found, "keyframe should survive eviction while non-keyframe deltas are present")
}

// TestViewerPushFrameDropsDeltaWhenQueueFullOfKeyframes covers the case the
// original buggy pushFrame mishandled: when every queued entry is a keyframe
// (so no non-keyframe victim exists), a new delta must be dropped rather
// than evicting a keyframe. Collapsing the queue on a new keyframe is
// covered by TestViewerPushFrameNewKeyframeCollapsesQueue.
func TestViewerPushFrameDropsDeltaWhenQueueFullOfKeyframes(t *testing.T) {
	v := &viewer{notify: make(chan struct{}, 1), done: make(chan struct{})}

	// Fill the queue with nothing but keyframes directly, bypassing
	// pushFrame's own coalescing so the queue-full-of-keyframes state can
	// be set up at all.
	for i := 0; i < outboundQueueSize; i++ {
		v.queue = append(v.queue, queuedFrame{
			data:       wire.PackKeyframe(uint32(i+1), time.Now(), []byte("img")),
			isKeyframe: true,
		})
	}

	v.pushFrame(wire.PackDelta(999, time.Now(), nil))

	v.queueMu.Lock()
	defer v.queueMu.Unlock()
	keyframes := 0
	for _, q := range v.queue {
		if q.isKeyframe {
			keyframes++
		}
	}
	assert.Equal(t, outboundQueueSize, keyframes, "no keyframe should be evicted to make room for a delta")
	assert.Len(t, v.queue, outboundQueueSize, "a delta with no eviction target is dropped, not appended")
}

func TestViewerPushFrameNewKeyframeCollapsesQueue(t *testing.T) {
	v := &viewer{notify: make(chan struct{}, 1), done: make(chan struct{})}

	for i := 0; i < outboundQueueSize; i++ {
		v.pushFrame(wire.PackDelta(uint32(i+1), time.Now(), nil))
	}
	v.pushFrame(wire.PackKeyframe(100, time.Now(), []byte("fresh")))

	v.queueMu.Lock()
	defer v.queueMu.Unlock()
	require.Len(t, v.queue, 1)
	assert.True(t, v.queue[0].isKeyframe)
}

func TestIsAllowedOrigin(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		allowed []string
		want    bool
	}{
		{"empty origin rejected", "", nil, false},
		{"localhost always allowed", "http://localhost:8765", nil, true},
		{"loopback always allowed", "http://127.0.0.1:8765", nil, true},
		{"unlisted origin rejected", "http://example.com", nil, false},
		{"listed origin allowed", "http://example.com", []string{"http://example.com"}, true},
		{"scheme-insensitive match", "https://example.com", []string{"http://example.com"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isAllowedOrigin(tt.origin, tt.allowed))
		})
	}
}
