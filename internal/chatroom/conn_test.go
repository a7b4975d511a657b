package chatroom

import (
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"excalibur/internal/abi"
	"excalibur/internal/timekeeper"
)

// fakeConn is an in-memory wsConn. Tests feed client frames through the
// inbound channel and read back everything the room wrote.
type fakeConn struct {
	mu      sync.Mutex
	frames  [][]byte
	inbound chan []byte
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.inbound
	if !ok {
		return 0, nil, io.EOF
	}
	return websocket.TextMessage, data, nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error     { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error    { return nil }
func (c *fakeConn) SetPongHandler(func(string) error)   {}
func (c *fakeConn) SetReadLimit(int64)                  {}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbound)
	}
	return nil
}

func (c *fakeConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *fakeConn) decoded(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.frames))
	for _, frame := range c.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(frame, &m))
		out = append(out, m)
	}
	return out
}

// waitFor blocks until the connection has received at least n frames, then
// returns them decoded, in arrival order.
func (c *fakeConn) waitFor(t *testing.T, n int) []map[string]any {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.frameCount() >= n
	}, 2*time.Second, 5*time.Millisecond, "expected at least %d frames", n)
	return c.decoded(t)
}

// newTestRoom builds a room over a fake clock pinned at zero. The housekeeper
// is not started; tests that need it call Start themselves.
func newTestRoom(t *testing.T, cfg Config) (*Room, *timekeeper.Fake) {
	t.Helper()
	clock := timekeeper.NewFake(0)
	room := NewRoom(clock, func(string, abi.Level, string) {}, cfg)
	t.Cleanup(func() {
		room.Stop()
		room.Reset()
	})
	return room, clock
}

// sendJSON routes one client message through the room synchronously, the
// same path readPump takes.
func sendJSON(t *testing.T, r *Room, s *session, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	r.receive(s.id, raw)
}
