// Package testhelpers provides shared utilities for the integration tests:
// standing up a host over httptest, dialing WebSockets into it, and reading
// protocol messages with deadlines.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"excalibur/internal/diag"
	"excalibur/internal/host"
	"excalibur/internal/router"
	"excalibur/internal/timekeeper"
)

// Host bundles everything an integration test needs to act as the server
// side: the router serving over a test listener and the handle extensions
// load against.
type Host struct {
	Server *httptest.Server
	Router *router.Router
	Handle *host.Handle
	Bus    *diag.Bus
	Clock  *timekeeper.Fake
}

// NewHost starts a test server around a fresh router, handle, and
// diagnostic bus, with a fake clock pinned at zero.
func NewHost(t *testing.T) *Host {
	t.Helper()

	rt := router.New()
	bus := diag.New()
	clock := timekeeper.NewFake(0)
	handle := host.New(rt, bus, clock)

	server := httptest.NewServer(rt)
	t.Cleanup(server.Close)

	return &Host{Server: server, Router: rt, Handle: handle, Bus: bus, Clock: clock}
}

// WebSocketURL rewrites the test server's base URL to the ws scheme and
// appends path.
func (h *Host) WebSocketURL(path string) string {
	return "ws" + strings.TrimPrefix(h.Server.URL, "http") + path
}

// Dial opens a WebSocket to path on the host, failing the test on error.
// The connection is closed automatically at cleanup.
func (h *Host) Dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial(h.WebSocketURL(path), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendJSON marshals v and writes it as one text frame.
func SendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write message: %v", err)
	}
}

// ReadJSON reads the next text frame and decodes it as an object, with a
// bounded wait.
func ReadJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("decode message %q: %v", raw, err)
	}
	return m
}

// ReadUntilType reads messages until one with the given Type arrives,
// failing the test if maxMessages frames pass without it.
func ReadUntilType(t *testing.T, conn *websocket.Conn, messageType string, maxMessages int) map[string]any {
	t.Helper()
	for i := 0; i < maxMessages; i++ {
		m := ReadJSON(t, conn)
		if m["Type"] == messageType {
			return m
		}
	}
	t.Fatalf("no %s message within %d frames", messageType, maxMessages)
	return nil
}

// AssertStatusCode checks the HTTP response status.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks the HTTP response Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, expected) {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}
