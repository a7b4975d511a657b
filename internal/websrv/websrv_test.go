package websrv

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"excalibur/internal/abi"
	"excalibur/internal/diag"
)

func TestCreateDefaultsAddress(t *testing.T) {
	server, err := Create(Options{}, http.NewServeMux())
	require.NoError(t, err)
	require.Equal(t, ":8080", server.Addr)
	require.Equal(t, 15*time.Second, server.ReadTimeout)
	require.Nil(t, server.TLSConfig)
}

func TestCreateRejectsMissingTLSMaterial(t *testing.T) {
	_, err := Create(Options{
		Secure:      true,
		Certificate: "/nonexistent/cert.pem",
		Key:         "/nonexistent/key.pem",
	}, http.NewServeMux())
	require.Error(t, err)
}

func TestShutdownStopsRunningServer(t *testing.T) {
	server, err := Create(Options{Address: "127.0.0.1:0"}, http.NewServeMux())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- Start(server) }()

	// Give the listener a moment to come up, then stop it.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, Shutdown(server, time.Second))

	select {
	case err := <-done:
		require.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestWithDiagnosticsPublishesRequestLine(t *testing.T) {
	bus := diag.New()
	var lines []string
	unsubscribe := bus.Subscribe(func(sender string, _ abi.Level, message string) {
		lines = append(lines, sender+": "+message)
	}, abi.LevelInfo)
	defer unsubscribe()

	handler := WithDiagnostics(bus, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/chat", nil))

	require.Equal(t, http.StatusNoContent, recorder.Code)
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "WebServer: GET /chat")
}
