package websrv

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"excalibur/internal/abi"
	"excalibur/internal/diag"
)

// WithDiagnostics publishes one informational line per request, tagged with
// a request id so concurrent requests can be told apart in the stream.
func WithDiagnostics(bus *diag.Bus, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		bus.Publish("WebServer", abi.LevelInfo,
			fmt.Sprintf("%s %s from %s (%s)", r.Method, r.URL.Path, r.RemoteAddr, requestID))
		next.ServeHTTP(w, r)
	})
}
