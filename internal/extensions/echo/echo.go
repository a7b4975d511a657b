// Package echo is the simplest possible extension: it registers one
// resource that reflects the request's headers back as an HTML table.
package echo

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"excalibur/internal/abi"
)

type config struct {
	Space string `json:"space"`
}

func splitSpace(space string) ([]string, error) {
	u, err := url.Parse(space)
	if err != nil {
		return nil, err
	}
	trimmed := strings.Trim(u.Path, "/")
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "/"), nil
}

func handle(w http.ResponseWriter, r *http.Request, _ []byte) {
	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)

	var rows strings.Builder
	for _, name := range names {
		for _, value := range r.Header[name] {
			fmt.Fprintf(&rows, "<tr><td>%s</td><td>%s</td></tr>",
				html.EscapeString(name), html.EscapeString(value))
		}
	}

	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, `<!DOCTYPE html><html><head><meta charset="UTF-8">`+
		`<title>Excalibur - Request Echo</title></head><body>`+
		`<table><thead><tr><th>Header</th><th>Value</th></tr></thead>`+
		`<tbody>%s</tbody></table></body></html>`, rows.String())
}

// Load is the extension entry point.
func Load(server abi.ServerHandle, configuration json.RawMessage, diag abi.DiagSink) abi.Unload {
	var cfg config
	if len(configuration) > 0 {
		if err := json.Unmarshal(configuration, &cfg); err != nil {
			diag("", abi.LevelError, "unable to decode configuration: "+err.Error())
			return nil
		}
	}
	if cfg.Space == "" {
		diag("", abi.LevelError, "no 'space' URI in configuration")
		return nil
	}
	segments, err := splitSpace(cfg.Space)
	if err != nil {
		diag("", abi.LevelError, "unable to parse 'space' URI in configuration")
		return nil
	}

	unregister := server.RegisterResource(segments, handle)
	return func() {
		unregister()
	}
}
