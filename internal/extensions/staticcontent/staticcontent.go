// Package staticcontent serves files from a configured root directory under
// the extension's resource subspace.
package staticcontent

import (
	"encoding/json"
	"net/http"
	"net/url"
	"path"
	"strings"

	"excalibur/internal/abi"
)

type config struct {
	Space string `json:"space"`
	Root  string `json:"root"`
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
	if cfg.Root == "" {
		diag("", abi.LevelError, "no 'root' path in configuration")
		return nil
	}

	prefix := "/" + path.Join(segments...)
	files := http.StripPrefix(prefix, http.FileServer(http.Dir(cfg.Root)))
	handler := func(w http.ResponseWriter, r *http.Request, _ []byte) {
		files.ServeHTTP(w, r)
	}

	unregister := server.RegisterResource(segments, handler)
	return func() {
		unregister()
	}
}
