// Echo extension image. Build with:
//
//	go build -buildmode=plugin -o echo.so ./cmd/plugins/echo
package main

import (
	"encoding/json"

	"excalibur/internal/abi"
	"excalibur/internal/extensions/echo"
)

// LoadPlugin is the extension entry point the host links against.
func LoadPlugin(server abi.ServerHandle, configuration json.RawMessage, diag abi.DiagSink) abi.Unload {
	return echo.Load(server, configuration, diag)
}

func main() {}
