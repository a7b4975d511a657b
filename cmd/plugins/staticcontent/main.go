// Static content extension image. Build with:
//
//	go build -buildmode=plugin -o staticcontent.so ./cmd/plugins/staticcontent
package main

import (
	"encoding/json"

	"excalibur/internal/abi"
	"excalibur/internal/extensions/staticcontent"
)

// LoadPlugin is the extension entry point the host links against.
func LoadPlugin(server abi.ServerHandle, configuration json.RawMessage, diag abi.DiagSink) abi.Unload {
	return staticcontent.Load(server, configuration, diag)
}

func main() {}
