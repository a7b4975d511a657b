package pluginhost

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"plugin"
	"runtime"

	"excalibur/internal/abi"
)

// entrypointSymbol is the exported function every extension image must
// provide.
const entrypointSymbol = "LoadPlugin"

// DynamicLinker opens a shared-library image built with
// "go build -buildmode=plugin" and resolves its LoadPlugin entrypoint.
func DynamicLinker(path string) (abi.LoadPluginFunc, error) {
	library, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}

	symbol, err := library.Lookup(entrypointSymbol)
	if err != nil {
		return nil, err
	}

	entry, ok := symbol.(func(abi.ServerHandle, json.RawMessage, abi.DiagSink) abi.Unload)
	if !ok {
		return nil, fmt.Errorf("symbol %s has unexpected type %T", entrypointSymbol, symbol)
	}
	return abi.LoadPluginFunc(entry), nil
}

// ModuleExtension returns the platform-conventional shared-library suffix.
func ModuleExtension() string {
	switch runtime.GOOS {
	case "windows":
		return ".dll"
	case "darwin":
		return ".dylib"
	default:
		return ".so"
	}
}

// LibraryPath composes the on-disk file name for a module in dir. Plugin
// images built by the Go toolchain carry no "lib" prefix, so the name is
// just the module plus the platform extension.
func LibraryPath(dir, module string) string {
	return filepath.Join(dir, module+ModuleExtension())
}
