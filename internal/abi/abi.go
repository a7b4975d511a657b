// Package abi defines the stable boundary between the host and the
// dynamically loaded extensions it links against. Every extension image is
// built with "go build -buildmode=plugin" and exports a LoadPlugin function
// matching LoadPluginFunc.
package abi

import (
	"encoding/json"
	"net/http"
)

// DiagSink is the delegate an extension calls to publish a diagnostic
// message. An empty senderName means the message is attributed directly to
// the extension; a non-empty senderName is combined by the host as
// "<pluginName>/<senderName>".
type DiagSink func(senderName string, level Level, message string)

// Level follows the host-wide diagnostic convention: 0 informational,
// 1 important, 2 warning, 3 error.
type Level int

const (
	LevelInfo    Level = 0
	LevelNotice  Level = 1
	LevelWarning Level = 2
	LevelError   Level = 3
)

// Unload is returned by LoadPlugin on success. Calling it must synchronously
// revoke every resource the extension registered through its ServerHandle.
// A nil Unload means the extension failed to load.
type Unload func()

// LoadPluginFunc is the exact signature every extension's exported
// LoadPlugin symbol must satisfy.
type LoadPluginFunc func(server ServerHandle, configuration json.RawMessage, diag DiagSink) Unload

// Unregister revokes a single resource registration. It is idempotent and
// race-free: once it returns, no further invocation of the handler it
// removed can begin.
type Unregister func()

// Unsubscribe cancels a diagnostics subscription. Idempotent.
type Unsubscribe func()

// BanDelegate is notified whenever the ban or whitelist set changes.
type BanDelegate func(event BanEvent)

// BanEvent describes a single mutation of the ban or whitelist set.
type BanEvent struct {
	Address   string
	Banned    bool
	Whitelist bool
}

// ServerHandle is the capability object the host hands to every extension at
// load time. All operations are safe to call from any goroutine.
type ServerHandle interface {
	// RegisterResource installs handler as the owner of the resource
	// subspace named by segments, returning a closure that revokes the
	// registration.
	RegisterResource(segments []string, handler ResourceHandler) Unregister

	// TimeKeeper returns the host's monotonic time source.
	TimeKeeper() TimeSource

	// SubscribeToDiagnostics registers sink to receive every diagnostic
	// message at or above minLevel, returning an Unsubscribe closure.
	SubscribeToDiagnostics(sink DiagSink, minLevel Level) Unsubscribe

	Ban(address string)
	Unban(address string)
	Bans() []string
	WhitelistAdd(address string)
	WhitelistRemove(address string)
	Whitelist() []string
	RegisterBanDelegate(delegate BanDelegate) Unsubscribe

	GetConfigurationItem(key string) (string, bool)
	SetConfigurationItem(key, value string)
}

// TimeSource yields a monotonic seconds count from an arbitrary epoch. It is
// the Go-side stand-in for the wall-clock source the host treats as an
// external collaborator.
type TimeSource interface {
	Now() float64
}

// ResourceHandler is the signature every resource registered through
// RegisterResource must implement. trailer carries any bytes the transport
// had already buffered beyond the logical end of the request; for the
// net/http + gorilla/websocket stack this host is built on, that continuity
// is actually preserved one layer down by the hijacked bufio.Reader that
// gorilla's own Upgrade call reuses (see internal/router's doc comment), so
// trailer is always empty by the time a handler registered at this layer
// runs. The parameter is kept for ABI parity with existing extension
// images.
type ResourceHandler func(w http.ResponseWriter, r *http.Request, trailer []byte)
