// Package pluginhost tracks one loadable extension per Record: the read-only
// image binary on disk, the writable runtime copy the host actually links,
// and the load/unload protocol between them.
package pluginhost

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"excalibur/internal/abi"
)

// ErrTransient marks a load failure worth retrying soon, typically a copy
// that raced a half-written image.
var ErrTransient = errors.New("transient plugin load failure")

// ErrPermanent marks a load failure that pins the record out of
// reconciliation until its image changes again.
var ErrPermanent = errors.New("permanent plugin load failure")

// Linker resolves a runtime library file to its LoadPlugin entrypoint.
type Linker func(path string) (abi.LoadPluginFunc, error)

// Record is the per-extension bookkeeping the supervisor drives. It is not
// safe for concurrent use; the supervisor owns it from a single goroutine.
type Record struct {
	name          string
	imagePath     string
	runtimePath   string
	moduleName    string
	configuration json.RawMessage
	linker        Linker

	lastModified time.Time
	generation   int
	runtimeFile  string
	loadable     bool
	unload       abi.Unload
}

// Option configures a Record at construction.
type Option func(*Record)

// WithLinker substitutes the dynamic-link step, used by tests and by hosts
// that compile their extensions in.
func WithLinker(linker Linker) Option {
	return func(r *Record) { r.linker = linker }
}

// NewRecord builds a record for the named plugin. imageDir holds the
// authoritative binaries; runtimeDir receives the copies that get linked.
func NewRecord(name, imageDir, runtimeDir, moduleName string, configuration json.RawMessage, opts ...Option) *Record {
	r := &Record{
		name:          name,
		imagePath:     LibraryPath(imageDir, moduleName),
		runtimePath:   LibraryPath(runtimeDir, moduleName),
		moduleName:    moduleName,
		configuration: configuration,
		linker:        DynamicLinker,
		loadable:      true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the plugin's configured name.
func (r *Record) Name() string { return r.name }

// ImagePath returns the path of the authoritative plugin binary.
func (r *Record) ImagePath() string { return r.imagePath }

// RuntimeFile returns the path of the currently linked runtime copy, or
// empty when unloaded.
func (r *Record) RuntimeFile() string { return r.runtimeFile }

// Loaded reports whether the plugin is currently linked in.
func (r *Record) Loaded() bool { return r.unload != nil }

// Loadable reports whether the record is eligible for load attempts. A
// permanent failure clears it until the image changes again.
func (r *Record) Loadable() bool { return r.loadable }

// LastModified returns the image timestamp captured at the last load
// attempt.
func (r *Record) LastModified() time.Time { return r.lastModified }

// SetLastModified records the image timestamp. The supervisor captures it
// before invoking Load.
func (r *Record) SetLastModified(t time.Time) { r.lastModified = t }

// ClearPin re-arms a permanently failed record after its image changed.
func (r *Record) ClearPin() { r.loadable = true }

// ImageModTime stats the image file.
func (r *Record) ImageModTime() (time.Time, error) {
	info, err := os.Stat(r.imagePath)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Load runs the copy, link, resolve-entrypoint, invoke sequence. On success
// the record holds the extension's unload callback. A copy failure is
// transient and leaves the record eligible for retry; everything else pins
// the record and deletes the runtime copy.
//
// Each load copies to a freshly numbered runtime file: the Go runtime caches
// a library it has linked by path for the life of the process, so reloading
// an updated image requires a path it has never seen.
func (r *Record) Load(server abi.ServerHandle, diag abi.DiagSink) error {
	if r.unload != nil {
		return nil
	}

	diag("WebServer", abi.LevelInfo, fmt.Sprintf("Copying plug-in '%s'", r.name))
	r.generation++
	target := fmt.Sprintf("%s.%d", r.runtimePath, r.generation)
	if err := copyFile(r.imagePath, target); err != nil {
		diag("WebServer", abi.LevelWarning, fmt.Sprintf("unable to copy plugin '%s' library: %v", r.name, err))
		return ErrTransient
	}

	diag("WebServer", abi.LevelInfo, fmt.Sprintf("Linking plug-in '%s'", r.name))
	entry, err := r.linker(target)
	if err != nil {
		diag("WebServer", abi.LevelWarning, fmt.Sprintf("unable to link plugin '%s' library: %v", r.name, err))
		r.loadable = false
		_ = os.Remove(target)
		return ErrPermanent
	}

	diag("WebServer", abi.LevelInfo, fmt.Sprintf("Loading plug-in '%s'", r.name))
	unload := r.invoke(entry, server, diag)
	if unload == nil {
		diag("", abi.LevelWarning, fmt.Sprintf("plugin '%s' failed to load", r.name))
		r.loadable = false
		_ = os.Remove(target)
		return ErrPermanent
	}

	r.unload = unload
	r.runtimeFile = target
	diag("WebServer", abi.LevelNotice, fmt.Sprintf("Plug-in '%s' loaded", r.name))
	return nil
}

// invoke calls the entrypoint with the record's configuration and a
// diagnostic sink that tags every message with the plugin's name. A panic
// inside the extension is converted into a failed load; it must not take
// the host down.
func (r *Record) invoke(entry abi.LoadPluginFunc, server abi.ServerHandle, diag abi.DiagSink) (unload abi.Unload) {
	defer func() {
		if p := recover(); p != nil {
			diag("", abi.LevelError, fmt.Sprintf("plugin '%s' panicked during load: %v", r.name, p))
			unload = nil
		}
	}()

	return entry(server, r.configuration, r.TaggedSink(diag))
}

// TaggedSink wraps diag so that extension messages surface under the
// plugin's name, or "<pluginName>/<senderName>" when the extension names a
// sender of its own.
func (r *Record) TaggedSink(diag abi.DiagSink) abi.DiagSink {
	name := r.name
	return func(senderName string, level abi.Level, message string) {
		if senderName == "" {
			diag(name, level, message)
		} else {
			diag(name+"/"+senderName, level, message)
		}
	}
}

// Unload invokes the extension's unload callback and releases it. The
// callback is dropped after it runs so any state it captured is torn down
// while the library is still linked. Idempotent.
func (r *Record) Unload(diag abi.DiagSink) {
	if r.unload == nil {
		return
	}
	diag("WebServer", abi.LevelInfo, fmt.Sprintf("Unloading plug-in '%s'", r.name))
	r.unload()
	r.unload = nil
	r.runtimeFile = ""
	diag("WebServer", abi.LevelNotice, fmt.Sprintf("Plug-in '%s' unloaded", r.name))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
