// Package supervisor reconciles the live set of plugin records with the
// on-disk image directory: it watches for image changes, debounces the
// notifications, and drives each record through its load/unload transitions
// so an updated binary hot-reloads without a server restart.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"

	"excalibur/internal/abi"
	"excalibur/internal/pluginhost"
)

const (
	// debouncePeriod is how long the reconciler waits for the image
	// directory to go quiet before scanning. Updates arriving inside the
	// window push the scan back.
	debouncePeriod = 100 * time.Millisecond

	diagSender = "PluginLoader"
)

// Supervisor owns the reconciler for a fixed, ordered set of plugin
// records. ScanOnce may be called directly for a synchronous pass;
// StartBackground runs passes whenever the image directory changes.
type Supervisor struct {
	server   abi.ServerHandle
	diag     abi.DiagSink
	records  []*pluginhost.Record
	imageDir string

	scan    chan struct{}
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a supervisor over records, which are scanned in the given
// order on every pass.
func New(server abi.ServerHandle, diag abi.DiagSink, imageDir string, records []*pluginhost.Record) *Supervisor {
	return &Supervisor{
		server:   server,
		diag:     diag,
		records:  records,
		imageDir: imageDir,
		scan:     make(chan struct{}, 1),
	}
}

// Records returns the supervised records in scan order.
func (s *Supervisor) Records() []*pluginhost.Record {
	return s.records
}

// RequestScan asks the background reconciler for another pass. Safe from
// any goroutine; redundant requests coalesce.
func (s *Supervisor) RequestScan() {
	select {
	case s.scan <- struct{}{}:
	default:
	}
}

// ScanOnce performs a single synchronous reconciliation pass over every
// record, in insertion order. It reports whether another pass should follow
// soon, which happens when a load failed transiently.
func (s *Supervisor) ScanOnce() (again bool) {
	for _, rec := range s.records {
		mtime, err := rec.ImageModTime()
		if err != nil {
			// No image on disk; nothing to reconcile for this record.
			continue
		}

		if rec.Loaded() {
			if mtime.Equal(rec.LastModified()) {
				continue
			}
			s.diag(diagSender, abi.LevelInfo, fmt.Sprintf("plugin '%s' appears to have changed", rec.Name()))
			rec.Unload(s.diag)
			rec.ClearPin()
		} else if !rec.Loadable() {
			if mtime.Equal(rec.LastModified()) {
				continue
			}
			// A new image clears the pin left by a permanent failure.
			rec.ClearPin()
		}

		rec.SetLastModified(mtime)
		if err := rec.Load(s.server, s.diag); errors.Is(err, pluginhost.ErrTransient) {
			s.diag(diagSender, abi.LevelWarning,
				fmt.Sprintf("plugin '%s' failed to copy...will attempt to copy and load again soon", rec.Name()))
			again = true
		}
	}
	return again
}

// StartBackground attaches a watcher to the image directory and starts the
// reconciler. It fails only when the directory cannot be watched.
func (s *Supervisor) StartBackground() error {
	if s.cancel != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.imageDir); err != nil {
		_ = watcher.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.watcher = watcher
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.watch(ctx, watcher)
	go s.run(ctx, s.done)
	return nil
}

// watch forwards image-directory notifications to the reconciler.
func (s *Supervisor) watch(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-watcher.Events:
			if !ok {
				return
			}
			s.RequestScan()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.diag(diagSender, abi.LevelWarning, fmt.Sprintf("watcher error: %v", err))
		}
	}
}

// run is the reconciler: wait for a scan request, debounce while updates
// are still arriving, then execute a pass.
func (s *Supervisor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.diag(diagSender, abi.LevelInfo, "starting")
	for {
		select {
		case <-ctx.Done():
			s.diag(diagSender, abi.LevelInfo, "stopping")
			return
		case <-s.scan:
		}

	debounce:
		for {
			select {
			case <-ctx.Done():
				s.diag(diagSender, abi.LevelInfo, "stopping")
				return
			case <-s.scan:
				s.diag(diagSender, abi.LevelInfo, "need scan, but updates still happening; backing off")
			case <-time.After(debouncePeriod):
				break debounce
			}
		}

		s.diag(diagSender, abi.LevelInfo, "scanning")
		if s.ScanOnce() {
			s.RequestScan()
		}
	}
}

// StopBackground detaches the watcher, then signals and joins the
// reconciler. Idempotent.
func (s *Supervisor) StopBackground() {
	if s.cancel == nil {
		return
	}
	_ = s.watcher.Close()
	s.cancel()
	<-s.done
	s.cancel = nil
	s.watcher = nil
	s.done = nil
}

// Close stops background scanning and unloads every live record in
// insertion order, the shutdown sequence.
func (s *Supervisor) Close() {
	s.StopBackground()
	for _, rec := range s.records {
		rec.Unload(s.diag)
	}
}
