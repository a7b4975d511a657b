// Package router maintains the mapping from a URL path prefix to the
// extension-installed handler that owns it, and dispatches incoming requests
// to the longest matching registration.
//
// Trailer continuity: the handler signature carries any bytes the
// transport already buffered beyond the logical end of the request, so that
// a handler upgrading the connection (the chat room, most notably) can
// interpret client bytes sent immediately after the upgrade request. On top
// of net/http and gorilla/websocket, that continuity is preserved for free:
// an http.Hijacker-based upgrade reuses the same bufio.Reader the stdlib
// server already read the request from, so any pipelined bytes are still
// sitting in that reader when the extension calls Upgrade. Dispatch
// therefore always passes a nil trailer; the parameter exists on the
// handler signature for ABI parity with existing extension images.
package router

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"excalibur/internal/abi"
)

// registration pairs a segment prefix with its handler. Each registration
// carries its own guard: dispatch invokes the handler under a read lock,
// and Unregister marks it removed under the write lock, so unregistration
// cannot complete while an invocation is beginning or in flight.
type registration struct {
	segments []string
	handler  abi.ResourceHandler

	mu      sync.RWMutex
	removed bool
}

// Router dispatches requests to the handler whose registered path segments
// are the longest prefix of the request path.
type Router struct {
	mu   sync.RWMutex
	regs []*registration
}

// New returns an empty Router.
func New() *Router {
	return &Router{}
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// Register installs handler as the owner of segments, returning a closure
// that idempotently revokes the registration. Once the closure returns, no
// further call to handler originating from Dispatch can begin, and any call
// already in flight has finished.
func (rt *Router) Register(segments []string, handler abi.ResourceHandler) abi.Unregister {
	reg := &registration{segments: append([]string(nil), segments...), handler: handler}

	rt.mu.Lock()
	rt.regs = append(rt.regs, reg)
	rt.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			rt.mu.Lock()
			for i, r := range rt.regs {
				if r == reg {
					rt.regs = append(rt.regs[:i], rt.regs[i+1:]...)
					break
				}
			}
			rt.mu.Unlock()

			// Waits out any dispatch that resolved this registration
			// before it left the table.
			reg.mu.Lock()
			reg.removed = true
			reg.mu.Unlock()
		})
	}
}

// match reports whether prefix is a prefix of segments.
func match(prefix, segments []string) bool {
	if len(prefix) > len(segments) {
		return false
	}
	for i, p := range prefix {
		if segments[i] != p {
			return false
		}
	}
	return true
}

// resolve returns the registration whose segments are the longest matching
// prefix of path, or nil if none match.
func (rt *Router) resolve(path []string) *registration {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	candidates := make([]*registration, 0, len(rt.regs))
	for _, r := range rt.regs {
		if match(r.segments, path) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return len(candidates[i].segments) > len(candidates[j].segments)
	})
	return candidates[0]
}

// ServeHTTP implements http.Handler, dispatching to the longest-matching
// registration or replying 404 when none match. The handler runs under the
// registration's read lock; a registration revoked between resolution and
// invocation is treated as no match.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reg := rt.resolve(splitPath(r.URL.Path))
	if reg == nil {
		http.NotFound(w, r)
		return
	}

	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if reg.removed {
		http.NotFound(w, r)
		return
	}
	reg.handler(w, r, nil)
}
