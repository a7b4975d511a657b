// Package host implements the Server Handle: the single capability object
// constructed once at startup and passed to every extension's LoadPlugin
// call, bundling the router, the diagnostic bus, the time source, and the
// ban/whitelist and process-wide configuration-item surfaces extensions can
// reach.
package host

import (
	"sync"

	"excalibur/internal/abi"
	"excalibur/internal/diag"
	"excalibur/internal/router"
)

// Handle is the concrete abi.ServerHandle implementation.
type Handle struct {
	router *router.Router
	bus    *diag.Bus
	clock  abi.TimeSource

	mu         sync.RWMutex
	banned     map[string]struct{}
	whitelist  map[string]struct{}
	banSubs    map[uint64]abi.BanDelegate
	nextBanSub uint64

	cfgMu sync.RWMutex
	cfg   map[string]string
}

// New builds a Handle over the given router, diagnostic bus, and time
// source.
func New(rt *router.Router, bus *diag.Bus, clock abi.TimeSource) *Handle {
	return &Handle{
		router:    rt,
		bus:       bus,
		clock:     clock,
		banned:    make(map[string]struct{}),
		whitelist: make(map[string]struct{}),
		banSubs:   make(map[uint64]abi.BanDelegate),
		cfg:       make(map[string]string),
	}
}

var _ abi.ServerHandle = (*Handle)(nil)

// RegisterResource installs handler for segments via the underlying router.
func (h *Handle) RegisterResource(segments []string, handler abi.ResourceHandler) abi.Unregister {
	return h.router.Register(segments, handler)
}

// TimeKeeper returns the host's time source.
func (h *Handle) TimeKeeper() abi.TimeSource {
	return h.clock
}

// SubscribeToDiagnostics forwards to the diagnostic bus.
func (h *Handle) SubscribeToDiagnostics(sink abi.DiagSink, minLevel abi.Level) abi.Unsubscribe {
	return h.bus.Subscribe(sink, minLevel)
}

func (h *Handle) notifyBanSubs(event abi.BanEvent) {
	h.mu.RLock()
	delegates := make([]abi.BanDelegate, 0, len(h.banSubs))
	for _, d := range h.banSubs {
		delegates = append(delegates, d)
	}
	h.mu.RUnlock()
	for _, d := range delegates {
		d(event)
	}
}

// Ban records address as banned. Storage only: it does not alter the
// router or reject any connection by itself; enforcement is left to
// whoever consults the list.
func (h *Handle) Ban(address string) {
	h.mu.Lock()
	h.banned[address] = struct{}{}
	h.mu.Unlock()
	h.notifyBanSubs(abi.BanEvent{Address: address, Banned: true})
}

// Unban removes address from the ban set.
func (h *Handle) Unban(address string) {
	h.mu.Lock()
	_, existed := h.banned[address]
	delete(h.banned, address)
	h.mu.Unlock()
	if existed {
		h.notifyBanSubs(abi.BanEvent{Address: address, Banned: false})
	}
}

// Bans returns a snapshot of banned addresses.
func (h *Handle) Bans() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.banned))
	for a := range h.banned {
		out = append(out, a)
	}
	return out
}

// WhitelistAdd records address as whitelisted.
func (h *Handle) WhitelistAdd(address string) {
	h.mu.Lock()
	h.whitelist[address] = struct{}{}
	h.mu.Unlock()
	h.notifyBanSubs(abi.BanEvent{Address: address, Whitelist: true})
}

// WhitelistRemove removes address from the whitelist.
func (h *Handle) WhitelistRemove(address string) {
	h.mu.Lock()
	_, existed := h.whitelist[address]
	delete(h.whitelist, address)
	h.mu.Unlock()
	if existed {
		h.notifyBanSubs(abi.BanEvent{Address: address, Whitelist: false, Banned: false})
	}
}

// Whitelist returns a snapshot of whitelisted addresses.
func (h *Handle) Whitelist() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.whitelist))
	for a := range h.whitelist {
		out = append(out, a)
	}
	return out
}

// RegisterBanDelegate registers delegate to be notified of every future ban
// or whitelist mutation, returning an Unsubscribe closure.
func (h *Handle) RegisterBanDelegate(delegate abi.BanDelegate) abi.Unsubscribe {
	h.mu.Lock()
	id := h.nextBanSub
	h.nextBanSub++
	h.banSubs[id] = delegate
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.banSubs, id)
			h.mu.Unlock()
		})
	}
}

// GetConfigurationItem reads a process-wide string configuration value.
func (h *Handle) GetConfigurationItem(key string) (string, bool) {
	h.cfgMu.RLock()
	defer h.cfgMu.RUnlock()
	v, ok := h.cfg[key]
	return v, ok
}

// SetConfigurationItem writes a process-wide string configuration value.
func (h *Handle) SetConfigurationItem(key, value string) {
	h.cfgMu.Lock()
	defer h.cfgMu.Unlock()
	h.cfg[key] = value
}
