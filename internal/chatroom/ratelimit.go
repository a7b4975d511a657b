// Inbound frame limiting for chat sessions. The limiter throttles raw
// WebSocket traffic before it reaches the dispatcher and runs on the same
// TimeSource as the rest of the room, so the tell cooldown, the quiz
// schedule, and the flood guard all share one clock. The protocol-level
// tell cooldown is a separate rule.
package chatroom

import (
	"sync"

	"excalibur/internal/abi"
)

// RateLimitConfig defines the parameters for per-session frame rate
// limiting: up to Burst frames, replenished over RefillSeconds. A zero
// Burst disables the limiter.
type RateLimitConfig struct {
	Burst         int     `mapstructure:"burst"`
	RefillSeconds float64 `mapstructure:"refillSeconds"`
}

// frameLimiter is a token bucket driven by the room's clock rather than the
// wall clock, which keeps its refill behavior testable alongside the tell
// cooldown.
type frameLimiter struct {
	mu       sync.Mutex
	clock    abi.TimeSource
	tokens   float64
	capacity float64
	rate     float64 // tokens per second
	last     float64
}

func newFrameLimiter(clock abi.TimeSource, cfg RateLimitConfig) *frameLimiter {
	capacity := float64(cfg.Burst)
	if capacity < 1 {
		capacity = 1
	}
	refill := cfg.RefillSeconds
	if refill <= 0 {
		refill = 1
	}

	return &frameLimiter{
		clock:    clock,
		tokens:   capacity,
		capacity: capacity,
		rate:     capacity / refill,
		last:     clock.Now(),
	}
}

// allow consumes one token, reporting false when the session has exhausted
// its burst and must wait for the bucket to refill.
func (l *frameLimiter) allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if elapsed := now - l.last; elapsed > 0 {
		l.tokens += elapsed * l.rate
		if l.tokens > l.capacity {
			l.tokens = l.capacity
		}
	}
	l.last = now

	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}
