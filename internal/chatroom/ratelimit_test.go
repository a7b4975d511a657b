package chatroom

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"excalibur/internal/abi"
	"excalibur/internal/timekeeper"
)

func TestFrameLimiterRefillsOnRoomClock(t *testing.T) {
	clock := timekeeper.NewFake(0)
	limiter := newFrameLimiter(clock, RateLimitConfig{Burst: 2, RefillSeconds: 1})

	require.True(t, limiter.allow())
	require.True(t, limiter.allow())
	require.False(t, limiter.allow(), "burst exhausted without clock movement")

	// Half the refill period buys back one of the two tokens.
	clock.Advance(0.5)
	require.True(t, limiter.allow())
	require.False(t, limiter.allow())

	// A long quiet stretch refills to capacity, never beyond it.
	clock.Advance(10)
	require.True(t, limiter.allow())
	require.True(t, limiter.allow())
	require.False(t, limiter.allow())
}

func TestFrameLimiterDefaults(t *testing.T) {
	clock := timekeeper.NewFake(0)
	limiter := newFrameLimiter(clock, RateLimitConfig{})

	require.True(t, limiter.allow())
	require.False(t, limiter.allow())
	clock.Advance(1)
	require.True(t, limiter.allow())
}

func TestSessionFrameLimitDropsExcessFrames(t *testing.T) {
	clock := timekeeper.NewFake(0)

	var diagMu sync.Mutex
	var warnings []string
	sink := func(_ string, level abi.Level, message string) {
		if level == abi.LevelWarning {
			diagMu.Lock()
			warnings = append(warnings, message)
			diagMu.Unlock()
		}
	}

	room := NewRoom(clock, sink, Config{
		Nicknames:   []string{"Bob"},
		TellTimeout: 0.001,
		RateLimit:   RateLimitConfig{Burst: 2, RefillSeconds: 1},
	})
	t.Cleanup(func() {
		room.Stop()
		room.Reset()
	})

	conn := newFakeConn()
	observer := newFakeConn()
	room.addSession(conn, "client-1")
	room.addSession(observer, "client-2")

	frame := func(v any) []byte {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		return raw
	}

	// The first two frames spend the burst; the third is discarded before
	// it ever reaches the dispatcher.
	conn.inbound <- frame(setNickName("Bob"))
	conn.inbound <- frame(tellMsg("1"))
	observer.waitFor(t, 2) // Join, Tell
	conn.inbound <- frame(tellMsg("2"))

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 2, observer.frameCount())
	diagMu.Lock()
	require.NotEmpty(t, warnings, "the dropped frame must surface on the diagnostic bus")
	require.Contains(t, warnings[0], "rate limit exceeded")
	diagMu.Unlock()

	// The bucket refills on the room clock, not the wall clock.
	clock.Advance(2)
	conn.inbound <- frame(tellMsg("3"))
	msgs := observer.waitFor(t, 3)
	require.Equal(t, "Tell", msgs[2]["Type"])
	require.Equal(t, "3", msgs[2]["Tell"])
}
