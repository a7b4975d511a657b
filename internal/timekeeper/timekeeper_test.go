package timekeeper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRealClockAdvances(t *testing.T) {
	clock := New()
	first := clock.Now()
	time.Sleep(10 * time.Millisecond)
	second := clock.Now()

	require.GreaterOrEqual(t, first, 0.0)
	require.Greater(t, second, first)
}

func TestFakeClockSetAndAdvance(t *testing.T) {
	clock := NewFake(1.5)
	require.Equal(t, 1.5, clock.Now())

	clock.Set(3.0)
	require.Equal(t, 3.0, clock.Now())

	require.Equal(t, 3.5, clock.Advance(0.5))
	require.Equal(t, 3.5, clock.Now())
}
