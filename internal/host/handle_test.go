package host

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"excalibur/internal/abi"
	"excalibur/internal/diag"
	"excalibur/internal/router"
	"excalibur/internal/timekeeper"
)

func newHandle() *Handle {
	return New(router.New(), diag.New(), timekeeper.NewFake(0))
}

func TestBanListStorage(t *testing.T) {
	h := newHandle()

	h.Ban("10.0.0.1")
	h.Ban("10.0.0.2")
	h.Unban("10.0.0.1")

	require.Equal(t, []string{"10.0.0.2"}, h.Bans())

	h.WhitelistAdd("10.0.0.9")
	require.Equal(t, []string{"10.0.0.9"}, h.Whitelist())
	h.WhitelistRemove("10.0.0.9")
	require.Empty(t, h.Whitelist())
}

func TestBanDelegateNotifications(t *testing.T) {
	h := newHandle()

	var events []abi.BanEvent
	unsubscribe := h.RegisterBanDelegate(func(event abi.BanEvent) {
		events = append(events, event)
	})

	h.Ban("10.0.0.1")
	h.Unban("10.0.0.1")
	h.Unban("10.0.0.1") // already gone, no event

	require.Len(t, events, 2)
	require.True(t, events[0].Banned)
	require.False(t, events[1].Banned)

	unsubscribe()
	h.Ban("10.0.0.2")
	require.Len(t, events, 2)
}

func TestConfigurationItems(t *testing.T) {
	h := newHandle()

	_, ok := h.GetConfigurationItem("Port")
	require.False(t, ok)

	h.SetConfigurationItem("Port", "8080")
	value, ok := h.GetConfigurationItem("Port")
	require.True(t, ok)
	require.Equal(t, "8080", value)
}

func TestBansSnapshotIsIndependent(t *testing.T) {
	h := newHandle()
	h.Ban("c")
	h.Ban("a")
	h.Ban("b")

	bans := h.Bans()
	require.ElementsMatch(t, []string{"a", "b", "c"}, bans)

	sort.Strings(bans)
	h.Unban("a")
	require.ElementsMatch(t, []string{"b", "c"}, h.Bans())
}
