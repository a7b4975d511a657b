package diag

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"excalibur/internal/abi"
)

type received struct {
	sender  string
	level   abi.Level
	message string
}

func TestPublishFiltersByLevel(t *testing.T) {
	bus := New()
	var all, important []received

	bus.Subscribe(func(sender string, level abi.Level, message string) {
		all = append(all, received{sender, level, message})
	}, abi.LevelInfo)
	bus.Subscribe(func(sender string, level abi.Level, message string) {
		important = append(important, received{sender, level, message})
	}, abi.LevelWarning)

	bus.Publish("WebServer", abi.LevelInfo, "starting")
	bus.Publish("ChatRoom", abi.LevelError, "broken")

	require.Len(t, all, 2)
	require.Len(t, important, 1)
	require.Equal(t, "ChatRoom", important[0].sender)
}

func TestUnsubscribeStopsDeliveryAndIsIdempotent(t *testing.T) {
	bus := New()
	var count int
	unsubscribe := bus.Subscribe(func(string, abi.Level, string) { count++ }, abi.LevelInfo)

	bus.Publish("a", abi.LevelInfo, "one")
	unsubscribe()
	unsubscribe()
	bus.Publish("a", abi.LevelInfo, "two")

	require.Equal(t, 1, count)
}

func TestSinkBindsPublish(t *testing.T) {
	bus := New()
	var got string
	bus.Subscribe(func(_ string, _ abi.Level, message string) { got = message }, abi.LevelInfo)

	sink := bus.Sink()
	sink("x", abi.LevelInfo, "via sink")
	require.Equal(t, "via sink", got)
}

func TestStreamReporterFormatsAndRoutes(t *testing.T) {
	var out, errOut bytes.Buffer
	sink := StreamReporter(&out, &errOut)

	sink("Session #3", abi.LevelNotice, "Nickname changed from '' to 'Bob'")
	sink("PluginLoader", abi.LevelWarning, "plugin 'Echo' failed to load")

	require.Equal(t, "Session #3[1]: Nickname changed from '' to 'Bob'\n", out.String())
	require.Equal(t, "PluginLoader[2]: plugin 'Echo' failed to load\n", errOut.String())
}
