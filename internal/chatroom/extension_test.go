package chatroom

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"excalibur/internal/abi"
	"excalibur/internal/timekeeper"
)

// fakeHandle records the registrations an extension performs against it.
type fakeHandle struct {
	clock        abi.TimeSource
	registered   [][]string
	unregistered int
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{clock: timekeeper.NewFake(0)}
}

func (h *fakeHandle) RegisterResource(segments []string, _ abi.ResourceHandler) abi.Unregister {
	h.registered = append(h.registered, segments)
	return func() { h.unregistered++ }
}

func (h *fakeHandle) TimeKeeper() abi.TimeSource { return h.clock }

func (h *fakeHandle) SubscribeToDiagnostics(abi.DiagSink, abi.Level) abi.Unsubscribe {
	return func() {}
}

func (h *fakeHandle) Ban(string)             {}
func (h *fakeHandle) Unban(string)           {}
func (h *fakeHandle) Bans() []string         { return nil }
func (h *fakeHandle) WhitelistAdd(string)    {}
func (h *fakeHandle) WhitelistRemove(string) {}
func (h *fakeHandle) Whitelist() []string    { return nil }

func (h *fakeHandle) RegisterBanDelegate(abi.BanDelegate) abi.Unsubscribe {
	return func() {}
}

func (h *fakeHandle) GetConfigurationItem(string) (string, bool) { return "", false }
func (h *fakeHandle) SetConfigurationItem(string, string)        {}

type diagRecorder struct {
	messages []string
	levels   []abi.Level
}

func (d *diagRecorder) sink(_ string, level abi.Level, message string) {
	d.levels = append(d.levels, level)
	d.messages = append(d.messages, message)
}

func TestLoadRequiresSpace(t *testing.T) {
	handle := newFakeHandle()
	rec := &diagRecorder{}

	unload := Load(handle, json.RawMessage(`{"nicknames":["Bob"]}`), rec.sink)
	require.Nil(t, unload)
	require.Empty(t, handle.registered)
	require.Equal(t, []abi.Level{abi.LevelError}, rec.levels)
	require.Contains(t, rec.messages[0], "'space'")
}

func TestLoadRejectsUnparseableSpace(t *testing.T) {
	handle := newFakeHandle()
	rec := &diagRecorder{}

	unload := Load(handle, json.RawMessage(`{"space":"http://[::1"}`), rec.sink)
	require.Nil(t, unload)
	require.Empty(t, handle.registered)
}

func TestLoadRegistersAndUnloads(t *testing.T) {
	handle := newFakeHandle()
	configuration := json.RawMessage(`{
		"space": "/chat",
		"nicknames": ["Alice", "Bob"],
		"initialPoints": {"Bob": 5},
		"tellTimeout": 2,
		"mathQuiz": {"minCoolDown": 30, "maxCoolDown": 10}
	}`)

	room, unload := LoadRoom(handle, configuration, func(string, abi.Level, string) {})
	require.NotNil(t, unload)
	require.Equal(t, [][]string{{"chat"}}, handle.registered)

	// Decoded configuration, including the swapped cooldown bounds.
	require.Equal(t, 2.0, room.tellTimeout)
	require.Equal(t, 10.0, room.minQuestionCooldown)
	require.Equal(t, 30.0, room.maxQuestionCooldown)
	require.Equal(t, 5, room.initialPoints["Bob"])

	unload()
	require.Equal(t, 1, handle.unregistered)

	room.mu.Lock()
	defer room.mu.Unlock()
	require.Empty(t, room.sessions)
	require.Len(t, room.availableNicknames, 2)
}

func TestDecodeConfigEmptySubtree(t *testing.T) {
	cfg, err := decodeConfig(nil)
	require.NoError(t, err)
	require.Empty(t, cfg.Space)

	cfg, err = decodeConfig(json.RawMessage(`null`))
	require.NoError(t, err)
	require.Empty(t, cfg.Space)
}

func TestSplitSpaceVariants(t *testing.T) {
	segments, err := splitSpace("/chat")
	require.NoError(t, err)
	require.Equal(t, []string{"chat"}, segments)

	segments, err = splitSpace("http://example.com/games/chat/")
	require.NoError(t, err)
	require.Equal(t, []string{"games", "chat"}, segments)

	segments, err = splitSpace("/")
	require.NoError(t, err)
	require.Nil(t, segments)
}
