package staticcontent

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"excalibur/internal/abi"
)

type fakeHandle struct {
	segments [][]string
	handlers []abi.ResourceHandler
}

func (h *fakeHandle) RegisterResource(segments []string, handler abi.ResourceHandler) abi.Unregister {
	h.segments = append(h.segments, segments)
	h.handlers = append(h.handlers, handler)
	return func() {}
}

func (h *fakeHandle) TimeKeeper() abi.TimeSource { return nil }
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

func TestLoadRequiresRoot(t *testing.T) {
	handle := &fakeHandle{}
	var errors int
	unload := Load(handle, json.RawMessage(`{"space":"/files"}`), func(_ string, level abi.Level, _ string) {
		if level == abi.LevelError {
			errors++
		}
	})
	require.Nil(t, unload)
	require.Equal(t, 1, errors)
}

func TestServesFilesUnderSpace(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hi there"), 0o644))

	handle := &fakeHandle{}
	configuration := fmt.Sprintf(`{"space":"/files","root":%q}`, root)
	unload := Load(handle, json.RawMessage(configuration), func(string, abi.Level, string) {})
	require.NotNil(t, unload)

	recorder := httptest.NewRecorder()
	handle.handlers[0](recorder, httptest.NewRequest("GET", "/files/hello.txt", nil), nil)
	require.Equal(t, 200, recorder.Code)
	require.Equal(t, "hi there", recorder.Body.String())

	recorder = httptest.NewRecorder()
	handle.handlers[0](recorder, httptest.NewRequest("GET", "/files/missing.txt", nil), nil)
	require.Equal(t, 404, recorder.Code)
}
