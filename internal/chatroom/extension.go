// Extension entry point for the chat room: configuration decoding and the
// load/unload protocol against the host's server handle.
package chatroom

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"excalibur/internal/abi"
)

// QuizConfig sets the cooldown range, in seconds, between consecutive math
// questions.
type QuizConfig struct {
	MinCoolDown float64 `mapstructure:"minCoolDown"`
	MaxCoolDown float64 `mapstructure:"maxCoolDown"`
}

// Config is the chat room's configuration subtree.
type Config struct {
	Space          string          `mapstructure:"space" validate:"required"`
	Nicknames      []string        `mapstructure:"nicknames"`
	InitialPoints  map[string]int  `mapstructure:"initialPoints"`
	TellTimeout    float64         `mapstructure:"tellTimeout"`
	MathQuiz       QuizConfig      `mapstructure:"mathQuiz"`
	AllowedOrigins []string        `mapstructure:"allowedOrigins"`
	MaxMessageSize int64           `mapstructure:"maxMessageSize"`
	RateLimit      RateLimitConfig `mapstructure:"rateLimit"`
}

var validate = validator.New()

// decodeConfig turns the raw configuration subtree into a Config. JSON
// numbers arrive as float64, so the decoder runs weakly typed.
func decodeConfig(configuration json.RawMessage) (Config, error) {
	raw := map[string]any{}
	if len(configuration) > 0 {
		if err := json.Unmarshal(configuration, &raw); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Config{}, err
	}
	if err := decoder.Decode(raw); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// splitSpace extracts the router segments from the configured space URI.
func splitSpace(space string) ([]string, error) {
	u, err := url.Parse(space)
	if err != nil {
		return nil, err
	}
	trimmed := strings.Trim(u.Path, "/")
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "/"), nil
}

// LoadRoom wires a new Room into the server and returns it along with the
// unload callback. A nil unload means the extension failed to load; the host
// stays up either way.
func LoadRoom(server abi.ServerHandle, configuration json.RawMessage, diag abi.DiagSink) (*Room, abi.Unload) {
	cfg, err := decodeConfig(configuration)
	if err != nil {
		diag("", abi.LevelError, "unable to decode configuration: "+err.Error())
		return nil, nil
	}
	if err := validate.Struct(cfg); err != nil {
		diag("", abi.LevelError, "no 'space' URI in configuration")
		return nil, nil
	}
	segments, err := splitSpace(cfg.Space)
	if err != nil {
		diag("", abi.LevelError, "unable to parse 'space' URI in configuration")
		return nil, nil
	}

	room := NewRoom(server.TimeKeeper(), diag, cfg)
	room.Start()
	unregister := server.RegisterResource(segments, room.HandleRequest)

	unload := func() {
		unregister()
		room.Stop()
		room.Reset()
	}
	return room, unload
}

// Load is the extension entry point in the shape the plugin ABI expects.
func Load(server abi.ServerHandle, configuration json.RawMessage, diag abi.DiagSink) abi.Unload {
	_, unload := LoadRoom(server, configuration, diag)
	return unload
}
