// Package config reads the host's JSON configuration tree: the server
// key/value items, the plugin table, the enabled list, the image/runtime
// directories, and the TLS settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// FileName is the configuration file looked up when no explicit path is
// given: first in the current directory, then beside the executable.
const FileName = "config.json"

// Plugin is one entry of the "plugins" table.
type Plugin struct {
	Module        string          `mapstructure:"module" validate:"required"`
	Configuration json.RawMessage `mapstructure:"-"`
}

// Root is the recognized configuration tree.
type Root struct {
	Server           map[string]string `mapstructure:"server"`
	Plugins          map[string]Plugin `mapstructure:"plugins" validate:"dive"`
	PluginsEnabled   []string          `mapstructure:"plugins-enabled"`
	PluginsImage     string            `mapstructure:"plugins-image"`
	PluginsRuntime   string            `mapstructure:"plugins-runtime"`
	Secure           bool              `mapstructure:"secure"`
	SSLCertificate   string            `mapstructure:"sslCertificate" validate:"required_if=Secure true"`
	SSLKey           string            `mapstructure:"sslKey" validate:"required_if=Secure true"`
	SSLKeyPassphrase string            `mapstructure:"sslKeyPassphrase"`
}

var validate = validator.New()

// Resolve picks the configuration file to read: the explicit path when
// given, otherwise config.json in the current directory, otherwise
// config.json beside the executable.
func Resolve(explicit string) (string, error) {
	candidates := make([]string, 0, 3)
	if explicit != "" {
		candidates = append(candidates, explicit)
	}
	candidates = append(candidates, FileName)
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), FileName))
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("unable to open configuration file (tried %v)", candidates)
}

// Load reads and validates the configuration at path.
//
// Viper folds configuration keys to lower case, which would corrupt the
// case-sensitive parts of the tree: the server item names, the plugin names,
// and especially the plugin configuration subtrees (nicknames are keys in
// there). Those parts are re-read from the raw JSON; viper keeps handling
// the scalar root keys.
func Load(path string) (*Root, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}

	var root Root
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}
	var caseExact struct {
		Server  map[string]string          `json:"server"`
		Plugins map[string]json.RawMessage `json:"plugins"`
	}
	if err := json.Unmarshal(raw, &caseExact); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}

	root.Server = caseExact.Server
	root.Plugins = make(map[string]Plugin, len(caseExact.Plugins))
	for name, entry := range caseExact.Plugins {
		var p struct {
			Module        string          `json:"module"`
			Configuration json.RawMessage `json:"configuration"`
		}
		if err := json.Unmarshal(entry, &p); err != nil {
			return nil, fmt.Errorf("decode plugin %q: %w", name, err)
		}
		root.Plugins[name] = Plugin{Module: p.Module, Configuration: p.Configuration}
	}

	if err := validate.Struct(&root); err != nil {
		return nil, fmt.Errorf("validate configuration: %w", err)
	}
	return &root, nil
}

// ResolveDirs makes the image and runtime directories absolute. Relative
// and missing paths resolve against the executable's parent directory, the
// runtime defaulting to a "runtime" directory under it.
func (r *Root) ResolveDirs() (imageDir, runtimeDir string, err error) {
	exe, err := os.Executable()
	if err != nil {
		return "", "", err
	}
	parent := filepath.Dir(exe)

	imageDir = r.PluginsImage
	switch {
	case imageDir == "":
		imageDir = parent
	case !filepath.IsAbs(imageDir):
		imageDir = filepath.Join(parent, imageDir)
	}

	runtimeDir = r.PluginsRuntime
	switch {
	case runtimeDir == "":
		runtimeDir = filepath.Join(parent, "runtime")
	case !filepath.IsAbs(runtimeDir):
		runtimeDir = filepath.Join(parent, runtimeDir)
	}

	return imageDir, runtimeDir, nil
}
