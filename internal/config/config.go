package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/deskthing-dev/deskthing/internal/errors"
)

const (
	// ConfigFileName is the name of the project configuration file.
	ConfigFileName = "deskthing.json"

	// DefaultClientPort is the port the dev HTTP server listens on.
	DefaultClientPort = 3000

	// DefaultLinkPort is the WebSocket message-bus port.
	DefaultLinkPort = 8080

	// DefaultVitePort is where a project-run Vite server is expected.
	DefaultVitePort = 5173

	// DefaultEditCooldownMs is the restart debounce window.
	DefaultEditCooldownMs = 1000
)

// Config is the parsed deskthing.json for a project.
type Config struct {
	// Development holds all emulator settings. Production concerns are out
	// of scope for the CLI.
	Development DevelopmentConfig `json:"development,omitempty"`

	// configDir is the directory the config was loaded from.
	configDir string
}

// DevelopmentConfig groups the emulator's settings.
type DevelopmentConfig struct {
	Logging LoggingConfig `json:"logging,omitempty"`
	Client  ClientConfig  `json:"client,omitempty"`
	Server  ServerConfig  `json:"server,omitempty"`
}

// LoggingConfig controls emulator console output.
type LoggingConfig struct {
	// Level is one of silent, error, warn, info, debug.
	Level string `json:"level,omitempty"`

	// Prefix is prepended to every emulator log line.
	Prefix string `json:"prefix,omitempty"`
}

// ClientConfig configures the simulated client and its dev HTTP server.
// The whole struct is served verbatim at GET /config, so field names match
// what the browser-side panels expect.
type ClientConfig struct {
	Logging LoggingConfig `json:"logging,omitempty"`

	// ClientPort is the dev HTTP server port.
	ClientPort int `json:"clientPort,omitempty"`

	// LinkPort is the WebSocket message-bus port.
	LinkPort int `json:"linkPort,omitempty"`

	// ViteLocation and VitePort point at a project-run Vite dev server the
	// client iframe loads from, when one is used.
	ViteLocation string `json:"viteLocation,omitempty"`
	VitePort     int    `json:"vitePort,omitempty"`
}

// ServerConfig configures the app process supervisor.
type ServerConfig struct {
	// EditCooldownMs is the debounce window for file-change restarts.
	EditCooldownMs int `json:"editCooldownMs,omitempty"`

	// RefreshInterval is the music refresh period in seconds. Zero or
	// negative disables the refresh ticker.
	RefreshInterval int `json:"refreshInterval,omitempty"`

	// MockData supplies developer-controlled values injected when the app
	// registers settings, simulating a user filling the settings form.
	MockData MockDataConfig `json:"mockData,omitempty"`
}

// MockDataConfig holds per-setting mock values keyed by setting id.
type MockDataConfig struct {
	Settings map[string]any `json:"settings,omitempty"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses a config file at the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E001").WithDetail("looked for %s", path)
		}
		return nil, errors.New("E302").Wrap(err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.New("E002").Wrap(err)
	}

	cfg.configDir = filepath.Dir(path)
	cfg.applyDefaults()
	return cfg, nil
}

// LoadFromWorkingDir loads deskthing.json from the current directory,
// falling back to defaults when no config file exists. A missing config is
// not an error: a freshly scaffolded app runs with defaults.
func LoadFromWorkingDir() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	path := filepath.Join(wd, ConfigFileName)
	cfg, err := Load(path)
	if err != nil {
		var derr *errors.Error
		if stderrors.As(err, &derr) && derr.Code == "E001" {
			cfg = Default()
			cfg.configDir = wd
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

// Dir returns the project directory the config belongs to.
func (c *Config) Dir() string {
	if c.configDir == "" {
		return "."
	}
	return c.configDir
}

// ServerPath returns the watched app server source directory.
func (c *Config) ServerPath() string {
	return filepath.Join(c.Dir(), "server")
}

// ServerEntry returns the app server entry script.
func (c *Config) ServerEntry() string {
	return filepath.Join(c.ServerPath(), "index.ts")
}

// DevURL returns the dev HTTP server address for display.
func (c *Config) DevURL() string {
	return fmt.Sprintf("http://localhost:%d", c.Development.Client.ClientPort)
}

// EditCooldownMs returns the restart debounce window, never zero.
func (c *Config) EditCooldownMs() int {
	if c.Development.Server.EditCooldownMs <= 0 {
		return DefaultEditCooldownMs
	}
	return c.Development.Server.EditCooldownMs
}

func (c *Config) applyDefaults() {
	dev := &c.Development
	if dev.Logging.Level == "" {
		dev.Logging.Level = "info"
	}
	if dev.Logging.Prefix == "" {
		dev.Logging.Prefix = "[DeskThing Server]"
	}
	if dev.Client.Logging.Level == "" {
		dev.Client.Logging.Level = "info"
	}
	if dev.Client.Logging.Prefix == "" {
		dev.Client.Logging.Prefix = "[DeskThing Client]"
	}
	if dev.Client.ClientPort == 0 {
		dev.Client.ClientPort = DefaultClientPort
	}
	if dev.Client.LinkPort == 0 {
		dev.Client.LinkPort = DefaultLinkPort
	}
	if dev.Client.VitePort == 0 {
		dev.Client.VitePort = DefaultVitePort
	}
	if dev.Client.ViteLocation == "" {
		dev.Client.ViteLocation = "http://localhost"
	}
	if dev.Server.EditCooldownMs == 0 {
		dev.Server.EditCooldownMs = DefaultEditCooldownMs
	}
}
