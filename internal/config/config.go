// Package config provides configuration management for EmberDB.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables prefixed with EMBERDB_. Command-line flags are applied
// by the caller on top of the loaded Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the environment variable prefix. EMBERDB_SERVER_MAX_CLIENTS
// maps to server.max_clients.
const EnvPrefix = "EMBERDB_"

// Config holds the EmberDB server configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Store   StoreConfig   `koanf:"store"`
	Log     LogConfig     `koanf:"log"`
	Web     WebConfig     `koanf:"web"`
	HotKeys HotKeysConfig `koanf:"hotkeys"`
}

// ServerConfig configures the RESP listener.
type ServerConfig struct {
	Addr          string        `koanf:"addr"`
	MaxClients    int           `koanf:"max_clients"`
	ReadTimeout   time.Duration `koanf:"read_timeout"`
	WriteTimeout  time.Duration `koanf:"write_timeout"`
	RateLimit     float64       `koanf:"rate_limit"` // commands per second per connection, 0 = unlimited
	MaxFrameBytes int           `koanf:"max_frame_bytes"`
}

// StoreConfig configures the in-memory store.
type StoreConfig struct {
	Shards int `koanf:"shards"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// WebConfig configures the admin HTTP server.
type WebConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// HotKeysConfig configures hot key tracking.
type HotKeysConfig struct {
	TopN   int           `koanf:"top_n"`
	Window time.Duration `koanf:"window"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:          ":6379",
			MaxClients:    10000,
			ReadTimeout:   0, // No timeout
			WriteTimeout:  0, // No timeout
			MaxFrameBytes: 512*1024*1024 + 64*1024,
		},
		Store: StoreConfig{
			Shards: 32,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Web: WebConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		HotKeys: HotKeysConfig{
			TopN:   100,
			Window: 60 * time.Second,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path and the
// environment. An empty path or a missing file leaves the defaults in place.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	// EMBERDB_SERVER_MAX_CLIENTS -> server.max_clients
	transform := func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.Replace(s, "_", ".", 1)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", transform), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := DefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Server.Addr == "":
		return errors.New("config: server.addr must not be empty")
	case c.Server.MaxClients < 0:
		return fmt.Errorf("config: server.max_clients must be >= 0, got %d", c.Server.MaxClients)
	case c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0:
		return errors.New("config: server timeouts must be >= 0")
	case c.Server.RateLimit < 0:
		return fmt.Errorf("config: server.rate_limit must be >= 0, got %g", c.Server.RateLimit)
	case c.Server.MaxFrameBytes < 0:
		return fmt.Errorf("config: server.max_frame_bytes must be >= 0, got %d", c.Server.MaxFrameBytes)
	case c.Store.Shards <= 0 || c.Store.Shards&(c.Store.Shards-1) != 0:
		return fmt.Errorf("config: store.shards must be a power of two, got %d", c.Store.Shards)
	case c.Web.Enabled && c.Web.Addr == "":
		return errors.New("config: web.addr must not be empty when web is enabled")
	case c.HotKeys.TopN < 0:
		return fmt.Errorf("config: hotkeys.top_n must be >= 0, got %d", c.HotKeys.TopN)
	case c.HotKeys.Window <= 0:
		return fmt.Errorf("config: hotkeys.window must be positive, got %s", c.HotKeys.Window)
	}
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log.level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log.format %q", c.Log.Format)
	}
	return nil
}
