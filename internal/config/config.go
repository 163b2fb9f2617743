// Package config loads the application core configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Supabase  SupabaseConfig  `yaml:"supabase"`
	Flags     FlagsConfig     `yaml:"flags"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP surface exposed to UI collaborators.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// SupabaseConfig configures the identity backend connection.
type SupabaseConfig struct {
	URL     string `yaml:"url"`
	AnonKey string `yaml:"anon_key"`
	// SessionFile persists the current session tokens across restarts.
	SessionFile string `yaml:"session_file"`
	// ProfilesTable is the PostgREST table holding user profiles.
	ProfilesTable string `yaml:"profiles_table"`
	// ProbeTable is queried by the connectivity check.
	ProbeTable string `yaml:"probe_table"`
}

// FlagsConfig selects the durable flag store backend.
type FlagsConfig struct {
	// Backend is "file" or "redis".
	Backend string `yaml:"backend"`
	// File is the path of the file-backed store.
	File string `yaml:"file"`
	// RedisAddr and RedisDB configure the redis backend.
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	// KeyPrefix namespaces flag keys per device/installation.
	KeyPrefix string `yaml:"key_prefix"`
}

// BootstrapConfig tunes the session bootstrap timings.
type BootstrapConfig struct {
	// Route is the deep link the application was launched with.
	Route string `yaml:"route"`
	// RetryDelay is the wait before the single session-resolution retry.
	RetryDelay time.Duration `yaml:"retry_delay"`
	// SignOutDebounce is the wait before re-verifying a SIGNED_OUT event.
	SignOutDebounce time.Duration `yaml:"sign_out_debounce"`
	// GraceWindow is the final wait before committing to the auth view.
	GraceWindow time.Duration `yaml:"grace_window"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 8790},
		Supabase: SupabaseConfig{
			SessionFile:   "session.json",
			ProfilesTable: "profiles",
			ProbeTable:    "requests",
		},
		Flags: FlagsConfig{
			Backend:   "file",
			File:      "flags.json",
			KeyPrefix: "appcore",
		},
		Bootstrap: BootstrapConfig{
			Route:           "/",
			RetryDelay:      500 * time.Millisecond,
			SignOutDebounce: 100 * time.Millisecond,
			GraceWindow:     800 * time.Millisecond,
		},
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stderr"},
	}
}

// Load reads configuration from path, falling back to defaults for any
// field the file leaves unset. Environment variables override the
// Supabase connection settings.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("SUPABASE_URL"); v != "" {
		cfg.Supabase.URL = v
	}
	if v := os.Getenv("SUPABASE_ANON_KEY"); v != "" {
		cfg.Supabase.AnonKey = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	switch c.Flags.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("unknown flags backend %q", c.Flags.Backend)
	}
	if c.Flags.Backend == "redis" && c.Flags.RedisAddr == "" {
		return fmt.Errorf("flags backend redis requires redis_addr")
	}
	return nil
}
