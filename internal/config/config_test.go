package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8790, cfg.Server.Port)
	assert.Equal(t, "file", cfg.Flags.Backend)
	assert.Equal(t, 500*time.Millisecond, cfg.Bootstrap.RetryDelay)
	assert.Equal(t, 100*time.Millisecond, cfg.Bootstrap.SignOutDebounce)
	assert.Equal(t, 800*time.Millisecond, cfg.Bootstrap.GraceWindow)
	require.NoError(t, cfg.validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server, cfg.Server)
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appcore.yaml")
	data := `
server:
  port: 9000
bootstrap:
  route: /marketplace
  grace_window: 1s
flags:
  backend: redis
  redis_addr: localhost:6379
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/marketplace", cfg.Bootstrap.Route)
	assert.Equal(t, time.Second, cfg.Bootstrap.GraceWindow)
	assert.Equal(t, "redis", cfg.Flags.Backend)
	// Untouched fields keep their defaults.
	assert.Equal(t, 500*time.Millisecond, cfg.Bootstrap.RetryDelay)
}

func TestLoadEnvOverridesSupabase(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://proj.supabase.co")
	t.Setenv("SUPABASE_ANON_KEY", "anon-key")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://proj.supabase.co", cfg.Supabase.URL)
	assert.Equal(t, "anon-key", cfg.Supabase.AnonKey)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 0 }},
		{"unknown flags backend", func(c *Config) { c.Flags.Backend = "etcd" }},
		{"redis without addr", func(c *Config) { c.Flags.Backend = "redis"; c.Flags.RedisAddr = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.validate())
		})
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [nope"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
