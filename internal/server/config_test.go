package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, int64(64*1024), cfg.MaxMessageSize)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, 100, cfg.MessageCapacity)
	assert.Equal(t, BackendFile, cfg.Subscriptions.Backend)
	assert.True(t, cfg.MetricsEnabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, https://b.example")
	t.Setenv("MAX_MESSAGE_SIZE", "128KiB")
	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2")
	t.Setenv("PING_INTERVAL", "15s")
	t.Setenv("MESSAGE_CAPACITY", "not-a-number")
	t.Setenv("METRICS_ENABLED", "false")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, []string{"http://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(128*1024), cfg.MaxMessageSize)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 15*time.Second, cfg.PingInterval)
	assert.Equal(t, 100, cfg.MessageCapacity)
	assert.False(t, cfg.MetricsEnabled)
}

func TestLoadConfigLayersFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: ":7000"
ping_interval: 45s
message_capacity: 20
subscriptions:
  backend: pebble
  pebble_dir: /tmp/subs
push:
  timeout: 3s
presence_report_cron: "0 * * * *"
`), 0o644))
	t.Setenv("SERVER_PORT", ":7100")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":7100", cfg.Port)
	assert.Equal(t, 45*time.Second, cfg.PingInterval)
	assert.Equal(t, 20, cfg.MessageCapacity)
	assert.Equal(t, BackendPebble, cfg.Subscriptions.Backend)
	assert.Equal(t, "/tmp/subs", cfg.Subscriptions.PebbleDir)
	assert.Equal(t, 3*time.Second, cfg.Push.Timeout)
	assert.Equal(t, "0 * * * *", cfg.PresenceReportCron)
	// untouched keys keep their defaults
	assert.Equal(t, 5, cfg.RateLimit.Burst)
}

func TestLoadConfigEmptyCronDisablesReport(t *testing.T) {
	t.Setenv("PRESENCE_REPORT_CRON", "")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Empty(t, cfg.PresenceReportCron)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("port: [unclosed"), 0o644))
	_, err = LoadConfig(bad)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Subscriptions.Backend = "redis" }},
		{"bad cron", func(c *Config) { c.PresenceReportCron = "every minute" }},
		{"half vapid pair", func(c *Config) { c.Push.VAPIDPublicKey = "pub" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseDuration("3", time.Minute))
	assert.Equal(t, 250*time.Millisecond, parseDuration("250ms", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("0", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("-5s", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("soon", time.Minute))
}
