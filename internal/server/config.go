package server

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Subscription store backends.
const (
	BackendFile   = "file"
	BackendPebble = "pebble"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// SubscriptionsConfig selects and locates the push subscription store.
type SubscriptionsConfig struct {
	Backend   string `yaml:"backend"`
	Path      string `yaml:"path"`
	PebbleDir string `yaml:"pebble_dir"`
}

// PushConfig holds the Web Push application server identity. Empty keys
// are replaced by a generated pair at startup.
type PushConfig struct {
	VAPIDPublicKey  string        `yaml:"vapid_public_key"`
	VAPIDPrivateKey string        `yaml:"vapid_private_key"`
	Subject         string        `yaml:"subject"`
	Timeout         time.Duration `yaml:"timeout"`
	TTL             time.Duration `yaml:"ttl"`
}

// LogConfig sets the logger level and output format.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Config holds the server configuration settings.
type Config struct {
	Port               string              `yaml:"port"`
	AllowedOrigins     []string            `yaml:"allowed_origins"`
	MaxMessageSize     int64               `yaml:"max_message_size"`
	RateLimit          RateLimitConfig     `yaml:"rate_limit"`
	PingInterval       time.Duration       `yaml:"ping_interval"`
	WriteWait          time.Duration       `yaml:"write_wait"`
	SendTimeout        time.Duration       `yaml:"send_timeout"`
	MessageCapacity    int                 `yaml:"message_capacity"`
	Subscriptions      SubscriptionsConfig `yaml:"subscriptions"`
	Push               PushConfig          `yaml:"push"`
	Log                LogConfig           `yaml:"log"`
	PresenceReportCron string              `yaml:"presence_report_cron"`
	MetricsEnabled     bool                `yaml:"metrics_enabled"`
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 64 * 1024,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		PingInterval:    30 * time.Second,
		WriteWait:       10 * time.Second,
		SendTimeout:     2 * time.Second,
		MessageCapacity: 100,
		Subscriptions: SubscriptionsConfig{
			Backend:   BackendFile,
			Path:      "data/subscriptions.json",
			PebbleDir: "data/subscriptions",
		},
		Push: PushConfig{
			Subject: "mailto:admin@example.com",
			Timeout: 5 * time.Second,
			TTL:     12 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
		PresenceReportCron: "*/5 * * * *",
		MetricsEnabled:     true,
	}
}

func sanitizeConfig(cfg Config) Config {
	d := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = d.Port
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = d.MaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = d.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = d.RateLimit.RefillInterval
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = d.PingInterval
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = d.WriteWait
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = d.SendTimeout
	}
	if cfg.MessageCapacity <= 0 {
		cfg.MessageCapacity = d.MessageCapacity
	}
	cfg.Subscriptions.Backend = strings.ToLower(strings.TrimSpace(cfg.Subscriptions.Backend))
	if cfg.Subscriptions.Backend == "" {
		cfg.Subscriptions.Backend = d.Subscriptions.Backend
	}
	if cfg.Subscriptions.Path == "" {
		cfg.Subscriptions.Path = d.Subscriptions.Path
	}
	if cfg.Subscriptions.PebbleDir == "" {
		cfg.Subscriptions.PebbleDir = d.Subscriptions.PebbleDir
	}
	if cfg.Push.Subject == "" {
		cfg.Push.Subject = d.Push.Subject
	}
	if cfg.Push.Timeout <= 0 {
		cfg.Push.Timeout = d.Push.Timeout
	}
	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = d.Push.TTL
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	cfg.PresenceReportCron = strings.TrimSpace(cfg.PresenceReportCron)
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)

	return cfg
}

// Validate reports configuration values that cannot be corrected by
// falling back to a default.
func (c *Config) Validate() error {
	var errs []error

	switch c.Subscriptions.Backend {
	case BackendFile, BackendPebble:
	default:
		errs = append(errs, fmt.Errorf("unknown subscriptions backend %q (want %s or %s)",
			c.Subscriptions.Backend, BackendFile, BackendPebble))
	}
	if c.PresenceReportCron != "" && !gronx.IsValid(c.PresenceReportCron) {
		errs = append(errs, fmt.Errorf("invalid presence report cron expression %q", c.PresenceReportCron))
	}
	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		errs = append(errs, errors.New("vapid public and private keys must be set together"))
	}
	return errors.Join(errs...)
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadConfig builds the effective configuration: defaults, then the YAML
// file at path (skipped when path is empty), then environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	cfg = sanitizeConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseDuration(interval, cfg.RateLimit.RefillInterval)
	}
	if v := os.Getenv("PING_INTERVAL"); v != "" {
		cfg.PingInterval = parseDuration(v, cfg.PingInterval)
	}
	if v := os.Getenv("SEND_TIMEOUT"); v != "" {
		cfg.SendTimeout = parseDuration(v, cfg.SendTimeout)
	}
	if v := os.Getenv("MESSAGE_CAPACITY"); v != "" {
		cfg.MessageCapacity = parseIntValue(v, cfg.MessageCapacity)
	}
	if v := os.Getenv("SUBSCRIPTIONS_BACKEND"); v != "" {
		cfg.Subscriptions.Backend = v
	}
	if v := os.Getenv("SUBSCRIPTIONS_PATH"); v != "" {
		cfg.Subscriptions.Path = v
	}
	if v := os.Getenv("SUBSCRIPTIONS_PEBBLE_DIR"); v != "" {
		cfg.Subscriptions.PebbleDir = v
	}
	if v := os.Getenv("VAPID_PUBLIC_KEY"); v != "" {
		cfg.Push.VAPIDPublicKey = v
	}
	if v := os.Getenv("VAPID_PRIVATE_KEY"); v != "" {
		cfg.Push.VAPIDPrivateKey = v
	}
	if v := os.Getenv("VAPID_SUBJECT"); v != "" {
		cfg.Push.Subject = v
	}
	if v := os.Getenv("PUSH_TIMEOUT"); v != "" {
		cfg.Push.Timeout = parseDuration(v, cfg.Push.Timeout)
	}
	if v := os.Getenv("PUSH_TTL"); v != "" {
		cfg.Push.TTL = parseDuration(v, cfg.Push.TTL)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_DEVELOPMENT"); v != "" {
		cfg.Log.Development = parseBool(v, cfg.Log.Development)
	}
	// an explicitly empty value disables the report
	if v, ok := os.LookupEnv("PRESENCE_REPORT_CRON"); ok {
		cfg.PresenceReportCron = v
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		cfg.MetricsEnabled = parseBool(v, cfg.MetricsEnabled)
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// parseMaxMessageSize accepts a byte count with an optional unit ("65536",
// "64KiB", "1MB").
func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := humanize.ParseBytes(value); err == nil && size > 0 && size <= math.MaxInt64 {
		return int64(size)
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts a Go duration ("250ms", "30s") or a bare number of
// seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

func parseBool(value string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
		return b
	}
	return defaultValue
}
