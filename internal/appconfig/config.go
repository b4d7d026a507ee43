// Package appconfig loads the sessiond configuration from a YAML file, a .env file and the
// process environment.
package appconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/middleware"
)

const minSigningKeyLen = 32

// Config is the sessiond configuration file.
type Config struct {
	Listen          string        `yaml:"listen"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// TrustedProxies lists addresses or CIDRs whose X-Forwarded-For is honored.
	TrustedProxies []string `yaml:"trusted_proxies"`

	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Audit    AuditConfig    `yaml:"audit"`
	Throttle ThrottleConfig `yaml:"throttle"`
}

type RedisConfig struct {
	// Addr empty starts an in-process miniredis.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig selects the principal and refresh-token database. A DSN starting with
// "postgres://" or "host=" uses postgres; anything else is a sqlite file.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type AuthConfig struct {
	SigningKey string        `yaml:"signing_key"`
	Issuer     string        `yaml:"issuer"`
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
	// MaxSessions caps concurrently valid refresh tokens per principal.
	MaxSessions      int  `yaml:"max_sessions"`
	RevokeAllOnReuse bool `yaml:"revoke_all_on_reuse"`

	LockoutThreshold int           `yaml:"lockout_threshold"`
	LockoutDuration  time.Duration `yaml:"lockout_duration"`
	LockoutFailOpen  bool          `yaml:"lockout_fail_open"`

	BlacklistFailOpen bool `yaml:"blacklist_fail_open"`
}

type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
}

// ThrottleConfig bounds login and refresh requests per client address.
type ThrottleConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// Default returns the configuration used for keys the file leaves out.
func Default() Config {
	engine := goSession.DefaultConfig()
	return Config{
		Listen:          ":8080",
		LogLevel:        "info",
		ShutdownTimeout: 10 * time.Second,
		Database: DatabaseConfig{
			DSN: "file:sessiond.db",
		},
		Auth: AuthConfig{
			Issuer:           "sessiond",
			AccessTTL:        engine.JWT.AccessTTL,
			RefreshTTL:       engine.Refresh.TTL,
			MaxSessions:      engine.Refresh.MaxPerPrincipal,
			LockoutThreshold: engine.Lockout.Threshold,
			LockoutDuration:  engine.Lockout.Duration,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: engine.Audit.BufferSize,
		},
		Throttle: ThrottleConfig{
			Enabled:  true,
			Requests: 60,
			Window:   time.Minute,
		},
	}
}

// Validate checks the settings the engine does not check itself.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address required")
	}
	if len(c.Auth.SigningKey) < minSigningKeyLen {
		return fmt.Errorf("auth.signing_key must be at least %d bytes", minSigningKeyLen)
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown_timeout must be > 0")
	}
	if c.Throttle.Enabled && (c.Throttle.Requests <= 0 || c.Throttle.Window <= 0) {
		return errors.New("throttle.requests and throttle.window must be > 0")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := middleware.NewIPResolver(c.TrustedProxies...); err != nil {
		return err
	}
	cfg := c.EngineConfig()
	return cfg.Validate()
}

// EngineConfig maps the file onto a goSession.Config.
func (c *Config) EngineConfig() goSession.Config {
	cfg := goSession.DefaultConfig()
	cfg.JWT.PrivateKey = []byte(c.Auth.SigningKey)
	cfg.JWT.Issuer = c.Auth.Issuer
	cfg.JWT.AccessTTL = c.Auth.AccessTTL

	cfg.Refresh.TTL = c.Auth.RefreshTTL
	cfg.Refresh.MaxPerPrincipal = c.Auth.MaxSessions
	cfg.Refresh.RevokeAllOnReuse = c.Auth.RevokeAllOnReuse

	cfg.Lockout.Threshold = c.Auth.LockoutThreshold
	cfg.Lockout.Duration = c.Auth.LockoutDuration
	cfg.Lockout.FailOpen = c.Auth.LockoutFailOpen

	cfg.Blacklist.FailOpen = c.Auth.BlacklistFailOpen

	cfg.Audit.Enabled = c.Audit.Enabled
	if c.Audit.BufferSize > 0 {
		cfg.Audit.BufferSize = c.Audit.BufferSize
	}

	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

// SlogLevel returns the configured log level. Unknown names fall back to info.
func (c *Config) SlogLevel() slog.Level {
	lvl, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func parseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log_level %q", name)
}

// UsesPostgres reports whether the DSN names a postgres database.
func (d DatabaseConfig) UsesPostgres() bool {
	return strings.HasPrefix(d.DSN, "postgres://") ||
		strings.HasPrefix(d.DSN, "postgresql://") ||
		strings.HasPrefix(d.DSN, "host=")
}
