package goSession

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goSession/password"
)

// Config is the full engine configuration. Start from DefaultConfig and override fields;
// the zero Config is not valid.
type Config struct {
	JWT       JWTConfig
	Refresh   RefreshConfig
	Lockout   LockoutConfig
	Blacklist BlacklistConfig
	Sweep     SweepConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Password  PasswordConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access-token signing.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	// PrivateKey is the HMAC secret for hs256 or the PKCS#8/raw Ed25519 private key.
	PrivateKey []byte
	PublicKey  []byte
	Issuer     string
	Audience   string
	KeyID      string
	Leeway     time.Duration
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig controls refresh-token lifetime and the per-principal cap.
type RefreshConfig struct {
	TTL             time.Duration
	MaxPerPrincipal int
	RedisPrefix     string
	// RevokeAllOnReuse revokes every session of a principal when one of its revoked refresh
	// tokens is presented again. Off by default; the reuse is always reported as ErrTokenRevoked.
	RevokeAllOnReuse bool
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Duration  time.Duration
	// Window bounds how long failures accumulate. Zero means Duration.
	Window      time.Duration
	RedisPrefix string
	// FailOpen lets logins proceed when the lockout backend is unreachable.
	FailOpen bool
}

/*
====================================
BLACKLIST CONFIG
====================================
*/

type BlacklistConfig struct {
	Enabled     bool
	RedisPrefix string
	// FailOpen accepts access tokens when the blacklist cannot be consulted.
	FailOpen bool
}

/*
====================================
SWEEP CONFIG
====================================
*/

type SweepConfig struct {
	Enabled           bool
	ExpiredInterval   time.Duration
	RevokedInterval   time.Duration
	RevokedRetention  time.Duration
	BlacklistInterval time.Duration
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// PasswordConfig holds the argon2id parameters. Memory is in KiB.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults. Signing keys are left empty.
func DefaultConfig() Config {
	pw := password.DefaultConfig()
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "hs256",
		},
		Refresh: RefreshConfig{
			TTL:             7 * 24 * time.Hour,
			MaxPerPrincipal: 5,
			RedisPrefix:     "grt",
		},
		Lockout: LockoutConfig{
			Enabled:     true,
			Threshold:   5,
			Duration:    30 * time.Minute,
			RedisPrefix: "glo",
		},
		Blacklist: BlacklistConfig{
			Enabled:     true,
			RedisPrefix: "gbl",
		},
		Sweep: SweepConfig{
			Enabled:           true,
			ExpiredInterval:   time.Hour,
			RevokedInterval:   24 * time.Hour,
			RevokedRetention:  30 * 24 * time.Hour,
			BlacklistInterval: 10 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Password: PasswordConfig{
			Memory:      pw.Memory,
			Time:        pw.Time,
			Parallelism: pw.Parallelism,
			SaltLength:  pw.SaltLength,
			KeyLength:   pw.KeyLength,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c PasswordConfig) argon2() password.Config {
	return password.Config{
		Memory:      c.Memory,
		Time:        c.Time,
		Parallelism: c.Parallelism,
		SaltLength:  c.SaltLength,
		KeyLength:   c.KeyLength,
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("hs256 requires PrivateKey")
		}
	case "ed25519":
		if len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
	default:
		return fmt.Errorf("unsupported JWT signing method %q", c.JWT.SigningMethod)
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Refresh
	if c.Refresh.TTL <= 0 {
		return errors.New("Refresh TTL must be > 0")
	}
	if c.Refresh.MaxPerPrincipal <= 0 {
		return errors.New("Refresh MaxPerPrincipal must be > 0")
	}
	if c.Refresh.TTL <= c.JWT.AccessTTL {
		return errors.New("Refresh TTL must exceed JWT AccessTTL")
	}

	// Lockout
	if c.Lockout.Enabled {
		if c.Lockout.Threshold <= 0 {
			return errors.New("Lockout Threshold must be > 0")
		}
		if c.Lockout.Duration <= 0 {
			return errors.New("Lockout Duration must be > 0")
		}
		if c.Lockout.Window < 0 {
			return errors.New("Lockout Window must be >= 0")
		}
	}

	// Sweep
	if c.Sweep.Enabled {
		if c.Sweep.ExpiredInterval <= 0 || c.Sweep.RevokedInterval <= 0 || c.Sweep.BlacklistInterval <= 0 {
			return errors.New("Sweep intervals must be > 0")
		}
		if c.Sweep.RevokedRetention <= 0 {
			return errors.New("Sweep RevokedRetention must be > 0")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	// Password
	if err := c.Password.argon2().Validate(); err != nil {
		return err
	}

	return nil
}

// LintWarning is a valid but risky setting.
type LintWarning struct {
	Code    string
	Message string
}

// Lint returns warnings for settings that weaken the secure defaults.
func (c *Config) Lint() []LintWarning {
	var ws []LintWarning
	add := func(code, msg string) {
		ws = append(ws, LintWarning{Code: code, Message: msg})
	}

	if c.JWT.AccessTTL > time.Hour {
		add("access_ttl_long", "access tokens live longer than 1h; logout relies on the blacklist for that long")
	}
	if c.JWT.Leeway > 30*time.Second {
		add("leeway_large", "JWT leeway above 30s")
	}
	if c.Refresh.TTL > 30*24*time.Hour {
		add("refresh_ttl_long", "refresh tokens live longer than 30 days")
	}
	if !c.Lockout.Enabled {
		add("lockout_disabled", "login lockout is disabled")
	}
	if c.Lockout.Enabled && c.Lockout.FailOpen {
		add("lockout_fail_open", "lockout fails open when its backend is down")
	}
	if !c.Blacklist.Enabled {
		add("blacklist_disabled", "logout does not revoke access tokens")
	}
	if c.Blacklist.Enabled && c.Blacklist.FailOpen {
		add("blacklist_fail_open", "blacklist fails open when its backend is down")
	}
	if c.Sweep.Enabled && c.Sweep.RevokedRetention < c.Refresh.TTL {
		add("revoked_retention_short", "revoked tokens are purged before they would expire; replay then reports invalid instead of revoked")
	}
	return ws
}
