package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvSigningKey = "SESSIOND_SIGNING_KEY"
	EnvRedisAddr  = "SESSIOND_REDIS_ADDR"
	EnvDBDSN      = "SESSIOND_DB_DSN"
	EnvListen     = "SESSIOND_LISTEN"
)

// Loader reads a Config. The zero value is not usable; call NewLoader.
type Loader struct {
	useDotEnv bool
	lookupEnv func(string) (string, bool)
}

// NewLoader returns a loader that reads .env from the working directory and then the
// process environment.
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		lookupEnv: os.LookupEnv,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading the environment.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithLookupEnv replaces os.LookupEnv.
func (l *Loader) WithLookupEnv(fn func(string) (string, bool)) *Loader {
	if fn != nil {
		l.lookupEnv = fn
	}
	return l
}

// Load reads path over Default, applies environment overrides and validates the result.
// An empty path skips the file. A missing .env is not an error.
func (l *Loader) Load(path string) (*Config, error) {
	if l.useDotEnv {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	l.applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (l *Loader) applyEnv(cfg *Config) {
	if v, ok := l.lookupEnv(EnvSigningKey); ok && v != "" {
		cfg.Auth.SigningKey = v
	}
	if v, ok := l.lookupEnv(EnvRedisAddr); ok {
		cfg.Redis.Addr = v
	}
	if v, ok := l.lookupEnv(EnvDBDSN); ok && v != "" {
		cfg.Database.DSN = v
	}
	if v, ok := l.lookupEnv(EnvListen); ok && v != "" {
		cfg.Listen = v
	}
}

// Load is NewLoader().Load(path).
func Load(path string) (*Config, error) {
	return NewLoader().Load(path)
}
