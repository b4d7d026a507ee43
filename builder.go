package goSession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MrEthical07/goSession/blacklist"
	"github.com/MrEthical07/goSession/internal"
	internalaudit "github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/internal/sweep"
	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/lockout"
	"github.com/MrEthical07/goSession/password"
	"github.com/MrEthical07/goSession/refresh"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Builder assembles an Engine. A Builder is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	db     *gorm.DB

	principals   PrincipalStore
	hasher       PasswordHasher
	refreshStore refresh.Store
	blacklist    blacklist.Blacklist
	auditSink    AuditSink
	logger       *slog.Logger
	now          func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing lockout, the blacklist and, unless WithSQL or
// WithRefreshStore is used, refresh tokens.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithSQL stores refresh tokens in db. The refresh_tokens table is migrated in Build.
func (b *Builder) WithSQL(db *gorm.DB) *Builder {
	b.db = db
	return b
}

func (b *Builder) WithRefreshStore(store refresh.Store) *Builder {
	b.refreshStore = store
	return b
}

// WithBlacklist overrides the Redis blacklist, for example with blacklist.NewMemory(). A
// custom clock set with WithClock must be passed to it with blacklist.WithClock.
func (b *Builder) WithBlacklist(bl blacklist.Blacklist) *Builder {
	b.blacklist = bl
	return b
}

func (b *Builder) WithPrincipalStore(store PrincipalStore) *Builder {
	b.principals = store
	return b
}

// WithPasswordHasher replaces the argon2id hasher built from Config.Password.
func (b *Builder) WithPasswordHasher(h PasswordHasher) *Builder {
	b.hasher = h
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the engine logger. Without it the engine logs nothing.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for token timestamps and state checks.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, wires every component and starts the sweeper.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.principals == nil {
		return nil, errors.New("principal store required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- REFRESH STORE --------
	store := b.refreshStore
	switch {
	case store != nil:
	case b.db != nil:
		sqlStore, err := refresh.NewSQLStore(b.db)
		if err != nil {
			return nil, err
		}
		if err := sqlStore.Migrate(context.Background()); err != nil {
			return nil, fmt.Errorf("migrate refresh tokens: %w", err)
		}
		store = sqlStore
	case b.redis != nil:
		store = refresh.NewRedisStore(b.redis, cfg.Refresh.RedisPrefix)
	default:
		return nil, errors.New("refresh store requires redis client or sql database")
	}

	refreshManager, err := refresh.NewManager(store, refresh.Config{
		TTL:             cfg.Refresh.TTL,
		MaxPerPrincipal: cfg.Refresh.MaxPerPrincipal,
		Now:             now,
	})
	if err != nil {
		return nil, err
	}

	// -------- LOCKOUT --------
	if cfg.Lockout.Enabled && b.redis == nil {
		return nil, errors.New("lockout requires redis client")
	}
	guard, err := lockout.NewGuard(b.redis, lockout.Config{
		Enabled:   cfg.Lockout.Enabled,
		Threshold: cfg.Lockout.Threshold,
		Duration:  cfg.Lockout.Duration,
		Window:    cfg.Lockout.Window,
		Prefix:    cfg.Lockout.RedisPrefix,
	})
	if err != nil {
		return nil, err
	}

	// -------- BLACKLIST --------
	var bl blacklist.Blacklist
	if cfg.Blacklist.Enabled {
		switch {
		case b.blacklist != nil:
			bl = b.blacklist
		case b.redis != nil:
			bl = blacklist.NewRedis(b.redis, cfg.Blacklist.RedisPrefix, blacklist.WithClock(now))
		default:
			return nil, errors.New("blacklist requires redis client or WithBlacklist")
		}
	}

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	// -------- PASSWORDS --------
	hasher := b.hasher
	if hasher == nil {
		ph, err := password.NewArgon2(cfg.Password.argon2())
		if err != nil {
			return nil, err
		}
		hasher = ph
	}
	dummy, err := dummyHash(hasher)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy password hash: %w", err)
	}

	engine := &Engine{
		config:     cloneConfig(cfg),
		jwt:        jm,
		refresh:    refreshManager,
		lockout:    guard,
		blacklist:  bl,
		principals: b.principals,
		hasher:     hasher,
		dummyHash:  dummy,
		logger:     logger,
		now:        now,
		metrics:    NewMetrics(cfg.Metrics),
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
	}

	// -------- SWEEPER --------
	if cfg.Sweep.Enabled {
		engine.sweeper = sweep.NewRunner(logger)
		for _, t := range engine.sweepTasks() {
			if err := engine.sweeper.Add(t); err != nil {
				engine.Close()
				return nil, err
			}
		}
		engine.sweeper.Start(context.Background())
	}

	b.built = true
	return engine, nil
}

func dummyHash(h PasswordHasher) (string, error) {
	secret, err := internal.NewRefreshToken()
	if err != nil {
		return "", err
	}
	return h.Hash(secret)
}
