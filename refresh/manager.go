package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/MrEthical07/goSession/internal"
)

const (
	// DefaultTTL is the lifetime of a refresh token.
	DefaultTTL = 7 * 24 * time.Hour
	// DefaultMaxPerPrincipal caps concurrently valid tokens per principal.
	DefaultMaxPerPrincipal = 5
	// DefaultRevokedRetention bounds how long revoked rows are kept for reuse detection.
	DefaultRevokedRetention = 30 * 24 * time.Hour

	// MaxOriginLen bounds the stored origin. Longer values are truncated.
	MaxOriginLen = 64

	createAttempts = 3
)

// Config controls token lifetime and the per-principal cap.
type Config struct {
	TTL             time.Duration
	MaxPerPrincipal int
	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// Manager implements creation, verification, rotation and revocation on top of a Store.
// It holds no mutable state of its own.
type Manager struct {
	store Store
	ttl   time.Duration
	max   int
	now   func() time.Time
}

// NewManager returns a Manager over store. Zero values in cfg take the defaults.
func NewManager(store Store, cfg Config) (*Manager, error) {
	if store == nil {
		return nil, errors.New("refresh store required")
	}
	if cfg.TTL < 0 || cfg.MaxPerPrincipal < 0 {
		return nil, errors.New("invalid refresh configuration")
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxPerPrincipal == 0 {
		cfg.MaxPerPrincipal = DefaultMaxPerPrincipal
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store: store,
		ttl:   cfg.TTL,
		max:   cfg.MaxPerPrincipal,
		now:   func() time.Time { return now().UTC().Truncate(time.Microsecond) },
	}, nil
}

// TTL returns the configured refresh-token lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Create issues a new token for principalID. If the principal already holds the maximum
// number of valid tokens, the oldest are revoked until one slot is free.
func (m *Manager) Create(ctx context.Context, principalID, origin string) (Record, error) {
	if principalID == "" {
		return Record{}, errors.New("principal id required")
	}

	origin = clampOrigin(origin)
	for attempt := 0; attempt < createAttempts; attempt++ {
		token, err := internal.NewRefreshToken()
		if err != nil {
			return Record{}, fmt.Errorf("generate refresh token: %w", err)
		}

		now := m.now()
		rec := Record{
			ID:          internal.HashToken(token),
			Token:       token,
			PrincipalID: principalID,
			Origin:      origin,
			CreatedAt:   now,
			ExpiresAt:   now.Add(m.ttl),
		}

		if _, err := m.store.Insert(ctx, rec, m.max, now); err != nil {
			if errors.Is(err, ErrTokenCollision) {
				continue
			}
			return Record{}, err
		}
		return rec, nil
	}

	return Record{}, ErrTokenCollision
}

// Verify returns the live record for token. An expired record is deleted and reported as
// ErrExpired; a revoked record is kept and reported as ErrRevoked.
func (m *Manager) Verify(ctx context.Context, token string) (Record, error) {
	if err := internal.CheckRefreshToken(token); err != nil {
		return Record{}, ErrNotFound
	}

	id := internal.HashToken(token)
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}

	switch rec.State(m.now()) {
	case StateExpired:
		if err := m.store.Delete(ctx, id); err != nil {
			return Record{}, err
		}
		return Record{}, ErrExpired
	case StateRevoked:
		return Record{}, ErrRevoked
	}

	return rec, nil
}

// Lookup returns the stored record for token in whatever state it is in, without the
// side effects of Verify. Callers use it to attribute a rejected token to its principal.
func (m *Manager) Lookup(ctx context.Context, token string) (Record, error) {
	if err := internal.CheckRefreshToken(token); err != nil {
		return Record{}, ErrNotFound
	}
	return m.store.Get(ctx, internal.HashToken(token))
}

// Rotate verifies token, revokes it and creates a replacement for the same principal.
// Of two concurrent rotations of one token exactly one succeeds; the other gets ErrRevoked.
func (m *Manager) Rotate(ctx context.Context, token, origin string) (Record, error) {
	old, err := m.Verify(ctx, token)
	if err != nil {
		return Record{}, err
	}

	status, err := m.store.RevokeIfActive(ctx, old.ID, m.now())
	if err != nil {
		return Record{}, err
	}
	switch status {
	case RevokeApplied:
	case RevokeAlreadyRevoked:
		return Record{}, ErrRevoked
	case RevokeExpired:
		if err := m.store.Delete(ctx, old.ID); err != nil {
			return Record{}, err
		}
		return Record{}, ErrExpired
	default:
		return Record{}, ErrNotFound
	}

	return m.Create(ctx, old.PrincipalID, origin)
}

// Revoke marks token revoked. Missing, expired and already-revoked tokens are a no-op.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if err := internal.CheckRefreshToken(token); err != nil {
		return nil
	}
	_, err := m.store.RevokeIfActive(ctx, internal.HashToken(token), m.now())
	return err
}

// RevokeAll revokes every unrevoked token owned by principalID and returns how many changed.
func (m *Manager) RevokeAll(ctx context.Context, principalID string) (int, error) {
	return m.store.RevokeAll(ctx, principalID, m.now())
}

// DeleteAll physically removes every token owned by principalID.
func (m *Manager) DeleteAll(ctx context.Context, principalID string) (int, error) {
	return m.store.DeleteAll(ctx, principalID)
}

// ActiveCount returns the number of valid tokens owned by principalID.
func (m *Manager) ActiveCount(ctx context.Context, principalID string) (int, error) {
	return m.store.CountActive(ctx, principalID, m.now())
}

// SweepExpired deletes every record whose expiry is at or before now.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	return m.store.DeleteExpired(ctx, now.UTC())
}

// SweepOldRevoked deletes revoked records whose revocation is older than retention.
func (m *Manager) SweepOldRevoked(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	if retention <= 0 {
		retention = DefaultRevokedRetention
	}
	return m.store.DeleteRevokedBefore(ctx, now.UTC().Add(-retention))
}

func clampOrigin(origin string) string {
	if len(origin) <= MaxOriginLen {
		return origin
	}
	cut := MaxOriginLen
	for cut > 0 && !utf8.RuneStart(origin[cut]) {
		cut--
	}
	return origin[:cut]
}
