package refresh

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for the presented token.
	ErrNotFound = errors.New("refresh token not found")
	// ErrExpired is returned when the record exists but is past its expiry. The record is deleted.
	ErrExpired = errors.New("refresh token expired")
	// ErrRevoked is returned when the record was explicitly revoked. A second use of a rotated
	// token surfaces here and may indicate a stolen token.
	ErrRevoked = errors.New("refresh token revoked")
	// ErrTokenCollision is returned by Store.Insert when the id is already taken.
	ErrTokenCollision = errors.New("refresh token id collision")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("refresh store unavailable")
)

// State is the lifecycle state of a record at a given instant.
type State uint8

const (
	StateActive State = iota
	StateExpired
	StateRevoked
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	case StateRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Record is one issued refresh token. Token holds the plaintext and is only populated on
// records returned from Create and Rotate; stores key records by ID, the token hash.
type Record struct {
	ID          string
	Token       string
	PrincipalID string
	Origin      string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Revoked     bool
	RevokedAt   *time.Time
}

// Expired reports whether the record is past its expiry at now.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Valid is !expired && !revoked.
func (r Record) Valid(now time.Time) bool {
	return !r.Revoked && !r.Expired(now)
}

// State derives the lifecycle state. Expired is never stored.
func (r Record) State(now time.Time) State {
	switch {
	case r.Revoked:
		return StateRevoked
	case r.Expired(now):
		return StateExpired
	default:
		return StateActive
	}
}

// RevokeStatus is the outcome of a compare-and-swap revoke.
type RevokeStatus uint8

const (
	// RevokeApplied means this caller flipped the record from active to revoked.
	RevokeApplied RevokeStatus = iota
	RevokeNotFound
	RevokeAlreadyRevoked
	RevokeExpired
)

// Store is the persistence contract for refresh tokens. Every method must be atomic on its
// own: Insert enforces the per-principal cap in the same unit as the insert, and
// RevokeIfActive is a compare-and-swap on the revoked flag so that concurrent callers on
// one record observe exactly one RevokeApplied.
type Store interface {
	Insert(ctx context.Context, rec Record, maxActive int, now time.Time) (evicted int, err error)
	Get(ctx context.Context, id string) (Record, error)
	Delete(ctx context.Context, id string) error
	RevokeIfActive(ctx context.Context, id string, now time.Time) (RevokeStatus, error)
	RevokeAll(ctx context.Context, principalID string, now time.Time) (int, error)
	DeleteAll(ctx context.Context, principalID string) (int, error)
	CountActive(ctx context.Context, principalID string, now time.Time) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int, error)
}
