package goSession

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidCredentials is returned for any failed login. It does not reveal whether the
	// username exists.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is matched by every *AccountLockedError.
	ErrAccountLocked = errors.New("account locked")
	ErrTokenInvalid  = errors.New("invalid token")
	// ErrTokenExpired is returned for a well-formed token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked is returned for a revoked refresh token or a blacklisted access token.
	// On refresh it may indicate token theft.
	ErrTokenRevoked = errors.New("token revoked")
	ErrConflict     = errors.New("username or email already registered")
	// ErrInvalidRequest is returned when required request fields are empty.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrLockoutUnavailable is returned when the lockout backend fails and fail-open is off.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
	// ErrBlacklistUnavailable is returned when the blacklist backend fails and fail-open is off.
	ErrBlacklistUnavailable = errors.New("blacklist backend unavailable")
	// ErrSessionStoreUnavailable wraps refresh-store backend failures.
	ErrSessionStoreUnavailable = errors.New("session store unavailable")

	// ErrPrincipalNotFound must be returned by PrincipalStore lookups for a missing principal.
	ErrPrincipalNotFound = errors.New("principal not found")

	ErrEngineNotReady = errors.New("engine not initialized")
)

// AccountLockedError reports a locked principal reference and how long the lock lasts.
type AccountLockedError struct {
	Remaining time.Duration
	// NewlyLocked is set when the current attempt triggered the lock.
	NewlyLocked bool
}

func (e *AccountLockedError) Error() string {
	minutes := int(math.Ceil(e.Remaining.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	if e.NewlyLocked {
		return fmt.Sprintf("account locked after too many failed attempts; try again in %d minute(s)", minutes)
	}
	return fmt.Sprintf("account locked; try again in %d minute(s)", minutes)
}

func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// RetryAfter returns the lock duration rounded up to whole seconds.
func (e *AccountLockedError) RetryAfter() time.Duration {
	if r := e.Remaining.Truncate(time.Second); r < e.Remaining {
		return r + time.Second
	}
	return e.Remaining
}
