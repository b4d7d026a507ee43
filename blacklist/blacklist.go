// Package blacklist holds access-token ids (jti) that must be rejected before their
// embedded expiry. An entry carries no meaning once that expiry passes, so every backend
// treats expired entries as absent.
package blacklist

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps backend failures. Callers must treat it as "unknown", not as "absent".
var ErrUnavailable = errors.New("blacklist unavailable")

// Blacklist is safe for concurrent use. Contains is on the hot path of every
// authenticated request.
type Blacklist interface {
	// Add records jti until expiry. An expiry at or before now is a no-op.
	Add(ctx context.Context, jti string, expiry time.Time) error
	Contains(ctx context.Context, jti string) (bool, error)
	// Sweep drops entries expired at now and returns how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Option configures a backend.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides time.Now for TTL and expiry checks. It must be the clock that
// stamped the tokens' expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
