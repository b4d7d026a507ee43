package blacklist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores one key per jti whose TTL runs out at the token expiry, so Redis evicts entries
// on its own and Sweep has nothing to do.
type Redis struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedis returns a Redis-backed blacklist.
func NewRedis(client redis.UniversalClient, prefix string, opts ...Option) *Redis {
	if prefix == "" {
		prefix = "gbl"
	}
	o := buildOptions(opts)
	return &Redis{redis: client, prefix: prefix, now: o.now}
}

func (b *Redis) key(jti string) string {
	return b.prefix + ":" + jti
}

// Add implements Blacklist.
func (b *Redis) Add(ctx context.Context, jti string, expiry time.Time) error {
	if jti == "" {
		return errors.New("jti required")
	}
	ttl := expiry.Sub(b.now())
	if ttl <= 0 {
		return nil
	}
	err := b.redis.Set(ctx, b.key(jti), "1", ttl).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Contains implements Blacklist.
func (b *Redis) Contains(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	n, err := b.redis.Exists(ctx, b.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n == 1, nil
}

// Sweep implements Blacklist. Redis expires keys itself.
func (b *Redis) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}
