package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds limiter tuning parameters.
type Config struct {
	// Limit is the number of requests allowed per Window.
	Limit  int
	Window time.Duration
	Prefix string
}

// Limiter enforces per-key request budgets using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Count      int64
	Remaining  int
	RetryAfter time.Duration
}

const hitScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

var hitLua = redis.NewScript(hitScript)

// New returns a Limiter backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) (*Limiter, error) {
	if redisClient == nil {
		return nil, errors.New("rate limiter requires redis client")
	}
	if cfg.Limit <= 0 || cfg.Window <= 0 {
		return nil, errors.New("rate limit and window must be > 0")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "grl"
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}, nil
}

func (l *Limiter) key(scope, id string) string {
	return l.config.Prefix + ":" + scope + ":" + id
}

// Allow records one request for (scope, id). It returns ErrRateLimited together with the
// decision once the window budget is exceeded.
func (l *Limiter) Allow(ctx context.Context, scope, id string) (Decision, error) {
	res, err := hitLua.Run(ctx, l.redis, []string{l.key(scope, id)}, l.config.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply", ErrRedisUnavailable)
	}

	d := Decision{
		Count:      res[0],
		RetryAfter: time.Duration(res[1]) * time.Millisecond,
	}
	if remaining := int64(l.config.Limit) - d.Count; remaining > 0 {
		d.Remaining = int(remaining)
	}
	if d.Count > int64(l.config.Limit) {
		return d, ErrRateLimited
	}
	return d, nil
}

// Reset clears the counter for (scope, id).
func (l *Limiter) Reset(ctx context.Context, scope, id string) error {
	if err := l.redis.Del(ctx, l.key(scope, id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Limit returns the configured per-window budget.
func (l *Limiter) Limit() int {
	return l.config.Limit
}
