// Package lockout throttles brute-force logins per submitted principal reference (the raw
// username). After Threshold consecutive failures inside Window the reference is locked
// for Duration; any success clears both the counter and the lock.
//
// Counters live in Redis and every transition runs as a single Lua script, so concurrent
// failures from many connections never under-count.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultThreshold is the number of failures that triggers a lock.
	DefaultThreshold = 5
	// DefaultDuration is how long a triggered lock lasts.
	DefaultDuration = 30 * time.Minute
)

// ErrUnavailable indicates the lockout backend is unreachable. Callers must not read it
// as "not locked".
var ErrUnavailable = errors.New("lockout backend unavailable")

// Config holds the lockout policy.
type Config struct {
	Enabled   bool
	Threshold int
	Duration  time.Duration
	// Window bounds how long failures accumulate before the counter resets on its own.
	// Zero means Duration.
	Window time.Duration
	Prefix string
}

// Result describes the state after a recorded failure.
type Result struct {
	Failures int
	Locked   bool
	// NewlyLocked is true only for the failure that crossed the threshold.
	NewlyLocked bool
	Remaining   time.Duration
}

const loginFailedScript = `
local pttl = redis.call("PTTL", KEYS[2])
if pttl > 0 then
  return {tonumber(redis.call("GET", KEYS[1]) or "0"), 1, 0, pttl}
end

local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[3])
end
if count >= tonumber(ARGV[1]) then
  redis.call("SET", KEYS[2], "1", "PX", ARGV[2])
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return {count, 1, 1, tonumber(ARGV[2])}
end
return {count, 0, 0, 0}
`

var loginFailedLua = redis.NewScript(loginFailedScript)

// Guard tracks failures and locks.
type Guard struct {
	redis  redis.UniversalClient
	config Config
}

// NewGuard validates cfg and returns a Guard. Zero threshold and duration take the defaults.
func NewGuard(client redis.UniversalClient, cfg Config) (*Guard, error) {
	if cfg.Enabled && client == nil {
		return nil, errors.New("lockout requires redis client")
	}
	if cfg.Threshold < 0 || cfg.Duration < 0 || cfg.Window < 0 {
		return nil, errors.New("invalid lockout configuration")
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Duration == 0 {
		cfg.Duration = DefaultDuration
	}
	if cfg.Window == 0 {
		cfg.Window = cfg.Duration
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "glo"
	}
	return &Guard{redis: client, config: cfg}, nil
}

// Threshold returns the configured failure threshold.
func (g *Guard) Threshold() int {
	return g.config.Threshold
}

// Both keys share a hash tag so the script stays on one cluster slot.
func (g *Guard) failKey(ref string) string {
	return g.config.Prefix + ":{" + ref + "}:f"
}

func (g *Guard) lockKey(ref string) string {
	return g.config.Prefix + ":{" + ref + "}:l"
}

func (g *Guard) active(ref string) bool {
	return g != nil && g.config.Enabled && ref != ""
}

// IsLocked reports whether ref currently has a lock in the future.
func (g *Guard) IsLocked(ctx context.Context, ref string) (bool, error) {
	_, locked, err := g.RemainingLockout(ctx, ref)
	return locked, err
}

// RemainingLockout returns the time left on the lock and whether one exists.
func (g *Guard) RemainingLockout(ctx context.Context, ref string) (time.Duration, bool, error) {
	if !g.active(ref) {
		return 0, false, nil
	}
	ttl, err := g.redis.PTTL(ctx, g.lockKey(ref)).Result()
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ttl <= 0 {
		return 0, false, nil
	}
	return ttl, true, nil
}

// LoginFailed records one failure. While locked the counter is frozen.
func (g *Guard) LoginFailed(ctx context.Context, ref string) (Result, error) {
	if !g.active(ref) {
		return Result{}, nil
	}

	vals, err := loginFailedLua.Run(ctx, g.redis,
		[]string{g.failKey(ref), g.lockKey(ref)},
		g.config.Threshold,
		g.config.Duration.Milliseconds(),
		g.config.Window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(vals) != 4 {
		return Result{}, fmt.Errorf("%w: unexpected script reply", ErrUnavailable)
	}

	return Result{
		Failures:    int(vals[0]),
		Locked:      vals[1] == 1,
		NewlyLocked: vals[2] == 1,
		Remaining:   time.Duration(vals[3]) * time.Millisecond,
	}, nil
}

// LoginSucceeded clears the counter and any lock for ref.
func (g *Guard) LoginSucceeded(ctx context.Context, ref string) error {
	if !g.active(ref) {
		return nil
	}
	if err := g.redis.Del(ctx, g.failKey(ref), g.lockKey(ref)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Unlock is an administrative reset with the same effect as a success.
func (g *Guard) Unlock(ctx context.Context, ref string) error {
	return g.LoginSucceeded(ctx, ref)
}

// Failures returns the current consecutive-failure count for ref.
func (g *Guard) Failures(ctx context.Context, ref string) (int, error) {
	if !g.active(ref) {
		return 0, nil
	}
	count, err := g.redis.Get(ctx, g.failKey(ref)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(count), nil
}
