package refresh

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const sweepBatch = 512

// Lua snippet shared by the delete paths. Expects `prefix` in scope.
const deleteRecordLua = `
local function delete_record(id)
  local rk = prefix .. ":t:" .. id
  local pid = redis.call("HGET", rk, "pid")
  redis.call("DEL", rk)
  if pid then
    redis.call("ZREM", prefix .. ":p:" .. pid, id)
  end
  redis.call("ZREM", prefix .. ":exp", id)
  redis.call("ZREM", prefix .. ":rev", id)
end
`

const insertScript = `
local prefix = ARGV[1]
local id = ARGV[2]
local pid = ARGV[3]
local created = ARGV[5]
local expires = ARGV[6]
local max = tonumber(ARGV[7])
local now = tonumber(ARGV[8])

local rk = prefix .. ":t:" .. id
local pk = prefix .. ":p:" .. pid

if redis.call("EXISTS", rk) == 1 then
  return -1
end

local evicted = 0
if max > 0 then
  local ids = redis.call("ZRANGE", pk, 0, -1)
  local valid = {}
  for _, other in ipairs(ids) do
    local f = redis.call("HMGET", prefix .. ":t:" .. other, "expires", "revoked")
    if not f[1] then
      redis.call("ZREM", pk, other)
    elseif f[2] == "0" and tonumber(f[1]) > now then
      table.insert(valid, other)
    end
  end
  local excess = #valid - max + 1
  local i = 1
  while excess > 0 and i <= #valid do
    redis.call("HSET", prefix .. ":t:" .. valid[i], "revoked", "1", "revoked_at", ARGV[8])
    redis.call("ZADD", prefix .. ":rev", now, valid[i])
    evicted = evicted + 1
    excess = excess - 1
    i = i + 1
  end
end

redis.call("HSET", rk,
  "pid", pid,
  "origin", ARGV[4],
  "created", created,
  "expires", expires,
  "revoked", "0",
  "revoked_at", "0")
redis.call("ZADD", pk, created, id)
redis.call("ZADD", prefix .. ":exp", expires, id)
return evicted
`

const revokeIfActiveScript = `
local prefix = ARGV[1]
local id = ARGV[2]
local now = tonumber(ARGV[3])
local rk = prefix .. ":t:" .. id

local f = redis.call("HMGET", rk, "expires", "revoked")
if not f[1] then
  return 1
end
if f[2] == "1" then
  return 2
end
if tonumber(f[1]) <= now then
  return 3
end

redis.call("HSET", rk, "revoked", "1", "revoked_at", ARGV[3])
redis.call("ZADD", prefix .. ":rev", now, id)
return 0
`

const revokeAllScript = `
local prefix = ARGV[1]
local pid = ARGV[2]
local now = tonumber(ARGV[3])
local pk = prefix .. ":p:" .. pid

local changed = 0
for _, id in ipairs(redis.call("ZRANGE", pk, 0, -1)) do
  local rk = prefix .. ":t:" .. id
  local revoked = redis.call("HGET", rk, "revoked")
  if not revoked then
    redis.call("ZREM", pk, id)
  elseif revoked == "0" then
    redis.call("HSET", rk, "revoked", "1", "revoked_at", ARGV[3])
    redis.call("ZADD", prefix .. ":rev", now, id)
    changed = changed + 1
  end
end
return changed
`

const countActiveScript = `
local prefix = ARGV[1]
local now = tonumber(ARGV[3])
local count = 0
for _, id in ipairs(redis.call("ZRANGE", prefix .. ":p:" .. ARGV[2], 0, -1)) do
  local f = redis.call("HMGET", prefix .. ":t:" .. id, "expires", "revoked")
  if f[1] and f[2] == "0" and tonumber(f[1]) > now then
    count = count + 1
  end
end
return count
`

const deleteOneScript = `
local prefix = ARGV[1]
` + deleteRecordLua + `
local existed = redis.call("EXISTS", prefix .. ":t:" .. ARGV[2])
delete_record(ARGV[2])
return existed
`

const deleteAllScript = `
local prefix = ARGV[1]
` + deleteRecordLua + `
local pk = prefix .. ":p:" .. ARGV[2]
local deleted = 0
for _, id in ipairs(redis.call("ZRANGE", pk, 0, -1)) do
  deleted = deleted + redis.call("EXISTS", prefix .. ":t:" .. id)
  delete_record(id)
end
redis.call("DEL", pk)
return deleted
`

// ARGV[2] names the index zset suffix ("exp" or "rev"), ARGV[3] the score cutoff.
const deleteByScoreScript = `
local prefix = ARGV[1]
` + deleteRecordLua + `
local ids = redis.call("ZRANGEBYSCORE", prefix .. ":" .. ARGV[2], "-inf", ARGV[3], "LIMIT", 0, tonumber(ARGV[4]))
for _, id in ipairs(ids) do
  delete_record(id)
end
return #ids
`

var (
	insertLua         = redis.NewScript(insertScript)
	revokeIfActiveLua = redis.NewScript(revokeIfActiveScript)
	revokeAllLua      = redis.NewScript(revokeAllScript)
	countActiveLua    = redis.NewScript(countActiveScript)
	deleteOneLua      = redis.NewScript(deleteOneScript)
	deleteAllLua      = redis.NewScript(deleteAllScript)
	deleteByScoreLua  = redis.NewScript(deleteByScoreScript)
)

// RedisStore keeps each record in a hash under <prefix>:t:<id>, indexed by a per-principal
// sorted set (score = creation time) and two global sorted sets for sweeping by expiry and
// by revocation time. All mutations run as Lua scripts.
//
// Scripts touch keys derived from the prefix, so on Redis Cluster the prefix must carry a
// hash tag (for example "{grt}").
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore returns a Store over client using prefix as key namespace.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "grt"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) recordKey(id string) string {
	return s.prefix + ":t:" + id
}

func micros(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

// Insert implements Store.
func (s *RedisStore) Insert(ctx context.Context, rec Record, maxActive int, now time.Time) (int, error) {
	res, err := insertLua.Run(ctx, s.redis, nil,
		s.prefix,
		rec.ID,
		rec.PrincipalID,
		rec.Origin,
		micros(rec.CreatedAt),
		micros(rec.ExpiresAt),
		maxActive,
		micros(now),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if res < 0 {
		return 0, ErrTokenCollision
	}
	return res, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id string) (Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.recordKey(id)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return Record{}, ErrNotFound
	}
	return decodeRecord(id, fields)
}

func decodeRecord(id string, fields map[string]string) (Record, error) {
	created, err := strconv.ParseInt(fields["created"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("refresh record %s: bad created: %v", id, err)
	}
	expires, err := strconv.ParseInt(fields["expires"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("refresh record %s: bad expires: %v", id, err)
	}

	rec := Record{
		ID:          id,
		PrincipalID: fields["pid"],
		Origin:      fields["origin"],
		CreatedAt:   time.UnixMicro(created).UTC(),
		ExpiresAt:   time.UnixMicro(expires).UTC(),
		Revoked:     fields["revoked"] == "1",
	}
	if rec.Revoked {
		if at, err := strconv.ParseInt(fields["revoked_at"], 10, 64); err == nil && at > 0 {
			t := time.UnixMicro(at).UTC()
			rec.RevokedAt = &t
		}
	}
	return rec, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := deleteOneLua.Run(ctx, s.redis, nil, s.prefix, id).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// RevokeIfActive implements Store.
func (s *RedisStore) RevokeIfActive(ctx context.Context, id string, now time.Time) (RevokeStatus, error) {
	code, err := revokeIfActiveLua.Run(ctx, s.redis, nil, s.prefix, id, micros(now)).Int()
	if err != nil {
		return RevokeNotFound, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch code {
	case 0:
		return RevokeApplied, nil
	case 2:
		return RevokeAlreadyRevoked, nil
	case 3:
		return RevokeExpired, nil
	default:
		return RevokeNotFound, nil
	}
}

// RevokeAll implements Store.
func (s *RedisStore) RevokeAll(ctx context.Context, principalID string, now time.Time) (int, error) {
	n, err := revokeAllLua.Run(ctx, s.redis, nil, s.prefix, principalID, micros(now)).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// DeleteAll implements Store.
func (s *RedisStore) DeleteAll(ctx context.Context, principalID string) (int, error) {
	n, err := deleteAllLua.Run(ctx, s.redis, nil, s.prefix, principalID).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// CountActive implements Store.
func (s *RedisStore) CountActive(ctx context.Context, principalID string, now time.Time) (int, error) {
	n, err := countActiveLua.Run(ctx, s.redis, nil, s.prefix, principalID, micros(now)).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// DeleteExpired implements Store. It deletes in batches so a large backlog never holds the
// Redis event loop for long.
func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return s.deleteByScore(ctx, "exp", micros(now))
}

// DeleteRevokedBefore implements Store.
func (s *RedisStore) DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	// Exclusive bound: records revoked exactly at cutoff are kept.
	return s.deleteByScore(ctx, "rev", "("+micros(cutoff))
}

func (s *RedisStore) deleteByScore(ctx context.Context, index, max string) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := deleteByScoreLua.Run(ctx, s.redis, nil, s.prefix, index, max, sweepBatch).Int()
		if err != nil {
			return total, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		total += n
		if n < sweepBatch {
			return total, nil
		}
	}
}
