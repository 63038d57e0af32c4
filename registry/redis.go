// Package registry tracks issued refresh-token ids in Redis so they can be
// revoked before they expire.
//
// Each id maps to one key holding its state ("A" active or "R" revoked) and
// the owning account. A per-account set indexes the ids for logout-all.
// Every state transition runs as a single Lua script, so concurrent revokes
// of the same id have exactly one winner.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrDuplicate is returned when an id is registered twice.
	ErrDuplicate = errors.New("registry: token id already registered")
	// ErrAlreadyRevoked is returned by Revoke when the id is revoked, expired
	// or was never registered.
	ErrAlreadyRevoked = errors.New("registry: token already revoked")
	// ErrExpired is returned by Register when expiresAt is not in the future.
	ErrExpired = errors.New("registry: token already expired")
	// ErrUnavailable wraps every Redis failure.
	ErrUnavailable = errors.New("registry: redis unavailable")
)

// Values are "<state>|<accountID>"; the Lua scripts test the first byte.
const stateActive = "A"

const registerScript = `
local ok = redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2])
if not ok then
  return 0
end
redis.call("SADD", KEYS[2], ARGV[3])
local ttl = tonumber(ARGV[2])
if redis.call("PTTL", KEYS[2]) < ttl then
  redis.call("PEXPIRE", KEYS[2], ttl)
end
return 1
`

// revokeScript returns 0 for a missing key, 1 when the key was already
// revoked and 2 when this call performed the transition.
const revokeScript = `
local v = redis.call("GET", KEYS[1])
if not v then
  return 0
end
if string.sub(v, 1, 1) ~= "A" then
  return 1
end
local ttl = redis.call("PTTL", KEYS[1])
local revoked = "R" .. string.sub(v, 2)
if ttl > 0 then
  redis.call("SET", KEYS[1], revoked, "PX", ttl)
else
  redis.call("SET", KEYS[1], revoked)
end
return 2
`

// revokeAllScript optionally takes the presenting token's key as KEYS[2]
// and returns -1 without revoking anything unless that token is active.
const revokeAllScript = `
if KEYS[2] then
  local cur = redis.call("GET", KEYS[2])
  if not cur or string.sub(cur, 1, 1) ~= "A" then
    return -1
  end
end
local members = redis.call("SMEMBERS", KEYS[1])
local revoked = 0
for _, id in ipairs(members) do
  local key = ARGV[1] .. id
  local v = redis.call("GET", key)
  if not v then
    redis.call("SREM", KEYS[1], id)
  elseif string.sub(v, 1, 1) == "A" then
    local ttl = redis.call("PTTL", key)
    local revokedValue = "R" .. string.sub(v, 2)
    if ttl > 0 then
      redis.call("SET", key, revokedValue, "PX", ttl)
    else
      redis.call("SET", key, revokedValue)
    end
    revoked = revoked + 1
  end
end
return revoked
`

const pruneScript = `
local members = redis.call("SMEMBERS", KEYS[1])
local removed = 0
for _, id in ipairs(members) do
  if redis.call("EXISTS", ARGV[1] .. id) == 0 then
    redis.call("SREM", KEYS[1], id)
    removed = removed + 1
  end
end
return removed
`

var (
	registerLua  = redis.NewScript(registerScript)
	revokeLua    = redis.NewScript(revokeScript)
	revokeAllLua = redis.NewScript(revokeAllScript)
	pruneLua     = redis.NewScript(pruneScript)
)

// Redis is a Redis-backed token registry.
type Redis struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// Option customizes a Redis registry.
type Option func(*Redis)

// WithClock overrides the time source used to derive key TTLs.
func WithClock(now func() time.Time) Option {
	return func(r *Redis) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRedis creates a registry whose keys live under prefix.
func NewRedis(client redis.UniversalClient, prefix string, opts ...Option) *Redis {
	prefix = strings.TrimSuffix(prefix, ":")
	if prefix == "" {
		prefix = "ac:rt"
	}
	r := &Redis{client: client, prefix: prefix, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) tokenPrefix() string { return r.prefix + ":t:" }

func (r *Redis) tokenKey(tokenID string) string { return r.tokenPrefix() + tokenID }

func (r *Redis) accountKey(accountID string) string { return r.prefix + ":a:" + accountID }

// Register records tokenID as active for accountID until expiresAt.
func (r *Redis) Register(ctx context.Context, tokenID, accountID string, expiresAt time.Time) error {
	if tokenID == "" || accountID == "" {
		return errors.New("registry: empty token or account id")
	}
	ttl := expiresAt.Sub(r.now())
	if ttl < time.Millisecond {
		return ErrExpired
	}

	res, err := registerLua.Run(ctx, r.client,
		[]string{r.tokenKey(tokenID), r.accountKey(accountID)},
		stateActive+"|"+accountID, ttl.Milliseconds(), tokenID,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: register: %v", ErrUnavailable, err)
	}
	if res == 0 {
		return ErrDuplicate
	}
	return nil
}

// IsRevoked reports whether tokenID may no longer be used. Unknown and
// expired ids count as revoked.
func (r *Redis) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	v, err := r.client.Get(ctx, r.tokenKey(tokenID)).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: lookup: %v", ErrUnavailable, err)
	}
	return !strings.HasPrefix(v, stateActive+"|"), nil
}

// Revoke moves tokenID from active to revoked. Of several concurrent calls
// for the same id exactly one returns nil; the rest get ErrAlreadyRevoked.
func (r *Redis) Revoke(ctx context.Context, tokenID string) error {
	res, err := revokeLua.Run(ctx, r.client, []string{r.tokenKey(tokenID)}).Int64()
	if err != nil {
		return fmt.Errorf("%w: revoke: %v", ErrUnavailable, err)
	}
	if res != 2 {
		return ErrAlreadyRevoked
	}
	return nil
}

// RevokeAll revokes every active id of accountID and returns how many were
// revoked.
func (r *Redis) RevokeAll(ctx context.Context, accountID string) (int, error) {
	n, err := revokeAllLua.Run(ctx, r.client, []string{r.accountKey(accountID)}, r.tokenPrefix()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: revoke all: %v", ErrUnavailable, err)
	}
	return int(n), nil
}

// RevokeAllFrom is RevokeAll gated on tokenID being active. The check and
// the revocation run as one script; ErrAlreadyRevoked is returned when
// tokenID is revoked, expired or unknown.
func (r *Redis) RevokeAllFrom(ctx context.Context, accountID, tokenID string) (int, error) {
	n, err := revokeAllLua.Run(ctx, r.client,
		[]string{r.accountKey(accountID), r.tokenKey(tokenID)}, r.tokenPrefix(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: revoke all: %v", ErrUnavailable, err)
	}
	if n < 0 {
		return 0, ErrAlreadyRevoked
	}
	return int(n), nil
}

// PruneAccount drops index entries whose token keys have expired.
func (r *Redis) PruneAccount(ctx context.Context, accountID string) (int, error) {
	n, err := pruneLua.Run(ctx, r.client, []string{r.accountKey(accountID)}, r.tokenPrefix()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: prune: %v", ErrUnavailable, err)
	}
	return int(n), nil
}

// Ping checks Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
