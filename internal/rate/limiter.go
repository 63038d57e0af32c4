package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds throttle budgets. A zero Max disables that throttle.
type Config struct {
	Prefix string

	MaxLoginFailuresPerIP int
	LoginIPWindow         time.Duration

	MaxResetRequestsPerEmail int
	MaxResetRequestsPerIP    int
	ResetRequestWindow       time.Duration
}

// Limiter enforces per-IP login and per-email/per-IP reset-request budgets
// using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "ac:rl"
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

func (l *Limiter) loginIPKey(ip string) string { return l.config.Prefix + ":li:" + ip }

func (l *Limiter) resetEmailKey(email string) string {
	return l.config.Prefix + ":re:" + strings.ToLower(strings.TrimSpace(email))
}

func (l *Limiter) resetIPKey(ip string) string { return l.config.Prefix + ":ri:" + ip }

// CheckLogin fails with *LimitError when ip has exhausted its failure budget.
func (l *Limiter) CheckLogin(ctx context.Context, ip string) error {
	if l.config.MaxLoginFailuresPerIP <= 0 || ip == "" {
		return nil
	}
	return l.checkCounter(ctx, l.loginIPKey(ip), l.config.MaxLoginFailuresPerIP)
}

// RecordLoginFailure counts one failed login from ip. Successful logins do
// not reset the counter, so one valid credential cannot launder a stuffing
// run from the same address.
func (l *Limiter) RecordLoginFailure(ctx context.Context, ip string) error {
	if l.config.MaxLoginFailuresPerIP <= 0 || ip == "" {
		return nil
	}
	_, err := l.incrementWithTTL(ctx, l.loginIPKey(ip), l.config.LoginIPWindow)
	return err
}

// AllowResetRequest spends one unit of the per-email and per-IP reset
// budgets and fails with *LimitError once either is exceeded.
func (l *Limiter) AllowResetRequest(ctx context.Context, email, ip string) error {
	if l.config.MaxResetRequestsPerEmail > 0 && email != "" {
		if err := l.spend(ctx, l.resetEmailKey(email), l.config.MaxResetRequestsPerEmail, l.config.ResetRequestWindow); err != nil {
			return err
		}
	}
	if l.config.MaxResetRequestsPerIP > 0 && ip != "" {
		if err := l.spend(ctx, l.resetIPKey(ip), l.config.MaxResetRequestsPerIP, l.config.ResetRequestWindow); err != nil {
			return err
		}
	}
	return nil
}

func (l *Limiter) spend(ctx context.Context, key string, max int, window time.Duration) error {
	count, err := l.incrementWithTTL(ctx, key, window)
	if err != nil {
		return err
	}
	if count > int64(max) {
		return l.limited(ctx, key)
	}
	return nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, max int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(max) {
		return l.limited(ctx, key)
	}
	return nil
}

func (l *Limiter) limited(ctx context.Context, key string) error {
	ttl, err := l.redis.PTTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = 0
	}
	return &LimitError{RetryAfter: ttl}
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return count, nil
}
