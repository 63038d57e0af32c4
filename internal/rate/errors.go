package rate

import (
	"errors"
	"time"
)

var (
	// ErrRateLimited is matched by every *LimitError.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// LimitError reports how long the caller should wait before retrying.
type LimitError struct {
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return "rate limited; retry after " + e.RetryAfter.Round(time.Second).String()
}

func (e *LimitError) Is(target error) bool { return target == ErrRateLimited }
