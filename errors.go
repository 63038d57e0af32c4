package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is returned for any username/password mismatch,
	// including an unknown username.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLockedOut is returned while an account is inside its lockout window.
	// The concrete error is a *LockedOutError carrying the remaining time.
	ErrLockedOut = errors.New("account locked out")
	// ErrDuplicateIdentity is returned by Register when the username or email
	// is already registered.
	ErrDuplicateIdentity = errors.New("username or email already registered")

	ErrTokenExpired          = errors.New("token expired")
	ErrTokenSignatureInvalid = errors.New("token signature invalid")
	ErrTokenPurposeMismatch  = errors.New("token purpose mismatch")
	ErrTokenMalformed        = errors.New("token malformed")
	// ErrAlreadyRevoked is returned when a refresh token was already used or
	// revoked.
	ErrAlreadyRevoked = errors.New("token already revoked")

	// ErrInvalidOrExpiredToken covers unknown, expired and wrong reset tokens.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	// ErrAlreadyConsumed is returned when a reset token was already used.
	ErrAlreadyConsumed = errors.New("token already consumed")

	ErrPasswordPolicy = errors.New("password policy violation")
	ErrInvalidRequest = errors.New("invalid request")
	// ErrRateLimited is returned when a per-IP throttle rejects the request.
	// The concrete error is a *RateLimitedError.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnavailable marks transient storage or registry failures. Callers
	// may retry.
	ErrUnavailable = errors.New("authentication backend unavailable")
	// ErrEngineNotReady is returned by a nil or partially built Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// LockedOutError reports how long an account stays locked.
type LockedOutError struct {
	RetryAfter time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("account locked out, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *LockedOutError) Is(target error) bool { return target == ErrLockedOut }

// RateLimitedError reports how long the caller should wait.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// RetryAfter extracts the wait hint from a lockout or rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var locked *LockedOutError
	if errors.As(err, &locked) {
		return locked.RetryAfter, true
	}
	var limited *RateLimitedError
	if errors.As(err, &limited) {
		return limited.RetryAfter, true
	}
	return 0, false
}
