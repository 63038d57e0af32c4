package account

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no account matches the lookup key.
	ErrNotFound = errors.New("account not found")
	// ErrDuplicate is returned by Create when the username or email is taken.
	ErrDuplicate = errors.New("account identity already exists")
	// ErrVersionConflict is returned by CompareAndSwap when the stored record
	// moved past the expected version.
	ErrVersionConflict = errors.New("account version conflict")
	// ErrUnavailable wraps backend failures (network, pool exhaustion, ...).
	ErrUnavailable = errors.New("account store unavailable")
)

// Account is the persisted identity record. Lockout state lives on the
// record so that every transition is a conditional update of one row.
type Account struct {
	ID             string
	Username       string
	Email          string
	PasswordHash   string
	Verified       bool
	FailedAttempts int
	LockedUntil    time.Time
	Version        uint64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Locked reports whether the account is inside a lockout window at now.
func (a Account) Locked(now time.Time) bool {
	return !a.LockedUntil.IsZero() && now.Before(a.LockedUntil)
}

// Store is the storage contract for accounts. Implementations must make
// CompareAndSwap atomic per account id and must never serialize unrelated
// accounts behind a single lock.
type Store interface {
	Create(ctx context.Context, acct Account) (Account, error)
	GetByID(ctx context.Context, id string) (Account, error)
	GetByUsername(ctx context.Context, username string) (Account, error)
	GetByEmail(ctx context.Context, email string) (Account, error)
	CompareAndSwap(ctx context.Context, next Account, expectedVersion uint64) (Account, error)
}

// NormalizeUsername folds a username to its uniqueness key.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// NormalizeEmail folds an email address to its uniqueness key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
