package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/labelforge/authcore/account"
)

// errRetriesExhausted is wrapped into ErrUnavailable when an account row
// keeps changing under a CAS loop.
var errRetriesExhausted = errors.New("account update retries exhausted")

// updateAccount applies mutate to acct and writes it back with a
// compare-and-swap on the version, reloading and reapplying on conflict.
// mutate reports whether a write is needed; an error from mutate aborts
// the loop without writing.
func updateAccount(
	ctx context.Context,
	store account.Store,
	acct account.Account,
	maxRetries int,
	mutate func(*account.Account) (bool, error),
) (account.Account, error) {
	cur := acct
	for attempt := 0; attempt < maxRetries; attempt++ {
		next := cur
		changed, err := mutate(&next)
		if err != nil {
			return cur, err
		}
		if !changed {
			return cur, nil
		}

		saved, err := store.CompareAndSwap(ctx, next, cur.Version)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, account.ErrVersionConflict) {
			return cur, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		cur, err = store.GetByID(ctx, cur.ID)
		if err != nil {
			return acct, fmt.Errorf("%w: reload account: %v", ErrUnavailable, err)
		}
	}
	return cur, fmt.Errorf("%w: %v", ErrUnavailable, errRetriesExhausted)
}

// lockoutGuard keeps the consecutive-failure state machine on the account
// record: Unlocked -> Locked(until) after threshold failures -> Unlocked
// once the window has passed.
type lockoutGuard struct {
	store      account.Store
	threshold  int
	window     time.Duration
	maxRetries int
	now        func() time.Time
}

func newLockoutGuard(store account.Store, cfg LockoutConfig, now func() time.Time) *lockoutGuard {
	return &lockoutGuard{
		store:      store,
		threshold:  cfg.Threshold,
		window:     cfg.Window,
		maxRetries: cfg.MaxRetries,
		now:        now,
	}
}

// beforeAttempt rejects a locked account with *LockedOutError. An expired
// lock is cleared, together with the counter, before the attempt proceeds.
func (g *lockoutGuard) beforeAttempt(ctx context.Context, acct account.Account) (account.Account, error) {
	now := g.now()
	return updateAccount(ctx, g.store, acct, g.maxRetries, func(a *account.Account) (bool, error) {
		if a.Locked(now) {
			return false, &LockedOutError{RetryAfter: a.LockedUntil.Sub(now)}
		}
		if a.LockedUntil.IsZero() {
			return false, nil
		}
		a.LockedUntil = time.Time{}
		a.FailedAttempts = 0
		return true, nil
	})
}

// recordFailure counts one failed verification. It reports locked=true when
// the account is locked after the call, either by this failure or by a
// concurrent one. Failures during an active lock leave the window alone.
func (g *lockoutGuard) recordFailure(ctx context.Context, acct account.Account) (account.Account, bool, error) {
	now := g.now()
	lockedByUs := false
	updated, err := updateAccount(ctx, g.store, acct, g.maxRetries, func(a *account.Account) (bool, error) {
		lockedByUs = false
		if a.Locked(now) {
			return false, nil
		}
		if !a.LockedUntil.IsZero() {
			a.LockedUntil = time.Time{}
			a.FailedAttempts = 0
		}
		a.FailedAttempts++
		if a.FailedAttempts >= g.threshold {
			a.LockedUntil = now.Add(g.window)
			lockedByUs = true
		}
		return true, nil
	})
	if err != nil {
		return updated, false, err
	}
	return updated, lockedByUs || updated.Locked(now), nil
}

// recordSuccess clears the counter and any lock. extra may carry further
// changes, such as an upgraded password hash, into the same write.
func (g *lockoutGuard) recordSuccess(ctx context.Context, acct account.Account, extra func(*account.Account) bool) (account.Account, error) {
	return updateAccount(ctx, g.store, acct, g.maxRetries, func(a *account.Account) (bool, error) {
		changed := a.FailedAttempts != 0 || !a.LockedUntil.IsZero()
		a.FailedAttempts = 0
		a.LockedUntil = time.Time{}
		if extra != nil && extra(a) {
			changed = true
		}
		return changed, nil
	})
}
