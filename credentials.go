package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/labelforge/authcore/account"
	"github.com/labelforge/authcore/password"
)

// credentials owns password hashing and the account store lookups that
// authenticate a user.
type credentials struct {
	store      account.Store
	hasher     *password.Hasher
	policy     PasswordConfig
	maxRetries int
	logger     *slog.Logger
}

func (c *credentials) checkPolicy(plaintext string) error {
	n := len(plaintext)
	if n < c.policy.MinLength || n > c.policy.MaxLength {
		return ErrPasswordPolicy
	}
	return nil
}

// create hashes the password and inserts a new account.
func (c *credentials) create(ctx context.Context, username, email, plaintext string) (account.Account, error) {
	if err := c.checkPolicy(plaintext); err != nil {
		return account.Account{}, err
	}
	hash, err := c.hasher.Hash(plaintext)
	if err != nil {
		return account.Account{}, fmt.Errorf("%w: hash password: %v", ErrUnavailable, err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return account.Account{}, fmt.Errorf("%w: account id: %v", ErrUnavailable, err)
	}

	created, err := c.store.Create(ctx, account.Account{
		ID:           id.String(),
		Username:     strings.TrimSpace(username),
		Email:        account.NormalizeEmail(email),
		PasswordHash: hash,
	})
	switch {
	case err == nil:
		return created, nil
	case errors.Is(err, account.ErrDuplicate):
		return account.Account{}, ErrDuplicateIdentity
	default:
		return account.Account{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

// verify looks up username, runs gate on the stored account and then
// compares the password. ok is false for an unknown user or a wrong
// password; in the latter case the returned account is populated so the
// caller can record the failure. Unknown users still pay for one hash
// comparison.
func (c *credentials) verify(
	ctx context.Context,
	username, plaintext string,
	gate func(context.Context, account.Account) (account.Account, error),
) (account.Account, bool, error) {
	acct, err := c.store.GetByUsername(ctx, username)
	if errors.Is(err, account.ErrNotFound) {
		c.hasher.VerifyDummy(plaintext)
		return account.Account{}, false, nil
	}
	if err != nil {
		return account.Account{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if gate != nil {
		acct, err = gate(ctx, acct)
		if err != nil {
			return acct, false, err
		}
	}

	ok, err := c.hasher.Verify(plaintext, acct.PasswordHash)
	if err != nil {
		c.logger.ErrorContext(ctx, "stored password hash unreadable",
			slog.String("account_id", acct.ID),
			slog.String("error", err.Error()),
		)
		return acct, false, nil
	}
	return acct, ok, nil
}

// upgradeHash returns a fresh hash when the stored one uses weaker
// parameters or a legacy scheme, or "" when no upgrade is needed.
func (c *credentials) upgradeHash(ctx context.Context, acct account.Account, plaintext string) string {
	if !c.policy.UpgradeOnLogin {
		return ""
	}
	needs, err := c.hasher.NeedsRehash(acct.PasswordHash)
	if err != nil || !needs {
		return ""
	}
	hash, err := c.hasher.Hash(plaintext)
	if err != nil {
		c.logger.WarnContext(ctx, "password rehash failed",
			slog.String("account_id", acct.ID),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return hash
}

// setPassword replaces the password hash and clears lockout state.
func (c *credentials) setPassword(ctx context.Context, acct account.Account, plaintext string) (account.Account, error) {
	if err := c.checkPolicy(plaintext); err != nil {
		return acct, err
	}
	hash, err := c.hasher.Hash(plaintext)
	if err != nil {
		return acct, fmt.Errorf("%w: hash password: %v", ErrUnavailable, err)
	}
	return updateAccount(ctx, c.store, acct, c.maxRetries, func(a *account.Account) (bool, error) {
		a.PasswordHash = hash
		a.FailedAttempts = 0
		a.LockedUntil = time.Time{}
		return true, nil
	})
}
