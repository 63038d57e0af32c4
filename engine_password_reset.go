package authcore

import (
	"context"
	"errors"
	"log/slog"

	"github.com/labelforge/authcore/account"
	"github.com/labelforge/authcore/internal"
	"github.com/labelforge/authcore/internal/rate"
	"github.com/labelforge/authcore/internal/stores"
	"github.com/labelforge/authcore/notify"
)

// RequestPasswordReset issues a reset token for the account registered
// under email and queues it for delivery. It returns nil whether or not
// the email is registered, and takes a randomized minimum time either way.
// Storage and delivery problems are logged, never returned.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (err error) {
	if !e.ready() || e.resets == nil {
		return ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "RequestPasswordReset")
	defer func() { endSpan(span, err) }()

	if err := e.validateRequest(resetRequest{Email: email}); err != nil {
		return err
	}
	defer func() {
		if derr := e.resetDelay(ctx); derr != nil {
			e.log(ctx).DebugContext(ctx, "reset delay interrupted", slog.String("error", derr.Error()))
		}
	}()

	e.metricInc(MetricPasswordResetRequest)
	email = account.NormalizeEmail(email)

	if err := e.limiter.AllowResetRequest(ctx, email, clientIPFromContext(ctx)); err != nil {
		reason := ErrRateLimited
		if !errors.Is(err, rate.ErrRateLimited) {
			reason = ErrUnavailable
			e.log(ctx).ErrorContext(ctx, "reset throttle unavailable", slog.String("error", err.Error()))
		}
		e.emitAudit(ctx, auditEventResetRequestDenied, false, "", "", reason, nil)
		return nil
	}

	acct, err := e.accounts.GetByEmail(ctx, email)
	if errors.Is(err, account.ErrNotFound) {
		e.emitAudit(ctx, auditEventResetRequest, false, "", "", ErrInvalidRequest, nil)
		return nil
	}
	if err != nil {
		e.log(ctx).ErrorContext(ctx, "reset account lookup failed", slog.String("error", err.Error()))
		return nil
	}

	tok, err := internal.NewResetToken()
	if err != nil {
		e.log(ctx).ErrorContext(ctx, "reset token generation failed", slog.String("error", err.Error()))
		return nil
	}
	expiresAt := e.now().Add(e.config.PasswordReset.TTL)
	err = e.resets.Save(ctx, tok.ID, &stores.PasswordResetRecord{
		AccountID:  acct.ID,
		SecretHash: tok.SecretHash,
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		e.log(ctx).ErrorContext(ctx, "reset token not stored",
			slog.String("account_id", acct.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	err = e.outbox.Enqueue(notify.Message{
		Kind:      notify.KindPasswordReset,
		Address:   acct.Email,
		Token:     tok.Token,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		e.log(ctx).ErrorContext(ctx, "reset message not queued",
			slog.String("account_id", acct.ID),
			slog.String("error", err.Error()),
		)
	}

	e.emitAudit(ctx, auditEventResetRequest, true, acct.ID, internal.Fingerprint(tok.Token), nil, nil)
	return nil
}

// ConfirmPasswordReset consumes a reset token and sets a new password.
// The token is marked consumed before the password changes, so of several
// concurrent confirmations exactly one succeeds. On success the lockout
// state is cleared and, unless disabled, every session is revoked.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, token, newPassword string) (err error) {
	if !e.ready() || e.resets == nil {
		return ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "ConfirmPasswordReset")
	defer func() {
		if err != nil {
			e.metricInc(MetricPasswordResetConfirmFailure)
		}
		endSpan(span, err)
	}()

	if err := e.validateRequest(resetConfirmRequest{Token: token, NewPassword: newPassword}); err != nil {
		return err
	}
	if err := e.creds.checkPolicy(newPassword); err != nil {
		return err
	}

	tokenRef := internal.Fingerprint(token)
	resetID, secret, err := internal.DecodeResetToken(token)
	if err != nil {
		e.emitAudit(ctx, auditEventResetConfirm, false, "", tokenRef, ErrInvalidOrExpiredToken, nil)
		return ErrInvalidOrExpiredToken
	}

	record, err := e.resets.Consume(ctx, resetID, internal.HashResetSecret(secret), e.config.PasswordReset.MaxAttempts)
	if err != nil {
		err = resetError(err)
		if errors.Is(err, ErrUnavailable) {
			return e.unavailable(ctx, "reset_consume", err)
		}
		e.emitAudit(ctx, auditEventResetConfirm, false, "", tokenRef, err, nil)
		return err
	}

	acct, err := e.accounts.GetByID(ctx, record.AccountID)
	if errors.Is(err, account.ErrNotFound) {
		return ErrInvalidOrExpiredToken
	}
	if err != nil {
		return e.unavailable(ctx, "reset_load_account", err)
	}
	if _, err := e.creds.setPassword(ctx, acct, newPassword); err != nil {
		return e.unavailable(ctx, "reset_set_password", err)
	}

	if e.config.PasswordReset.RevokeSessions {
		if _, err := e.registry.RevokeAll(ctx, acct.ID); err != nil {
			e.log(ctx).ErrorContext(ctx, "revoke sessions after reset failed",
				slog.String("account_id", acct.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.emitAudit(ctx, auditEventResetConfirm, true, acct.ID, tokenRef, nil, nil)
	return nil
}

func resetError(err error) error {
	switch {
	case errors.Is(err, stores.ErrResetConsumed):
		return ErrAlreadyConsumed
	case errors.Is(err, stores.ErrResetNotFound),
		errors.Is(err, stores.ErrResetSecretMismatch),
		errors.Is(err, stores.ErrResetAttemptsExceeded):
		return ErrInvalidOrExpiredToken
	default:
		return errors.Join(ErrUnavailable, err)
	}
}
