package authcore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/labelforge/authcore/account"
	"github.com/labelforge/authcore/internal/rate"
)

// Login authenticates a username and password and issues a token pair.
//
// The lockout check runs before the password is verified, so a locked
// account is rejected with *LockedOutError even for the correct password.
// Unknown usernames and wrong passwords both yield ErrInvalidCredentials.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (_ TokenPair, err error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "Login")
	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricLoginLatency, time.Since(start))
		endSpan(span, err)
	}()

	if err := e.validateRequest(req); err != nil {
		return TokenPair{}, err
	}

	ip := clientIPFromContext(ctx)
	if err := e.checkLoginThrottle(ctx, ip); err != nil {
		return TokenPair{}, err
	}

	acct, ok, err := e.creds.verify(ctx, req.Username, req.Password, e.lockout.beforeAttempt)
	if err != nil {
		if errors.Is(err, ErrLockedOut) {
			e.metricInc(MetricLoginLockedOut)
			e.emitAudit(ctx, auditEventLoginLockedOut, false, acct.ID, "", err, nil)
			return TokenPair{}, err
		}
		return TokenPair{}, e.unavailable(ctx, "login_verify", err)
	}
	if !ok {
		return TokenPair{}, e.loginFailed(ctx, acct, ip)
	}

	newHash := e.creds.upgradeHash(ctx, acct, req.Password)
	acct, err = e.lockout.recordSuccess(ctx, acct, func(a *account.Account) bool {
		if newHash == "" {
			return false
		}
		a.PasswordHash = newHash
		return true
	})
	if err != nil {
		return TokenPair{}, e.unavailable(ctx, "login_record_success", err)
	}

	pair, err := e.issue(ctx, acct)
	if err != nil {
		return TokenPair{}, err
	}

	span.SetAttributes(attribute.String("auth.account_id", acct.ID))
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, acct.ID, "", nil, nil)
	return pair, nil
}

func (e *Engine) checkLoginThrottle(ctx context.Context, ip string) error {
	if ip == "" {
		return nil
	}
	err := e.limiter.CheckLogin(ctx, ip)
	if err == nil {
		return nil
	}
	var limited *rate.LimitError
	if errors.As(err, &limited) {
		e.metricInc(MetricLoginRateLimited)
		e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrRateLimited, nil)
		return &RateLimitedError{RetryAfter: limited.RetryAfter}
	}
	return e.unavailable(ctx, "login_throttle", err)
}

// loginFailed records a failed verification against the account (if one
// matched) and the caller's IP, then returns ErrInvalidCredentials.
func (e *Engine) loginFailed(ctx context.Context, acct account.Account, ip string) error {
	e.metricInc(MetricLoginFailure)

	if acct.ID != "" {
		_, locked, err := e.lockout.recordFailure(ctx, acct)
		if err != nil {
			return e.unavailable(ctx, "login_record_failure", err)
		}
		if locked {
			e.metricInc(MetricAccountLocked)
			e.emitAudit(ctx, auditEventAccountLocked, false, acct.ID, "", ErrLockedOut, nil)
			e.log(ctx).WarnContext(ctx, "account locked after repeated failures",
				slog.String("account_id", acct.ID),
			)
		}
	}

	if ip != "" {
		if err := e.limiter.RecordLoginFailure(ctx, ip); err != nil {
			e.log(ctx).WarnContext(ctx, "login failure not counted for ip",
				slog.String("error", err.Error()),
			)
		}
	}

	e.emitAudit(ctx, auditEventLoginFailure, false, acct.ID, "", ErrInvalidCredentials, nil)
	return ErrInvalidCredentials
}
