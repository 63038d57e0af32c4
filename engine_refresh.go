package authcore

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/labelforge/authcore/jwt"
	"github.com/labelforge/authcore/registry"
)

// Refresh rotates a refresh token: the presented token is revoked with a
// compare-and-swap and a new pair is issued. Of several concurrent calls
// with the same token exactly one succeeds; the rest get
// ErrAlreadyRevoked.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (_ TokenPair, err error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "Refresh")
	defer func() {
		if err != nil {
			e.metricInc(MetricRefreshFailure)
		}
		endSpan(span, err)
	}()

	claims, err := e.verifyRefresh(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	span.SetAttributes(attribute.String("auth.account_id", claims.Subject))

	acct, err := e.loadActiveAccount(ctx, claims.Subject)
	if err != nil {
		e.emitAudit(ctx, auditEventRefreshFailure, false, claims.Subject, claims.TokenID, err, nil)
		return TokenPair{}, err
	}

	if err := e.registry.Revoke(ctx, claims.TokenID); err != nil {
		if errors.Is(err, registry.ErrAlreadyRevoked) {
			e.refreshReused(ctx, claims)
			return TokenPair{}, ErrAlreadyRevoked
		}
		return TokenPair{}, e.unavailable(ctx, "refresh_revoke", err)
	}

	pair, err := e.issue(ctx, acct)
	if err != nil {
		return TokenPair{}, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, acct.ID, claims.TokenID, nil, nil)
	return pair, nil
}

// refreshReused handles a refresh token that was already rotated or
// revoked, which means it was copied. Optionally every session of the
// account is revoked.
func (e *Engine) refreshReused(ctx context.Context, claims jwt.Claims) {
	e.metricInc(MetricRefreshReuseDetected)

	revoked := 0
	if e.config.Security.RevokeAllOnRefreshReuse {
		n, err := e.registry.RevokeAll(ctx, claims.Subject)
		if err != nil {
			e.log(ctx).ErrorContext(ctx, "revoke all after refresh reuse failed",
				slog.String("account_id", claims.Subject),
				slog.String("error", err.Error()),
			)
		}
		revoked = n
	}

	e.log(ctx).WarnContext(ctx, "refresh token reuse detected",
		slog.String("account_id", claims.Subject),
		slog.String("token_id", claims.TokenID),
		slog.Int("sessions_revoked", revoked),
	)
	e.emitAudit(ctx, auditEventRefreshReuse, false, claims.Subject, claims.TokenID, ErrAlreadyRevoked, func() map[string]string {
		return map[string]string{"sessions_revoked": strconv.Itoa(revoked)}
	})
}

// Logout revokes the session of one refresh token. Repeating it, or
// calling it with an expired token, succeeds.
func (e *Engine) Logout(ctx context.Context, refreshToken string) (err error) {
	if !e.ready() {
		return ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "Logout")
	defer func() { endSpan(span, err) }()

	claims, err := e.verifyRefresh(ctx, refreshToken)
	if errors.Is(err, ErrTokenExpired) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := e.registry.Revoke(ctx, claims.TokenID); err != nil && !errors.Is(err, registry.ErrAlreadyRevoked) {
		return e.unavailable(ctx, "logout_revoke", err)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, claims.Subject, claims.TokenID, nil, nil)
	return nil
}

// LogoutAll revokes every active refresh token of the account that owns
// refreshToken and returns how many were revoked. The presented token must
// still be active; that check and the revocation are one atomic step.
func (e *Engine) LogoutAll(ctx context.Context, refreshToken string) (_ int, err error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "LogoutAll")
	defer func() { endSpan(span, err) }()

	claims, err := e.verifyRefresh(ctx, refreshToken)
	if err != nil {
		return 0, err
	}

	n, err := e.registry.RevokeAllFrom(ctx, claims.Subject, claims.TokenID)
	if errors.Is(err, registry.ErrAlreadyRevoked) {
		return 0, ErrAlreadyRevoked
	}
	if err != nil {
		return 0, e.unavailable(ctx, "logout_all_revoke", err)
	}
	if _, err := e.registry.PruneAccount(ctx, claims.Subject); err != nil {
		e.log(ctx).WarnContext(ctx, "prune account index failed", slog.String("error", err.Error()))
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, claims.Subject, claims.TokenID, nil, func() map[string]string {
		return map[string]string{"sessions_revoked": strconv.Itoa(n)}
	})
	return n, nil
}

func (e *Engine) verifyRefresh(ctx context.Context, refreshToken string) (jwt.Claims, error) {
	if err := e.validateRequest(refreshRequest{RefreshToken: refreshToken}); err != nil {
		return jwt.Claims{}, err
	}
	claims, err := e.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return jwt.Claims{}, tokenError(err)
	}
	return claims, nil
}
