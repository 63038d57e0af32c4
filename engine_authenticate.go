package authcore

import (
	"context"
	"strings"
)

// Authenticate verifies an access token and checks that its account still
// exists and is not locked out. It changes no state.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (_ Principal, err error) {
	if !e.ready() {
		return Principal{}, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "Authenticate")
	defer func() {
		if err != nil {
			e.metricInc(MetricAuthenticateFailure)
		} else {
			e.metricInc(MetricAuthenticateSuccess)
		}
		endSpan(span, err)
	}()

	accessToken = strings.TrimSpace(strings.TrimPrefix(accessToken, "Bearer "))
	if accessToken == "" {
		return Principal{}, ErrTokenMalformed
	}

	claims, err := e.tokens.VerifyAccess(accessToken)
	if err != nil {
		return Principal{}, tokenError(err)
	}
	acct, err := e.loadActiveAccount(ctx, claims.Subject)
	if err != nil {
		return Principal{}, err
	}

	return Principal{
		AccountID: acct.ID,
		Username:  acct.Username,
		TokenID:   claims.TokenID,
		IssuedAt:  claims.IssuedAt,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}
