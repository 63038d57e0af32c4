package authcore

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
)

// Register creates an account. It is the only operation that reveals
// whether a username or email is taken (ErrDuplicateIdentity).
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (_ AccountInfo, err error) {
	if !e.ready() {
		return AccountInfo{}, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "Register")
	defer func() { endSpan(span, err) }()

	if err := e.validateRequest(req); err != nil {
		return AccountInfo{}, err
	}

	acct, err := e.creds.create(ctx, req.Username, req.Email, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicateIdentity):
		e.metricInc(MetricRegisterDuplicate)
		e.emitAudit(ctx, auditEventRegister, false, "", "", err, nil)
		return AccountInfo{}, err
	case errors.Is(err, ErrUnavailable):
		return AccountInfo{}, e.unavailable(ctx, "register", err)
	default:
		e.emitAudit(ctx, auditEventRegister, false, "", "", err, nil)
		return AccountInfo{}, err
	}

	span.SetAttributes(attribute.String("auth.account_id", acct.ID))
	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegister, true, acct.ID, "", nil, nil)
	e.log(ctx).InfoContext(ctx, "account registered")

	return AccountInfo{
		ID:        acct.ID,
		Username:  acct.Username,
		Email:     acct.Email,
		Verified:  acct.Verified,
		CreatedAt: acct.CreatedAt,
	}, nil
}
