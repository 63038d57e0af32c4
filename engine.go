package authcore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/labelforge/authcore/account"
	"github.com/labelforge/authcore/internal/audit"
	"github.com/labelforge/authcore/internal/logging"
	"github.com/labelforge/authcore/internal/rate"
	"github.com/labelforge/authcore/internal/stores"
	"github.com/labelforge/authcore/jwt"
	"github.com/labelforge/authcore/notify"
	"github.com/labelforge/authcore/registry"
)

// Engine is the authentication orchestrator. Build it with New().Build();
// all methods are safe for concurrent use.
type Engine struct {
	config   Config
	now      func() time.Time
	logger   *slog.Logger
	tracer   trace.Tracer
	validate *validator.Validate

	accounts account.Store
	creds    *credentials
	lockout  *lockoutGuard
	tokens   *jwt.Manager
	registry *registry.Redis
	resets   *stores.PasswordResetStore
	limiter  *rate.Limiter
	outbox   *notify.Outbox
	audit    *audit.Dispatcher
	metrics  *Metrics

	resetDelay func(ctx context.Context) error
}

// Close drains the notification outbox and the audit dispatcher. It does
// not close the Redis client or the account store.
func (e *Engine) Close(ctx context.Context) error {
	if e == nil {
		return nil
	}
	var err error
	if e.outbox != nil {
		err = e.outbox.Close(ctx)
	}
	e.audit.Close()
	return err
}

// Ping checks the Redis registry.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.registry == nil {
		return ErrEngineNotReady
	}
	if err := e.registry.Ping(ctx); err != nil {
		return ErrUnavailable
	}
	return nil
}

// AuditDropped reports audit events dropped because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// OutboxStats reports notification delivery counters.
func (e *Engine) OutboxStats() notify.OutboxStats {
	if e == nil || e.outbox == nil {
		return notify.OutboxStats{}
	}
	return e.outbox.Stats()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return (*Metrics)(nil).Snapshot()
	}
	return e.metrics.Snapshot()
}

func (e *Engine) ready() bool {
	return e != nil && e.creds != nil && e.tokens != nil && e.registry != nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) log(ctx context.Context) *slog.Logger {
	return logging.WithContext(ctx, e.logger)
}

func (e *Engine) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "authcore."+op, trace.WithAttributes(attrs...))
}

// endSpan records err on span. Expected authentication outcomes are not
// marked as span errors; only ErrUnavailable is.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(attribute.String("auth.outcome", reasonFor(err)))
		if errors.Is(err, ErrUnavailable) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "backend unavailable")
		}
	}
	span.End()
}

// unavailable logs the internal cause and returns the bare sentinel so no
// internal detail reaches the caller.
func (e *Engine) unavailable(ctx context.Context, op string, err error) error {
	e.metricInc(MetricBackendUnavailable)
	e.log(ctx).ErrorContext(ctx, "auth backend unavailable",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return ErrUnavailable
}

// tokenError maps issuer verification failures to engine errors.
func tokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrPurposeMismatch):
		return ErrTokenPurposeMismatch
	case errors.Is(err, jwt.ErrMalformed), errors.Is(err, jwt.ErrClaimsInvalid):
		return ErrTokenMalformed
	default:
		return ErrTokenSignatureInvalid
	}
}

func newTokenPair(p jwt.Pair) TokenPair {
	return TokenPair{
		AccessToken:      p.Access,
		RefreshToken:     p.Refresh,
		TokenType:        "Bearer",
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

// issue mints a pair for acct and registers its refresh id as active.
func (e *Engine) issue(ctx context.Context, acct account.Account) (TokenPair, error) {
	pair, err := e.tokens.IssuePair(acct.ID, acct.Username)
	if err != nil {
		return TokenPair{}, e.unavailable(ctx, "issue", err)
	}
	if err := e.registry.Register(ctx, pair.RefreshID, acct.ID, pair.RefreshExpiresAt); err != nil {
		return TokenPair{}, e.unavailable(ctx, "register_token", err)
	}
	return newTokenPair(pair), nil
}

// loadActiveAccount fetches the account a token was issued to and rejects
// it while locked.
func (e *Engine) loadActiveAccount(ctx context.Context, accountID string) (account.Account, error) {
	acct, err := e.accounts.GetByID(ctx, accountID)
	if errors.Is(err, account.ErrNotFound) {
		return account.Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return account.Account{}, e.unavailable(ctx, "load_account", err)
	}
	now := e.now()
	if acct.Locked(now) {
		return acct, &LockedOutError{RetryAfter: acct.LockedUntil.Sub(now)}
	}
	return acct, nil
}
