package authcore

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/labelforge/authcore/internal/audit"
)

// AuditEvent is one security-relevant occurrence. It never carries
// passwords or token values; tokens are referenced by id or fingerprint.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's background dispatcher.
type AuditSink = audit.Sink

// NewJSONAuditSink writes one JSON document per event to w.
func NewJSONAuditSink(w io.Writer) AuditSink { return audit.NewJSONWriterSink(w) }

// NewSlogAuditSink logs events through logger.
func NewSlogAuditSink(logger *slog.Logger) AuditSink { return audit.NewSlogSink(logger) }

// NewChannelAuditSink buffers events on a channel, mostly for tests.
func NewChannelAuditSink(buffer int) *audit.ChannelSink { return audit.NewChannelSink(buffer) }

const (
	auditEventRegister           = "register"
	auditEventLoginSuccess       = "login_success"
	auditEventLoginFailure       = "login_failure"
	auditEventLoginLockedOut     = "login_locked_out"
	auditEventLoginRateLimited   = "login_rate_limited"
	auditEventAccountLocked      = "account_locked"
	auditEventRefreshSuccess     = "refresh_success"
	auditEventRefreshFailure     = "refresh_failure"
	auditEventRefreshReuse       = "refresh_reuse_detected"
	auditEventLogout             = "logout"
	auditEventLogoutAll          = "logout_all"
	auditEventResetRequest       = "password_reset_request"
	auditEventResetConfirm       = "password_reset_confirm"
	auditEventResetRequestDenied = "password_reset_request_denied"
)

// reasonFor turns an engine error into a short audit reason code.
func reasonFor(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range resultMappings {
		if errors.Is(err, m.target) {
			return m.code
		}
	}
	return CodeInternal
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	tokenRef string,
	err error,
	metadata func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}
	event := AuditEvent{
		Timestamp: e.now().UTC(),
		Type:      eventType,
		AccountID: accountID,
		TokenRef:  tokenRef,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Reason:    reasonFor(err),
	}
	if metadata != nil {
		event.Metadata = metadata()
	}
	e.audit.Emit(ctx, event)
}
