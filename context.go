package authcore

import (
	"context"

	"github.com/labelforge/authcore/internal/logging"
)

type clientIPContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine uses it
// for per-IP throttling and audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithRequestID attaches a correlation id that appears on every log line
// the Engine writes for the request.
func WithRequestID(ctx context.Context, id string) context.Context {
	return logging.WithRequestID(ctx, id)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}
