package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
)

// LogSender writes a line per message instead of delivering it. Useful in
// development; the token itself is replaced by a fingerprint.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	sum := sha256.Sum256([]byte(msg.Token))
	s.logger.InfoContext(ctx, "notification",
		slog.String("message_id", msg.ID),
		slog.String("kind", string(msg.Kind)),
		slog.String("address", maskAddress(msg.Address)),
		slog.String("token_ref", hex.EncodeToString(sum[:6])),
		slog.Time("expires_at", msg.ExpiresAt),
	)
	return nil
}

// maskAddress keeps the first character of the local part and the domain.
func maskAddress(addr string) string {
	local, domain, ok := strings.Cut(addr, "@")
	if !ok || local == "" {
		return "***"
	}
	return local[:1] + "***@" + domain
}
