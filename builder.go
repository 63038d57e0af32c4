package authcore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/labelforge/authcore/account"
	"github.com/labelforge/authcore/internal/audit"
	"github.com/labelforge/authcore/internal/logging"
	"github.com/labelforge/authcore/internal/rate"
	"github.com/labelforge/authcore/internal/stores"
	"github.com/labelforge/authcore/jwt"
	"github.com/labelforge/authcore/notify"
	"github.com/labelforge/authcore/password"
	"github.com/labelforge/authcore/registry"
)

const tracerName = "github.com/labelforge/authcore"

// Builder collects the engine's collaborators. A Builder can be used for
// exactly one Build.
type Builder struct {
	config         Config
	redis          redis.UniversalClient
	accounts       account.Store
	sender         notify.Sender
	outboxConfig   notify.OutboxConfig
	logger         *slog.Logger
	auditSink      AuditSink
	tracerProvider trace.TracerProvider
	now            func() time.Time

	built bool
}

// New returns a Builder preloaded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config:       DefaultConfig(),
		outboxConfig: notify.DefaultOutboxConfig(),
	}
}

// WithConfig replaces the whole configuration. Build validates it.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the client backing the token registry, reset tokens and
// throttles.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccountStore sets the credential store. Required.
func (b *Builder) WithAccountStore(store account.Store) *Builder {
	b.accounts = store
	return b
}

// WithNotifier sets where password reset messages are delivered. Required
// while password reset is enabled.
func (b *Builder) WithNotifier(sender notify.Sender) *Builder {
	b.sender = sender
	return b
}

// WithOutboxConfig tunes the notification outbox workers and retries.
func (b *Builder) WithOutboxConfig(cfg notify.OutboxConfig) *Builder {
	b.outboxConfig = cfg
	return b
}

// WithLogger sets the engine logger. Defaults to a discard logger.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets where audit events are dispatched.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithTracerProvider sets the provider for operation spans. Defaults to the
// global otel provider.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracerProvider = tp
	return b
}

// WithClock replaces time.Now for lockout windows, token timestamps and
// reset expiry.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.accounts == nil {
		return nil, errors.New("account store required")
	}
	if cfg.PasswordReset.Enabled && b.sender == nil {
		return nil, errors.New("password reset requires a notifier")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = logging.Discard()
	}
	tp := b.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	hasher, err := password.NewHasher(cfg.Password.params())
	if err != nil {
		return nil, err
	}
	tokens, err := jwt.NewManager(cfg.JWT.managerConfig(), jwt.WithClock(now))
	if err != nil {
		return nil, err
	}

	prefix := cfg.Security.RedisPrefix
	e := &Engine{
		config:   cfg,
		now:      now,
		logger:   logger,
		tracer:   tp.Tracer(tracerName),
		validate: newValidator(),
		accounts: b.accounts,
		creds: &credentials{
			store:      b.accounts,
			hasher:     hasher,
			policy:     cfg.Password,
			maxRetries: cfg.Lockout.MaxRetries,
			logger:     logger,
		},
		lockout:  newLockoutGuard(b.accounts, cfg.Lockout, now),
		tokens:   tokens,
		registry: registry.NewRedis(b.redis, prefix+":rt", registry.WithClock(now)),
		limiter: rate.New(b.redis, rate.Config{
			Prefix:                   prefix + ":rl",
			MaxLoginFailuresPerIP:    cfg.Security.MaxLoginFailuresPerIP,
			LoginIPWindow:            cfg.Security.LoginIPWindow,
			MaxResetRequestsPerEmail: cfg.PasswordReset.MaxRequestsPerEmail,
			MaxResetRequestsPerIP:    cfg.PasswordReset.MaxRequestsPerIP,
			ResetRequestWindow:       cfg.PasswordReset.RequestWindow,
		}),
		metrics: NewMetrics(cfg.Metrics),
	}
	if cfg.PasswordReset.Enabled {
		e.resets = stores.NewPasswordResetStore(b.redis, prefix+":pr", now)
		e.outbox = notify.NewOutbox(b.sender, b.outboxConfig, logger)
		e.resetDelay = randomDelay(cfg.PasswordReset.MinDelay, cfg.PasswordReset.MaxDelay)
	}

	sink := b.auditSink
	if sink == nil {
		sink = audit.NewSlogSink(logger)
	}
	e.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink)

	b.built = true
	return e, nil
}

// randomDelay sleeps for a uniformly drawn duration in [lo, hi].
func randomDelay(lo, hi time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		if hi <= 0 {
			return nil
		}
		delay := lo
		if span := int64(hi - lo); span > 0 {
			n, err := rand.Int(rand.Reader, big.NewInt(span+1))
			if err != nil {
				return fmt.Errorf("draw delay: %w", err)
			}
			delay += time.Duration(n.Int64())
		}
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
