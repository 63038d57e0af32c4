package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/labelforge/authcore"
	"github.com/labelforge/authcore/account"
	"github.com/labelforge/authcore/internal/httpapi"
	promexport "github.com/labelforge/authcore/metrics/export/prometheus"
	"github.com/labelforge/authcore/notify"
)

type app struct {
	cfg        serverConfig
	logger     *slog.Logger
	pool       *pgxpool.Pool
	redis      *redis.Client
	kafka      *notify.KafkaSender
	tracer     *sdktrace.TracerProvider
	engine     *authcore.Engine
	httpServer *http.Server
}

func newApp(cfg serverConfig, authCfg authcore.Config, logger *slog.Logger) (*app, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			AttachStacktrace: true,
		}); err != nil {
			logger.Error("sentry init failed", slog.String("error", err.Error()))
		}
	}

	a := &app{cfg: cfg, logger: logger}
	a.tracer = sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TraceSampleRate))),
	)

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	if err := pool.Ping(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := account.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	a.redis = redis.NewClient(redisOpts)
	if err := a.redis.Ping(ctx).Err(); err != nil {
		a.close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	var sender notify.Sender
	if len(cfg.KafkaBrokers) > 0 {
		kcfg := notify.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic}
		a.kafka = notify.NewKafkaSender(notify.NewKafkaWriter(kcfg), kcfg, logger)
		sender = a.kafka
		logger.Info("reset notifications via kafka", slog.Any("brokers", cfg.KafkaBrokers))
	} else {
		sender = notify.NewLogSender(logger)
		logger.Warn("KAFKA_BROKERS not set, reset notifications are only logged")
	}

	engine, err := authcore.New().
		WithConfig(authCfg).
		WithAccountStore(store).
		WithRedis(a.redis).
		WithNotifier(sender).
		WithLogger(logger).
		WithTracerProvider(a.tracer).
		Build()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("build engine: %w", err)
	}
	a.engine = engine

	router := httpapi.NewRouter(engine, logger, httpapi.Config{
		MetricsHandler:    promexport.NewCollector(engine).Handler(),
		TrustProxyHeaders: cfg.TrustProxyHeaders,
	})
	a.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// run serves HTTP until ctx is canceled, then shuts down.
func (a *app) run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.close()
		return err
	}
	return a.shutdown()
}

// shutdown drains HTTP first so in-flight requests can still enqueue
// notifications and audit events, then drains the engine.
func (a *app) shutdown() error {
	var errs []error

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := a.engine.Close(ctx); err != nil {
		a.logger.Error("engine drain error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	a.close()
	sentry.Flush(2 * time.Second)

	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// close releases connections. It is safe on a partially built app.
func (a *app) close() {
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.logger.Error("kafka writer close error", slog.String("error", err.Error()))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
