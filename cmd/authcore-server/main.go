package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/labelforge/authcore"
	"github.com/labelforge/authcore/internal/logging"
)

func main() {
	_ = godotenv.Load()

	cfg, err := loadServerConfig()
	if err != nil {
		slog.Error("failed to load server config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	authCfg, err := authcore.LoadConfigFromEnv()
	if err != nil {
		slog.Error("failed to load auth config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logging.New("authcore", cfg.LogLevel)
	log.Info("starting authcore",
		slog.String("environment", cfg.Environment),
		slog.String("http_addr", cfg.HTTPAddr),
	)

	application, err := newApp(cfg, authCfg, log)
	if err != nil {
		log.Error("failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := application.run(ctx); err != nil {
		log.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("authcore stopped")
}
