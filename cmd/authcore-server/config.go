package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// serverConfig holds the process settings. Engine settings are read
// separately by authcore.LoadConfigFromEnv.
type serverConfig struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	HTTPAddr          string        `env:"HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	TrustProxyHeaders bool          `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	// Reset messages go to Kafka when brokers are set, otherwise to the log.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_NOTIFY_TOPIC" envDefault:"auth.notifications"`

	SentryDSN       string  `env:"SENTRY_DSN"`
	TraceSampleRate float64 `env:"TRACE_SAMPLE_RATE" envDefault:"0.1"`
}

func loadServerConfig() (serverConfig, error) {
	var cfg serverConfig
	if err := env.Parse(&cfg); err != nil {
		return serverConfig{}, fmt.Errorf("parse server config: %w", err)
	}
	if cfg.TraceSampleRate < 0 || cfg.TraceSampleRate > 1 {
		return serverConfig{}, fmt.Errorf("TRACE_SAMPLE_RATE must be within [0, 1], got %v", cfg.TraceSampleRate)
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		return serverConfig{}, fmt.Errorf("KAFKA_NOTIFY_TOPIC is required when KAFKA_BROKERS is set")
	}
	return cfg, nil
}
