package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/MrEthical07/acctguard"
)

const (
	notifierLog     = "log"
	notifierKafka   = "kafka"
	notifierWebhook = "webhook"

	auditLog  = "log"
	auditJSON = "json"
)

// serverConfig is the process configuration around the engine.
type serverConfig struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Empty DatabaseURL keeps accounts in process memory.
	DatabaseURL string `env:"DATABASE_URL"`
	AutoMigrate bool   `env:"DB_AUTO_MIGRATE" envDefault:"true"`

	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	Notifier     string   `env:"NOTIFIER" envDefault:"log"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	KafkaTopic   string   `env:"KAFKA_OTP_TOPIC" envDefault:"acctguard.otp"`
	WebhookURL   string   `env:"NOTIFY_WEBHOOK_URL"`
	WebhookToken string   `env:"NOTIFY_WEBHOOK_TOKEN"`

	// AuditFormat selects how audit events are written when AUDIT_ENABLED is set.
	AuditFormat string `env:"AUDIT_FORMAT" envDefault:"log"`

	TracingEnabled bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTLPEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	SampleRate     float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Zero values select the environment default.
	RateLimitMax    int           `env:"RATE_LIMIT_MAX"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW"`
}

type config struct {
	Server serverConfig
	Engine acctguard.Config
}

func loadConfig(environ map[string]string) (*config, error) {
	var srv serverConfig
	if err := env.ParseWithOptions(&srv, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("%w: %v", acctguard.ErrConfiguration, err)
	}

	engineCfg, err := acctguard.LoadConfigFrom(environ)
	if err != nil {
		return nil, err
	}

	srv.Notifier = strings.ToLower(strings.TrimSpace(srv.Notifier))
	switch srv.Notifier {
	case notifierLog:
		if engineCfg.Security.IsProduction() {
			return nil, fmt.Errorf("%w: NOTIFIER=log is not allowed in production", acctguard.ErrConfiguration)
		}
	case notifierKafka:
		if len(srv.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("%w: KAFKA_BROKERS is required", acctguard.ErrConfiguration)
		}
	case notifierWebhook:
		if srv.WebhookURL == "" {
			return nil, fmt.Errorf("%w: NOTIFY_WEBHOOK_URL is required", acctguard.ErrConfiguration)
		}
	default:
		return nil, fmt.Errorf("%w: unknown NOTIFIER %q", acctguard.ErrConfiguration, srv.Notifier)
	}

	srv.AuditFormat = strings.ToLower(strings.TrimSpace(srv.AuditFormat))
	if srv.AuditFormat != auditLog && srv.AuditFormat != auditJSON {
		return nil, fmt.Errorf("%w: unknown AUDIT_FORMAT %q", acctguard.ErrConfiguration, srv.AuditFormat)
	}

	if srv.SampleRate < 0 || srv.SampleRate > 1 {
		return nil, fmt.Errorf("%w: OTEL_SAMPLE_RATE must be between 0 and 1", acctguard.ErrConfiguration)
	}

	return &config{Server: srv, Engine: engineCfg}, nil
}
