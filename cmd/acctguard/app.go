package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/acctguard"
	"github.com/MrEthical07/acctguard/httpapi"
	"github.com/MrEthical07/acctguard/internal/tracing"
	"github.com/MrEthical07/acctguard/notify"
	"github.com/MrEthical07/acctguard/store/memory"
	"github.com/MrEthical07/acctguard/store/postgres"
)

// app wires the engine to its backends and serves HTTP until shutdown.
type app struct {
	cfg    *config
	logger *slog.Logger

	engine         *acctguard.Engine
	redis          *redis.Client
	pool           *pgxpool.Pool
	closers        []func() error
	shutdownTracer func(context.Context) error
	httpServer     *http.Server
}

func newApp(ctx context.Context, cfg *config, log *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: log}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	a.shutdownTracer, err = tracing.Init(initCtx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Engine.Security.Environment,
		OTLPEndpoint:   cfg.Server.OTLPEndpoint,
		SampleRate:     cfg.Server.SampleRate,
		Enabled:        cfg.Server.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.Server.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("%w: REDIS_URL: %v", acctguard.ErrConfiguration, err)
	}
	a.redis = redis.NewClient(redisOpts)
	if err := a.redis.Ping(initCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	log.Info("connected to redis", slog.String("addr", redisOpts.Addr))

	accounts, err := a.credentialStore(initCtx)
	if err != nil {
		return nil, err
	}

	notifier, err := a.notifier()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	builder := acctguard.New().
		WithConfig(cfg.Engine).
		WithRedis(a.redis).
		WithCredentialStore(accounts).
		WithNotifier(notifier).
		WithLogger(log).
		WithMetricsRegisterer(reg)
	if cfg.Engine.Audit.Enabled {
		builder = builder.WithAuditSink(auditSink(cfg.Server.AuditFormat, log))
	}
	a.engine, err = builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	checks := map[string]httpapi.HealthCheck{
		"redis": func(ctx context.Context) error { return a.redis.Ping(ctx).Err() },
	}
	if a.pool != nil {
		checks["postgres"] = a.pool.Ping
	}

	rateLimit := httpapi.DefaultRateLimit(cfg.Engine.Security.IsProduction())
	if cfg.Server.RateLimitMax > 0 {
		rateLimit.Limit = cfg.Server.RateLimitMax
	}
	if cfg.Server.RateLimitWindow > 0 {
		rateLimit.Window = cfg.Server.RateLimitWindow
	}

	router := httpapi.NewRouter(a.engine, httpapi.Options{
		Logger:       log,
		Registerer:   reg,
		Gatherer:     reg,
		Development:  !cfg.Engine.Security.IsProduction(),
		RateLimit:    rateLimit,
		HealthChecks: checks,
	})

	a.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return a, nil
}

func (a *app) credentialStore(ctx context.Context) (acctguard.CredentialStore, error) {
	if a.cfg.Server.DatabaseURL == "" {
		if a.cfg.Engine.Security.IsProduction() {
			return nil, fmt.Errorf("%w: DATABASE_URL is required in production", acctguard.ErrConfiguration)
		}
		a.logger.Warn("DATABASE_URL not set; accounts are kept in memory")
		return memory.NewAccountStore(nil), nil
	}

	pool, err := pgxpool.New(ctx, a.cfg.Server.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: DATABASE_URL: %v", acctguard.ErrConfiguration, err)
	}
	a.pool = pool
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.logger.Info("connected to postgres")

	if a.cfg.Server.AutoMigrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		a.logger.Info("database migrations applied")
	}
	return postgres.NewAccountStore(pool), nil
}

func (a *app) notifier() (acctguard.Notifier, error) {
	srv := a.cfg.Server
	switch srv.Notifier {
	case notifierKafka:
		n := notify.NewKafkaNotifier(notify.KafkaConfig{
			Brokers: srv.KafkaBrokers,
			Topic:   srv.KafkaTopic,
			Source:  serviceName,
		}, a.logger)
		a.closers = append(a.closers, n.Close)
		a.logger.Info("kafka notifier initialized", slog.Any("brokers", srv.KafkaBrokers), slog.String("topic", srv.KafkaTopic))
		return n, nil
	case notifierWebhook:
		wcfg := notify.DefaultWebhookConfig(srv.WebhookURL)
		wcfg.BearerToken = srv.WebhookToken
		a.logger.Info("webhook notifier initialized", slog.String("url", srv.WebhookURL))
		return notify.NewWebhookNotifier(wcfg, a.logger), nil
	default:
		a.logger.Warn("log notifier in use; codes are written to the log")
		return notify.NewLogNotifier(a.logger), nil
	}
}

// Run serves HTTP and blocks until ctx is canceled or the server fails.
func (a *app) Run(ctx context.Context) error {
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

	return a.Shutdown()
}

// Shutdown drains HTTP connections and then closes every backend.
func (a *app) Shutdown() error {
	a.logger.Info("shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	a.close()
	a.logger.Info("application shutdown complete")
	return nil
}

func (a *app) close() {
	a.engine.Close()

	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Error("close error", slog.String("error", err.Error()))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}
	if a.shutdownTracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTracer(ctx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		}
	}
}

func auditSink(format string, log *slog.Logger) acctguard.AuditSink {
	if format == auditJSON {
		return acctguard.NewJSONWriterSink(os.Stdout)
	}
	return acctguard.NewSlogSink(log.With(slog.String("component", "audit")))
}
