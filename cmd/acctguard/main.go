// Command acctguard serves the account-security HTTP API.
//
// Configuration is read from the environment; see config.go for the server
// variables and acctguard.Config for the engine ones.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MrEthical07/acctguard"
	"github.com/MrEthical07/acctguard/internal/logger"
)

const serviceName = "acctguard"

var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		if errors.Is(err, acctguard.ErrConfiguration) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig(environ())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(serviceName, cfg.Server.LogLevel)
	slog.SetDefault(log)
	log.Info("starting acctguard",
		slog.String("version", version),
		slog.String("environment", cfg.Engine.Security.Environment),
		slog.String("http_addr", cfg.Server.HTTPAddr),
		slog.String("notifier", cfg.Server.Notifier),
		slog.Bool("postgres", cfg.Server.DatabaseURL != ""),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := newApp(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}

	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("run application: %w", err)
	}

	log.Info("acctguard stopped")
	return nil
}

func environ() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}
