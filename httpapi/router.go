// Package httpapi is the JSON wire surface of the engine, mounted under
// /api/auth on a chi router.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrEthical07/acctguard"
	"github.com/MrEthical07/acctguard/internal/logger"
	"github.com/MrEthical07/acctguard/middleware"
)

// Options configures NewRouter.
type Options struct {
	Logger *slog.Logger

	// Registerer receives the HTTP collectors and Gatherer backs /metrics.
	// Both nil disables metrics.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	// Development exposes error details in responses.
	Development bool

	RateLimit    RateLimitConfig
	HealthChecks map[string]HealthCheck
}

// DefaultRateLimit is 100 requests per 15 minutes per IP in production and
// 1000 otherwise.
func DefaultRateLimit(production bool) RateLimitConfig {
	if production {
		return RateLimitConfig{Limit: 100, Window: 15 * time.Minute}
	}
	return RateLimitConfig{Limit: 1000, Window: 15 * time.Minute}
}

// NewRouter returns the HTTP handler for engine.
func NewRouter(engine *acctguard.Engine, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}

	h := &Handler{
		engine: engine,
		errors: errorWriter{logger: log, development: opts.Development},
		checks: opts.HealthChecks,
	}
	onError := middleware.ErrorWriter(h.errors.write)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(RequestLogger(log))
	if opts.Registerer != nil {
		r.Use(newHTTPMetrics(opts.Registerer).middleware)
	}

	r.Get("/health", h.Health)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.Use(RateLimit(opts.RateLimit))

		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/otp/send", h.SendOTP)
		r.Post("/otp/verify", h.VerifyOTP)
		r.Post("/refresh", h.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Protect(engine, onError))

			r.Post("/logout", h.Logout)
			r.Get("/me", h.Me)

			r.With(middleware.RequireRoles(engine, onError, acctguard.RoleAdmin)).
				Post("/accounts/{id}/unlock", h.Unlock)
		})
	})

	return r
}
