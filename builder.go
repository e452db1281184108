package acctguard

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrEthical07/acctguard/internal/limiters"
	"github.com/MrEthical07/acctguard/internal/logger"
	"github.com/MrEthical07/acctguard/jwt"
	"github.com/MrEthical07/acctguard/password"
)

const instrumentationName = "github.com/MrEthical07/acctguard"

// Builder assembles an Engine. A Builder is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	accounts   CredentialStore
	otps       OTPStore
	notifier   Notifier
	logger     *slog.Logger
	auditSink  AuditSink
	registerer prometheus.Registerer
	tracer     trace.TracerProvider
	now        func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis supplies the Redis client used for the default OTP store and
// the OTP send throttle.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.accounts = store
	return b
}

// WithOTPStore overrides the Redis-backed OTP store.
func (b *Builder) WithOTPStore(store OTPStore) *Builder {
	b.otps = store
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink sets the audit destination. Audit.Enabled must also be set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsRegisterer enables Prometheus metrics registered on reg.
func (b *Builder) WithMetricsRegisterer(reg prometheus.Registerer) *Builder {
	b.registerer = reg
	return b
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracer = tp
	return b
}

// WithClock replaces time.Now for token issuance, lockout and OTP expiry.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and dependencies. Every validation
// failure wraps ErrConfiguration.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.accounts == nil {
		return nil, configErr("credential store required")
	}
	if b.notifier == nil {
		return nil, configErr("notifier required")
	}

	otps := b.otps
	if otps == nil {
		if b.redis == nil {
			return nil, configErr("OTP store or redis client required")
		}
		otps = NewRedisOTPStore(b.redis, cfg.OTP.RedisPrefix)
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	tokens, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.MethodHS256,
		Access:        jwt.KeyConfig{Secret: []byte(cfg.Token.AccessSecret), TTL: cfg.Token.AccessTTL},
		Refresh:       jwt.KeyConfig{Secret: []byte(cfg.Token.RefreshSecret), TTL: cfg.Token.RefreshTTL},
		Issuer:        cfg.Token.Issuer,
		Leeway:        cfg.Token.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	log := b.logger
	if log == nil {
		log = logger.Discard()
	}

	tp := b.tracer
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	var metrics *Metrics
	if b.registerer != nil {
		metrics = NewMetrics(b.registerer)
	}

	var sendLimiter *limiters.OTPSendLimiter
	if b.redis != nil && cfg.OTP.SendLimit > 0 {
		sendLimiter = limiters.NewOTPSendLimiter(b.redis, limiters.OTPSendConfig{
			MaxSends:         cfg.OTP.SendLimit,
			Window:           cfg.OTP.SendWindow,
			EnableIPThrottle: cfg.OTP.EnableIPThrottle,
		})
	}

	b.built = true

	return &Engine{
		config:      cfg,
		logger:      log,
		tracer:      tp.Tracer(instrumentationName),
		metrics:     metrics,
		audit:       newAuditDispatcher(cfg.Audit, b.auditSink, metrics.auditDrop),
		tokens:      tokens,
		hasher:      hasher,
		policy:      cfg.Lockout.Policy(),
		accounts:    b.accounts,
		otps:        otps,
		notifier:    b.notifier,
		sendLimiter: sendLimiter,
		now:         now,
	}, nil
}
