package acctguard

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/MrEthical07/acctguard/lockout"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	minProductionSecretBytes = 32
)

// Config is the engine configuration. Every field has an environment
// variable; see LoadConfig.
type Config struct {
	Token    TokenConfig
	Lockout  LockoutConfig
	OTP      OTPConfig
	Password PasswordConfig
	Security SecurityConfig
	Audit    AuditConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig configures access and refresh token signing.
type TokenConfig struct {
	AccessSecret  string        `env:"JWT_SECRET"`
	AccessTTL     time.Duration `env:"JWT_EXPIRE" envDefault:"168h"`
	RefreshSecret string        `env:"JWT_REFRESH_SECRET"`
	RefreshTTL    time.Duration `env:"JWT_REFRESH_EXPIRE" envDefault:"720h"`
	Issuer        string        `env:"JWT_ISSUER"`
	Leeway        time.Duration `env:"JWT_LEEWAY" envDefault:"0s"`
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig configures the brute-force lockout policy.
type LockoutConfig struct {
	Threshold int           `env:"LOCKOUT_THRESHOLD" envDefault:"5"`
	Duration  time.Duration `env:"LOCKOUT_DURATION" envDefault:"2h"`
}

// Policy converts the configuration into a lockout.Policy.
func (c LockoutConfig) Policy() lockout.Policy {
	return lockout.Policy{Threshold: c.Threshold, Duration: c.Duration}
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig configures one-time code generation, verification and send throttling.
type OTPConfig struct {
	Digits           int           `env:"OTP_DIGITS" envDefault:"6"`
	TTL              time.Duration `env:"OTP_TTL" envDefault:"5m"`
	MaxAttempts      int           `env:"OTP_MAX_ATTEMPTS" envDefault:"5"`
	SendLimit        int           `env:"OTP_SEND_LIMIT" envDefault:"5"`
	SendWindow       time.Duration `env:"OTP_SEND_WINDOW" envDefault:"15m"`
	EnableIPThrottle bool          `env:"OTP_IP_THROTTLE" envDefault:"false"`
	RedisPrefix      string        `env:"OTP_REDIS_PREFIX" envDefault:"aotp"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig configures argon2id cost and the password policy.
type PasswordConfig struct {
	Memory         uint32 `env:"PASSWORD_MEMORY_KB" envDefault:"65536"`
	Time           uint32 `env:"PASSWORD_TIME" envDefault:"3"`
	Parallelism    uint8  `env:"PASSWORD_PARALLELISM" envDefault:"2"`
	SaltLength     uint32 `env:"PASSWORD_SALT_LENGTH" envDefault:"16"`
	KeyLength      uint32 `env:"PASSWORD_KEY_LENGTH" envDefault:"32"`
	MinLength      int    `env:"PASSWORD_MIN_LENGTH" envDefault:"8"`
	UpgradeOnLogin bool   `env:"PASSWORD_UPGRADE_ON_LOGIN" envDefault:"true"`
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds deployment-wide switches.
type SecurityConfig struct {
	Environment     string        `env:"APP_ENV" envDefault:"development"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"5s"`
	DefaultRole     Role          `env:"DEFAULT_ROLE" envDefault:"student"`
}

// IsProduction reports whether the deployment runs in production mode. Outside
// production, issued codes are logged and error details reach clients.
func (c SecurityConfig) IsProduction() bool {
	return strings.EqualFold(c.Environment, EnvProduction)
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig configures the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `env:"AUDIT_ENABLED" envDefault:"false"`
	BufferSize int  `env:"AUDIT_BUFFER_SIZE" envDefault:"1024"`
	DropIfFull bool `env:"AUDIT_DROP_IF_FULL" envDefault:"true"`
}

// DefaultConfig returns the defaults without secrets. Callers must set
// Token.AccessSecret and Token.RefreshSecret.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:  7 * 24 * time.Hour,
			RefreshTTL: 30 * 24 * time.Hour,
		},
		Lockout: LockoutConfig{
			Threshold: lockout.DefaultThreshold,
			Duration:  lockout.DefaultDuration,
		},
		OTP: OTPConfig{
			Digits:      6,
			TTL:         5 * time.Minute,
			MaxAttempts: 5,
			SendLimit:   5,
			SendWindow:  15 * time.Minute,
			RedisPrefix: "aotp",
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      8,
			UpgradeOnLogin: true,
		},
		Security: SecurityConfig{
			Environment:     EnvDevelopment,
			UpstreamTimeout: 5 * time.Second,
			DefaultRole:     RoleStudent,
		},
		Audit: AuditConfig{
			BufferSize: 1024,
			DropIfFull: true,
		},
	}
}

// LoadConfig reads the configuration from the process environment and validates it.
func LoadConfig() (Config, error) {
	return loadConfig(env.Options{})
}

// LoadConfigFrom reads the configuration from environ instead of the process
// environment.
func LoadConfigFrom(environ map[string]string) (Config, error) {
	return loadConfig(env.Options{Environment: environ})
}

func loadConfig(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration. Every failure wraps ErrConfiguration.
func (c *Config) Validate() error {
	if c.Token.AccessSecret == "" {
		return configErr("JWT_SECRET is required")
	}
	if c.Token.RefreshSecret == "" {
		return configErr("JWT_REFRESH_SECRET is required")
	}
	if c.Token.AccessSecret == c.Token.RefreshSecret {
		return configErr("JWT_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if c.Security.IsProduction() {
		if len(c.Token.AccessSecret) < minProductionSecretBytes || len(c.Token.RefreshSecret) < minProductionSecretBytes {
			return configErr(fmt.Sprintf("token secrets must be at least %d bytes in production", minProductionSecretBytes))
		}
	}
	if c.Token.AccessTTL <= 0 || c.Token.RefreshTTL <= 0 {
		return configErr("token TTLs must be > 0")
	}
	if c.Token.RefreshTTL < c.Token.AccessTTL {
		return configErr("refresh TTL must not be shorter than access TTL")
	}
	if err := c.Lockout.Policy().Validate(); err != nil {
		return configErr(err.Error())
	}
	if c.OTP.Digits < 4 || c.OTP.Digits > 10 {
		return configErr("OTP digits must be between 4 and 10")
	}
	if c.OTP.TTL <= 0 {
		return configErr("OTP TTL must be > 0")
	}
	if c.OTP.MaxAttempts < 0 {
		return configErr("OTP max attempts must be >= 0")
	}
	if c.OTP.SendLimit > 0 && c.OTP.SendWindow <= 0 {
		return configErr("OTP send window must be > 0 when a send limit is set")
	}
	if c.Password.MinLength < 8 {
		return configErr("password minimum length must be >= 8")
	}
	if appEnv := strings.ToLower(c.Security.Environment); appEnv != EnvDevelopment && appEnv != EnvProduction && appEnv != "test" {
		return configErr("APP_ENV must be development, test or production")
	}
	if c.Security.UpstreamTimeout < 0 {
		return configErr("upstream timeout must be >= 0")
	}
	if !c.Security.DefaultRole.Valid() || c.Security.DefaultRole == RoleAdmin {
		return configErr("default role must be student or instructor")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return configErr("audit buffer size must be > 0")
	}
	return nil
}

func configErr(msg string) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, msg)
}
