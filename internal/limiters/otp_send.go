package limiters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrOTPSendRateLimited        = errors.New("otp send rate limited")
	ErrOTPSendLimiterUnavailable = errors.New("otp send limiter unavailable")
)

// OTPSendConfig bounds how many codes may be sent within Window.
// A zero MaxSends disables the check.
type OTPSendConfig struct {
	MaxSends         int
	Window           time.Duration
	EnableIPThrottle bool
}

// OTPSendLimiter counts code deliveries per identifier and, optionally, per
// client IP.
type OTPSendLimiter struct {
	redis  redis.UniversalClient
	config OTPSendConfig
}

func NewOTPSendLimiter(redisClient redis.UniversalClient, cfg OTPSendConfig) *OTPSendLimiter {
	return &OTPSendLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckSend records one send attempt and fails once the window is exhausted.
func (l *OTPSendLimiter) CheckSend(ctx context.Context, purpose, identifier, ip string) error {
	if l == nil || l.config.MaxSends <= 0 {
		return nil
	}
	if err := l.enforceFixedWindow(ctx, otpSendIdentifierKey(purpose, identifier)); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceFixedWindow(ctx, otpSendIPKey(ip)); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears the identifier counter.
func (l *OTPSendLimiter) Reset(ctx context.Context, purpose, identifier string) error {
	if l == nil {
		return nil
	}
	if err := l.redis.Del(ctx, otpSendIdentifierKey(purpose, identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrOTPSendLimiterUnavailable, err)
	}
	return nil
}

func (l *OTPSendLimiter) enforceFixedWindow(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOTPSendLimiterUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrOTPSendLimiterUnavailable, err)
		}
	}

	if count > int64(l.config.MaxSends) {
		return ErrOTPSendRateLimited
	}

	return nil
}

func otpSendIdentifierKey(purpose, identifier string) string {
	return "aots:" + purpose + ":" + strings.ToLower(strings.TrimSpace(identifier))
}

func otpSendIPKey(ip string) string {
	return "aotsip:" + ip
}
