package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultOTPPrefix = "aotp"
	// expiredGrace keeps a record readable after its logical expiry.
	expiredGrace = 10 * time.Minute
)

var (
	ErrOTPNotFound         = errors.New("otp record not found")
	ErrOTPExpired          = errors.New("otp record expired")
	ErrOTPMismatch         = errors.New("otp code mismatch")
	ErrOTPAttemptsExceeded = errors.New("otp attempts exceeded")
	ErrOTPRedisUnavailable = errors.New("otp redis unavailable")
)

// consumeOTPLua atomically validates and deletes an OTP record.
// KEYS[1] = record key
// ARGV[1] = provided code
// ARGV[2] = current unix milliseconds
// ARGV[3] = max attempts (0 = unlimited)
//
// Returns:
//
//	"ok" on success
//	error string: "not_found", "expired", "attempts_exceeded", "mismatch"
var consumeOTPLua = redis.NewScript(`
local data = redis.call('HMGET', KEYS[1], 'code', 'exp', 'attempts')
if not data[1] then
  return {err='not_found'}
end

local nowMs = tonumber(ARGV[2])
local maxAttempts = tonumber(ARGV[3])

if nowMs > tonumber(data[2]) then
  redis.call('DEL', KEYS[1])
  return {err='expired'}
end

if data[1] ~= ARGV[1] then
  local attempts = tonumber(data[3] or '0') + 1
  if maxAttempts > 0 and attempts >= maxAttempts then
    redis.call('DEL', KEYS[1])
    return {err='attempts_exceeded'}
  end
  redis.call('HSET', KEYS[1], 'attempts', attempts)
  return {err='mismatch'}
end

redis.call('DEL', KEYS[1])
return 'ok'
`)

// discardOTPLua deletes the record only if it still holds ARGV[1].
var discardOTPLua = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'code') == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// OTPKey addresses one pending code.
type OTPKey struct {
	Channel    string
	Identifier string
	Purpose    string
}

// OTPRecord is the stored form of a pending code.
type OTPRecord struct {
	Code      string
	ExpiresAt time.Time
	Attempts  int
}

// OTPStore persists OTP records in Redis.
type OTPStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewOTPStore returns a store using prefix for its key namespace.
func NewOTPStore(redisClient redis.UniversalClient, prefix string) *OTPStore {
	if prefix == "" {
		prefix = defaultOTPPrefix
	}
	return &OTPStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *OTPStore) key(k OTPKey) string {
	return s.prefix + ":" + k.Purpose + ":" + k.Channel + ":" + strings.ToLower(strings.TrimSpace(k.Identifier))
}

// Save replaces any record for k with a fresh one expiring at expiresAt.
func (s *OTPStore) Save(ctx context.Context, k OTPKey, code string, expiresAt time.Time, now time.Time) error {
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		return errors.New("otp expiry must be in the future")
	}

	key := s.key(k)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"code", code,
			"exp", expiresAt.UnixMilli(),
			"attempts", 0,
		)
		pipe.PExpire(ctx, key, ttl+expiredGrace)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	return nil
}

// Get reads the pending record for k without consuming it.
func (s *OTPStore) Get(ctx context.Context, k OTPKey) (*OTPRecord, error) {
	values, err := s.redis.HGetAll(ctx, s.key(k)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	if len(values) == 0 {
		return nil, ErrOTPNotFound
	}

	expMs, err := strconv.ParseInt(values["exp"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid expiry field", ErrOTPRedisUnavailable)
	}
	attempts, _ := strconv.Atoi(values["attempts"])

	return &OTPRecord{
		Code:      values["code"],
		ExpiresAt: time.UnixMilli(expMs),
		Attempts:  attempts,
	}, nil
}

// Consume verifies code against the record for k and deletes it on success
// or expiry. A mismatch increments the attempt count; reaching maxAttempts
// deletes the record.
func (s *OTPStore) Consume(ctx context.Context, k OTPKey, code string, now time.Time, maxAttempts int) error {
	result, err := consumeOTPLua.Run(ctx, s.redis,
		[]string{s.key(k)},
		code,
		now.UnixMilli(),
		maxAttempts,
	).Result()
	if err != nil {
		switch err.Error() {
		case "not_found":
			return ErrOTPNotFound
		case "expired":
			return ErrOTPExpired
		case "attempts_exceeded":
			return ErrOTPAttemptsExceeded
		case "mismatch":
			return ErrOTPMismatch
		default:
			return fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
		}
	}

	status, ok := result.(string)
	if !ok || status != "ok" {
		return fmt.Errorf("%w: unexpected lua result", ErrOTPRedisUnavailable)
	}
	return nil
}

// Discard deletes the record for k only if it still holds code, so a newer
// code sent concurrently is left alone.
func (s *OTPStore) Discard(ctx context.Context, k OTPKey, code string) error {
	if err := discardOTPLua.Run(ctx, s.redis, []string{s.key(k)}, code).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	return nil
}
