package acctguard

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/acctguard/internal/stores"
)

// redisOTPStore adapts the internal Redis record store to OTPStore and maps
// its errors onto the engine's taxonomy.
type redisOTPStore struct {
	store *stores.OTPStore
}

// NewRedisOTPStore returns an OTPStore backed by Redis. Records live under
// prefix (default "aotp").
func NewRedisOTPStore(client redis.UniversalClient, prefix string) OTPStore {
	return &redisOTPStore{store: stores.NewOTPStore(client, prefix)}
}

func toStoreKey(k OTPKey) stores.OTPKey {
	return stores.OTPKey{
		Channel:    string(k.Channel),
		Identifier: NormalizeIdentifier(k.Identifier),
		Purpose:    string(k.Purpose),
	}
}

func (s *redisOTPStore) Save(ctx context.Context, key OTPKey, code string, expiresAt, now time.Time) error {
	if err := s.store.Save(ctx, toStoreKey(key), code, expiresAt, now); err != nil {
		return upstream(err)
	}
	return nil
}

func (s *redisOTPStore) Consume(ctx context.Context, key OTPKey, code string, now time.Time, maxAttempts int) error {
	err := s.store.Consume(ctx, toStoreKey(key), code, now, maxAttempts)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrOTPNotFound):
		return ErrNoOTPPending
	case errors.Is(err, stores.ErrOTPExpired):
		return ErrOTPExpired
	case errors.Is(err, stores.ErrOTPMismatch), errors.Is(err, stores.ErrOTPAttemptsExceeded):
		return ErrOTPMismatch
	default:
		return upstream(err)
	}
}

func (s *redisOTPStore) Discard(ctx context.Context, key OTPKey, code string) error {
	if err := s.store.Discard(ctx, toStoreKey(key), code); err != nil {
		return upstream(err)
	}
	return nil
}
