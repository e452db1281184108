package memory

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/MrEthical07/acctguard"
)

type otpRecord struct {
	code      string
	expiresAt time.Time
	attempts  int
}

// OTPStore keeps one-time codes in a map. Expired records are removed when
// they are next consumed.
type OTPStore struct {
	mu      sync.Mutex
	records map[acctguard.OTPKey]otpRecord
}

func NewOTPStore() *OTPStore {
	return &OTPStore{records: make(map[acctguard.OTPKey]otpRecord)}
}

func normalizeKey(k acctguard.OTPKey) acctguard.OTPKey {
	k.Identifier = acctguard.NormalizeIdentifier(k.Identifier)
	return k
}

func (s *OTPStore) Save(_ context.Context, key acctguard.OTPKey, code string, expiresAt, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[normalizeKey(key)] = otpRecord{code: code, expiresAt: expiresAt}
	return nil
}

// Consume follows the same rules as the Redis store: a code is valid up to
// and including its expiry instant, and the record is deleted on success, on
// expiry, or when mismatches reach maxAttempts (0 means unlimited).
func (s *OTPStore) Consume(_ context.Context, key acctguard.OTPKey, code string, now time.Time, maxAttempts int) error {
	key = normalizeKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return acctguard.ErrNoOTPPending
	}
	if now.After(rec.expiresAt) {
		delete(s.records, key)
		return acctguard.ErrOTPExpired
	}
	if subtle.ConstantTimeCompare([]byte(rec.code), []byte(code)) != 1 {
		rec.attempts++
		if maxAttempts > 0 && rec.attempts >= maxAttempts {
			delete(s.records, key)
		} else {
			s.records[key] = rec
		}
		return acctguard.ErrOTPMismatch
	}

	delete(s.records, key)
	return nil
}

func (s *OTPStore) Discard(_ context.Context, key acctguard.OTPKey, code string) error {
	key = normalizeKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[key]; ok && rec.code == code {
		delete(s.records, key)
	}
	return nil
}

// Pending reports whether a record exists for key.
func (s *OTPStore) Pending(key acctguard.OTPKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.records[normalizeKey(key)]
	return ok
}
