// Package memory provides process-local CredentialStore and OTPStore
// implementations for tests, examples and single-instance development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/acctguard"
	"github.com/MrEthical07/acctguard/lockout"
)

// AccountStore is a mutex-guarded CredentialStore. Returned accounts are
// copies; mutating them does not change the store.
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*acctguard.Account
	now      func() time.Time
}

// NewAccountStore returns an empty store. now stamps CreatedAt and UpdatedAt;
// nil means time.Now.
func NewAccountStore(now func() time.Time) *AccountStore {
	if now == nil {
		now = time.Now
	}
	return &AccountStore{
		accounts: make(map[string]*acctguard.Account),
		now:      now,
	}
}

func (s *AccountStore) FindByIdentifier(_ context.Context, identifier string) (*acctguard.Account, error) {
	identifier = acctguard.NormalizeIdentifier(identifier)
	if identifier == "" {
		return nil, acctguard.ErrRecordNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if a.Username == identifier || a.Email == identifier || a.Phone == identifier {
			return clone(a), nil
		}
	}
	return nil, acctguard.ErrRecordNotFound
}

func (s *AccountStore) FindByContact(_ context.Context, channel acctguard.Channel, value string) (*acctguard.Account, error) {
	value = acctguard.NormalizeIdentifier(value)
	if value == "" {
		return nil, acctguard.ErrRecordNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if a.Contact(channel) == value {
			return clone(a), nil
		}
	}
	return nil, acctguard.ErrRecordNotFound
}

func (s *AccountStore) FindByID(_ context.Context, id string) (*acctguard.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, acctguard.ErrRecordNotFound
	}
	return clone(a), nil
}

func (s *AccountStore) Create(_ context.Context, in acctguard.NewAccount) (*acctguard.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := acctguard.NormalizeIdentifier(in.Username)
	email := acctguard.NormalizeIdentifier(in.Email)
	phone := acctguard.NormalizeIdentifier(in.Phone)

	if field := s.conflictLocked(username, email, phone); field != "" {
		return nil, &acctguard.DuplicateIdentityError{Field: field}
	}

	now := s.now().UTC()
	a := &acctguard.Account{
		ID:            uuid.NewString(),
		FullName:      in.FullName,
		Username:      username,
		Email:         email,
		Phone:         phone,
		PasswordHash:  in.PasswordHash,
		Role:          in.Role,
		IsActive:      in.IsActive,
		PhoneVerified: in.PhoneVerified,
		EmailVerified: in.EmailVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.accounts[a.ID] = a
	return clone(a), nil
}

// conflictLocked names the first identity field already in use. Identities
// share one namespace: an email cannot collide with another account's
// username either, nor with the new account's own fields.
func (s *AccountStore) conflictLocked(username, email, phone string) string {
	taken := func(v string) bool {
		if v == "" {
			return false
		}
		for _, a := range s.accounts {
			if a.Username == v || a.Email == v || a.Phone == v {
				return true
			}
		}
		return false
	}

	switch {
	case taken(username):
		return "username"
	case taken(email), email != "" && email == username:
		return "email"
	case taken(phone), phone != "" && (phone == username || phone == email):
		return "phone"
	}
	return ""
}

func (s *AccountStore) UpdateLockoutState(_ context.Context, id string, outcome lockout.Outcome, policy lockout.Policy, now time.Time) (lockout.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return lockout.State{}, acctguard.ErrRecordNotFound
	}

	next := policy.Next(a.LockoutState(), outcome, now)
	a.FailedLoginCount = next.FailedCount
	a.LockedUntil = next.LockedUntil
	if outcome == lockout.Success {
		at := now
		a.LastLoginAt = &at
	}
	a.UpdatedAt = s.now().UTC()
	return next, nil
}

func (s *AccountStore) ResetLockout(_ context.Context, id string) error {
	return s.update(id, func(a *acctguard.Account) {
		a.FailedLoginCount = 0
		a.LockedUntil = nil
	})
}

func (s *AccountStore) SetVerified(_ context.Context, id string, channel acctguard.Channel) error {
	return s.update(id, func(a *acctguard.Account) {
		switch channel {
		case acctguard.ChannelPhone:
			a.PhoneVerified = true
		case acctguard.ChannelEmail:
			a.EmailVerified = true
		}
	})
}

func (s *AccountStore) UpdatePasswordHash(_ context.Context, id string, hash string) error {
	return s.update(id, func(a *acctguard.Account) {
		a.PasswordHash = hash
	})
}

// SetActive activates or deactivates an account.
func (s *AccountStore) SetActive(id string, active bool) error {
	return s.update(id, func(a *acctguard.Account) {
		a.IsActive = active
	})
}

// SetRole changes an account's role.
func (s *AccountStore) SetRole(id string, role acctguard.Role) error {
	return s.update(id, func(a *acctguard.Account) {
		a.Role = role
	})
}

func (s *AccountStore) update(id string, fn func(a *acctguard.Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return acctguard.ErrRecordNotFound
	}
	fn(a)
	a.UpdatedAt = s.now().UTC()
	return nil
}

func clone(a *acctguard.Account) *acctguard.Account {
	c := *a
	if a.LockedUntil != nil {
		t := *a.LockedUntil
		c.LockedUntil = &t
	}
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}
