package acctguard

import (
	"context"
	"strings"
	"time"

	"github.com/MrEthical07/acctguard/lockout"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleInstructor, RoleAdmin:
		return true
	}
	return false
}

// Channel is the delivery channel for a one-time code.
type Channel string

const (
	ChannelPhone Channel = "phone"
	ChannelEmail Channel = "email"
)

func (c Channel) Valid() bool {
	return c == ChannelPhone || c == ChannelEmail
}

// Purpose scopes a one-time code so that a login code cannot complete a
// registration and vice versa.
type Purpose string

const (
	PurposeLogin        Purpose = "login"
	PurposeRegistration Purpose = "registration"
	PurposeVerification Purpose = "verification"
)

func (p Purpose) Valid() bool {
	switch p {
	case PurposeLogin, PurposeRegistration, PurposeVerification:
		return true
	}
	return false
}

// Account is a credential holder as seen by the engine.
type Account struct {
	ID               string     `json:"id"`
	FullName         string     `json:"fullName"`
	Username         string     `json:"username"`
	Email            string     `json:"email,omitempty"`
	Phone            string     `json:"phone,omitempty"`
	PasswordHash     string     `json:"-"`
	Role             Role       `json:"role"`
	IsActive         bool       `json:"isActive"`
	FailedLoginCount int        `json:"-"`
	LockedUntil      *time.Time `json:"-"`
	PhoneVerified    bool       `json:"isPhoneVerified"`
	EmailVerified    bool       `json:"isEmailVerified"`
	LastLoginAt      *time.Time `json:"lastLogin,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Contact returns the address a code on channel is delivered to.
func (a *Account) Contact(channel Channel) string {
	switch channel {
	case ChannelEmail:
		return a.Email
	case ChannelPhone:
		return a.Phone
	}
	return ""
}

// LockoutState projects the lockout fields of a.
func (a *Account) LockoutState() lockout.State {
	return lockout.State{FailedCount: a.FailedLoginCount, LockedUntil: a.LockedUntil}
}

// IsLocked reports whether a is locked at now.
func (a *Account) IsLocked(now time.Time) bool {
	return lockout.IsLocked(a.LockoutState(), now)
}

// TokenPair is the credential pair returned by login, registration and refresh.
type TokenPair struct {
	AccessToken      string    `json:"token"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"expiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// AuthResult is an authenticated account together with a fresh token pair.
type AuthResult struct {
	Account *Account   `json:"user"`
	Tokens  *TokenPair `json:"tokens,omitempty"`
}

// NewAccount is the input to CredentialStore.Create. The password is
// already hashed.
type NewAccount struct {
	FullName      string
	Username      string
	Email         string
	Phone         string
	PasswordHash  string
	Role          Role
	IsActive      bool
	PhoneVerified bool
	EmailVerified bool
}

// Registration is the caller-supplied profile for a new account.
type Registration struct {
	FullName string
	Username string
	Email    string
	Phone    string
	Password string
	Role     Role
}

// OTPKey addresses one outstanding code.
type OTPKey struct {
	Channel    Channel
	Identifier string
	Purpose    Purpose
}

// OTPRequest asks for a code to be generated and delivered.
type OTPRequest struct {
	Channel    Channel
	Identifier string
	Purpose    Purpose
}

// OTPVerification presents a code. Registration is required when Purpose is
// PurposeRegistration and ignored otherwise.
type OTPVerification struct {
	Channel      Channel
	Identifier   string
	Purpose      Purpose
	Code         string
	Registration *Registration
}

// CredentialStore persists accounts. Implementations must apply
// UpdateLockoutState atomically per account: concurrent failures for the
// same account each count.
//
// Username, email and phone share one namespace: Create must reject a value
// already held in any of the three fields by another account, atomically
// with the insert.
type CredentialStore interface {
	// FindByIdentifier matches username, email or phone. Returns ErrRecordNotFound.
	FindByIdentifier(ctx context.Context, identifier string) (*Account, error)
	// FindByContact matches only the field that channel delivers to: email
	// for ChannelEmail, phone for ChannelPhone. Returns ErrRecordNotFound.
	FindByContact(ctx context.Context, channel Channel, value string) (*Account, error)
	// FindByID returns ErrRecordNotFound for unknown ids.
	FindByID(ctx context.Context, id string) (*Account, error)
	// Create assigns the id and timestamps. Returns *DuplicateIdentityError on conflicts.
	Create(ctx context.Context, account NewAccount) (*Account, error)
	// UpdateLockoutState applies policy.Next for outcome at now and returns
	// the resulting state. A success also records now as the last login.
	UpdateLockoutState(ctx context.Context, id string, outcome lockout.Outcome, policy lockout.Policy, now time.Time) (lockout.State, error)
	// ResetLockout clears the failure count and any lock.
	ResetLockout(ctx context.Context, id string) error
	// SetVerified marks channel verified for the account.
	SetVerified(ctx context.Context, id string, channel Channel) error
	// UpdatePasswordHash replaces the stored hash.
	UpdatePasswordHash(ctx context.Context, id string, hash string) error
}

// OTPStore holds outstanding one-time codes. Save overwrites, Consume is
// single use, and Discard removes a record only if it still holds code.
type OTPStore interface {
	Save(ctx context.Context, key OTPKey, code string, expiresAt, now time.Time) error
	// Consume returns ErrNoOTPPending, ErrOTPExpired or ErrOTPMismatch.
	Consume(ctx context.Context, key OTPKey, code string, now time.Time, maxAttempts int) error
	Discard(ctx context.Context, key OTPKey, code string) error
}

// Notifier delivers one-time codes. A returned error means the code was not
// delivered.
type Notifier interface {
	SendSMS(ctx context.Context, phone, code string) error
	SendEmail(ctx context.Context, address, code string) error
}

// NormalizeIdentifier lower-cases and trims an email, username or phone.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
