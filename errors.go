package acctguard

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidCredentials is returned when the password does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNoSuchAccount is returned when a login or OTP identifier matches no account.
	ErrNoSuchAccount = errors.New("no account found with these credentials")
	// ErrAccountNotFound is returned when a verified token names an account that no longer exists.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountDeactivated is returned for accounts whose IsActive flag is false.
	ErrAccountDeactivated = errors.New("account is deactivated")
	// ErrAccountLocked is returned while an account's lock deadline is in the future.
	ErrAccountLocked = errors.New("account temporarily locked due to too many failed login attempts")
	// ErrMissingToken is returned when no bearer token was presented.
	ErrMissingToken = errors.New("no token provided")
	// ErrMalformedToken covers bad signatures, bad structure and wrong token kind.
	ErrMalformedToken = errors.New("invalid token")
	// ErrExpiredToken is returned for correctly signed tokens past their expiry.
	ErrExpiredToken = errors.New("token expired")
	// ErrInsufficientRole is wrapped by *RoleError.
	ErrInsufficientRole = errors.New("insufficient role")
	// ErrNoOTPPending is returned when no code is outstanding for the identifier and purpose.
	ErrNoOTPPending = errors.New("no otp pending")
	// ErrOTPExpired is returned when the outstanding code is past its expiry.
	ErrOTPExpired = errors.New("otp expired")
	// ErrOTPMismatch is returned when the presented code differs from the outstanding one.
	ErrOTPMismatch = errors.New("invalid otp")
	// ErrOTPRateLimited is returned when too many codes were requested for an identifier.
	ErrOTPRateLimited = errors.New("too many otp requests")
	// ErrDuplicateIdentity is wrapped by *DuplicateIdentityError.
	ErrDuplicateIdentity = errors.New("account already exists")
	// ErrUpstreamUnavailable wraps store, cache and notifier failures.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrConfiguration is returned by Build and LoadConfig and is fatal at startup.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrInvalidRequest is returned for missing or malformed operation input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrPasswordPolicy is returned when a new password is too weak.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrRecordNotFound is the CredentialStore contract for a missing account.
	ErrRecordNotFound = errors.New("record not found")
	// ErrEngineNotReady is returned by methods called on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// RoleError reports an authorization failure and names the caller's role.
type RoleError struct {
	Role    Role
	Allowed []Role
}

func (e *RoleError) Error() string {
	return fmt.Sprintf("user role %s is not authorized to access this route", e.Role)
}

func (e *RoleError) Unwrap() error { return ErrInsufficientRole }

// DuplicateIdentityError names the identity field that is already taken.
type DuplicateIdentityError struct {
	Field string
}

func (e *DuplicateIdentityError) Error() string {
	field := strings.TrimSpace(e.Field)
	if field == "" {
		return "user already exists"
	}
	return "user already exists with this " + field
}

func (e *DuplicateIdentityError) Unwrap() error { return ErrDuplicateIdentity }

func upstream(err error) error {
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}
