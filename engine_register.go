package acctguard

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode"
)

var (
	usernamePattern = regexp.MustCompile(`^[a-z0-9_]{3,20}$`)
	phonePattern    = regexp.MustCompile(`^[0-9]{10}$`)
)

// Register creates a password account and returns it with a token pair.
// At least one of email or phone is required. Role defaults to the configured
// default role; admin cannot be self-assigned.
func (e *Engine) Register(ctx context.Context, reg Registration) (result *AuthResult, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ctx, span := e.startSpan(ctx, "Register")
	defer func() {
		e.metrics.registration("password", err)
		endSpan(span, err)
		if err != nil {
			e.emitAudit(ctx, auditEventRegisterFailure, false, "", err, nil)
		}
	}()

	reg, err = e.normalizeRegistration(reg)
	if err != nil {
		return nil, err
	}
	if reg.Email == "" && reg.Phone == "" {
		return nil, fmt.Errorf("%w: email or phone is required", ErrInvalidRequest)
	}
	if err := e.checkPassword(reg.Password); err != nil {
		return nil, err
	}

	uctx, cancel := e.upstreamContext(ctx)
	defer cancel()

	if err := e.checkAvailable(uctx, reg); err != nil {
		return nil, err
	}

	acct, err := e.createAccount(uctx, reg, "")
	if err != nil {
		return nil, err
	}

	tokens, err := e.issueTokens(acct.ID)
	if err != nil {
		return nil, err
	}

	e.log(ctx).Info("account registered", "account_id", acct.ID, "role", acct.Role)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, acct.ID, nil, func() map[string]string {
		return map[string]string{"method": "password"}
	})
	return &AuthResult{Account: acct, Tokens: tokens}, nil
}

// normalizeRegistration lower-cases identities, applies the default role and
// validates field formats. The password is checked separately.
func (e *Engine) normalizeRegistration(reg Registration) (Registration, error) {
	reg.FullName = strings.TrimSpace(reg.FullName)
	reg.Username = NormalizeIdentifier(reg.Username)
	reg.Email = NormalizeIdentifier(reg.Email)
	reg.Phone = strings.TrimSpace(reg.Phone)

	if reg.FullName == "" {
		return reg, fmt.Errorf("%w: full name is required", ErrInvalidRequest)
	}
	if !usernamePattern.MatchString(reg.Username) {
		return reg, fmt.Errorf("%w: username must be 3-20 lower-case letters, digits or underscores", ErrInvalidRequest)
	}
	if reg.Email != "" {
		if addr, err := mail.ParseAddress(reg.Email); err != nil || addr.Address != reg.Email {
			return reg, fmt.Errorf("%w: invalid email address", ErrInvalidRequest)
		}
	}
	if reg.Phone != "" && !phonePattern.MatchString(reg.Phone) {
		return reg, fmt.Errorf("%w: phone must be 10 digits", ErrInvalidRequest)
	}
	if reg.Phone != "" && reg.Phone == reg.Username {
		return reg, fmt.Errorf("%w: username and phone must differ", ErrInvalidRequest)
	}

	switch {
	case reg.Role == "":
		reg.Role = e.config.Security.DefaultRole
	case !reg.Role.Valid():
		return reg, fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, reg.Role)
	case reg.Role == RoleAdmin:
		return reg, fmt.Errorf("%w: role %s cannot be self-assigned", ErrInvalidRequest, reg.Role)
	}
	return reg, nil
}

// checkPassword enforces the minimum length and the upper/lower/digit mix.
func (e *Engine) checkPassword(secret string) error {
	if len(secret) < e.config.Password.MinLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrPasswordPolicy, e.config.Password.MinLength)
	}

	var upper, lower, digit bool
	for _, r := range secret {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return fmt.Errorf("%w: password must contain an upper-case letter, a lower-case letter and a digit", ErrPasswordPolicy)
	}
	return nil
}

// checkAvailable reports the first identity field of reg already held by an
// account. The store re-checks on Create.
func (e *Engine) checkAvailable(ctx context.Context, reg Registration) error {
	fields := []struct {
		name  string
		value string
	}{
		{"username", reg.Username},
		{"email", reg.Email},
		{"phone", reg.Phone},
	}

	for _, f := range fields {
		if f.value == "" {
			continue
		}
		_, err := e.accounts.FindByIdentifier(ctx, f.value)
		switch {
		case err == nil:
			return &DuplicateIdentityError{Field: f.name}
		case errors.Is(err, ErrRecordNotFound):
			continue
		default:
			return storeError(err)
		}
	}
	return nil
}

// createAccount hashes the password and persists reg. verified names a
// channel that was proven by a one-time code, or is empty.
func (e *Engine) createAccount(ctx context.Context, reg Registration, verified Channel) (*Account, error) {
	hash, err := e.hasher.Hash(reg.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}

	acct, err := e.accounts.Create(ctx, NewAccount{
		FullName:      reg.FullName,
		Username:      reg.Username,
		Email:         reg.Email,
		Phone:         reg.Phone,
		PasswordHash:  hash,
		Role:          reg.Role,
		IsActive:      true,
		PhoneVerified: verified == ChannelPhone,
		EmailVerified: verified == ChannelEmail,
	})
	if err != nil {
		return nil, storeError(err)
	}
	return acct, nil
}
