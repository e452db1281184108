package acctguard

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/MrEthical07/acctguard/jwt"
)

const bearerPrefix = "bearer "

// BearerToken extracts the token from an Authorization header value. The
// scheme is matched case-insensitively.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// Authenticate validates the bearer token in an Authorization header value
// and returns the current account. The account is re-read on every call so
// deactivation and lockout take effect immediately.
func (e *Engine) Authenticate(ctx context.Context, authorizationHeader string) (*Account, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	token, err := BearerToken(authorizationHeader)
	if err != nil {
		e.metrics.authCheck(err)
		return nil, err
	}
	return e.AuthenticateToken(ctx, token)
}

// AuthenticateToken is Authenticate for a bare access token.
func (e *Engine) AuthenticateToken(ctx context.Context, token string) (acct *Account, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ctx, span := e.startSpan(ctx, "Authenticate")
	defer func() {
		e.metrics.authCheck(err)
		endSpan(span, err)
	}()

	if token == "" {
		return nil, ErrMissingToken
	}

	claims, err := e.tokens.Verify(token, jwt.KindAccess)
	if err != nil {
		return nil, tokenError(err)
	}

	uctx, cancel := e.upstreamContext(ctx)
	defer cancel()

	acct, err = e.lookupByID(uctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if !acct.IsActive {
		return nil, ErrAccountDeactivated
	}
	if acct.IsLocked(e.now()) {
		return nil, ErrAccountLocked
	}
	return acct, nil
}

// OptionalAuth returns the account for a valid header and nil for anything
// else, including a missing header.
func (e *Engine) OptionalAuth(ctx context.Context, authorizationHeader string) *Account {
	if e == nil || strings.TrimSpace(authorizationHeader) == "" {
		return nil
	}
	acct, err := e.Authenticate(ctx, authorizationHeader)
	if err != nil {
		e.log(ctx).Debug("optional authentication ignored", "error", err)
		return nil
	}
	return acct
}

// Authorize reports whether acct holds one of roles. No roles means any
// authenticated account is allowed.
func Authorize(acct *Account, roles ...Role) error {
	if acct == nil {
		return ErrMissingToken
	}
	if len(roles) == 0 || slices.Contains(roles, acct.Role) {
		return nil
	}
	return &RoleError{Role: acct.Role, Allowed: slices.Clone(roles)}
}

// Authorize is the package-level Authorize with an audit record on denial.
func (e *Engine) Authorize(ctx context.Context, acct *Account, roles ...Role) error {
	err := Authorize(acct, roles...)
	if err != nil && acct != nil {
		e.emitAudit(ctx, auditEventAuthorizationFailure, false, acct.ID, err, func() map[string]string {
			return map[string]string{"role": string(acct.Role)}
		})
	}
	return err
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// not revoked. Locked accounts may refresh; deactivated ones may not.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (pair *TokenPair, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ctx, span := e.startSpan(ctx, "Refresh")

	var accountID string
	defer func() {
		e.metrics.refresh(err)
		endSpan(span, err)
		if err != nil {
			e.emitAudit(ctx, auditEventRefreshFailure, false, accountID, err, nil)
		}
	}()

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, ErrMissingToken
	}

	claims, err := e.tokens.Verify(refreshToken, jwt.KindRefresh)
	if err != nil {
		return nil, tokenError(err)
	}
	accountID = claims.Subject

	uctx, cancel := e.upstreamContext(ctx)
	defer cancel()

	acct, err := e.lookupByID(uctx, accountID)
	if err != nil {
		return nil, err
	}
	if !acct.IsActive {
		return nil, ErrAccountDeactivated
	}

	pair, err = e.issueTokens(acct.ID)
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventRefreshSuccess, true, acct.ID, nil, nil)
	return pair, nil
}

// Me returns the current state of an account by id.
func (e *Engine) Me(ctx context.Context, accountID string) (*Account, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrInvalidRequest)
	}

	uctx, cancel := e.upstreamContext(ctx)
	defer cancel()

	return e.lookupByID(uctx, accountID)
}
