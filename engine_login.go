package acctguard

import (
	"context"
	"fmt"
	"strconv"

	"github.com/MrEthical07/acctguard/lockout"
)

// Login authenticates identifier (username, email or phone) with a password
// and returns the account with a fresh token pair.
//
// A locked or deactivated account is rejected before the password is
// checked. A wrong password records a failure; the failure that reaches the
// lockout threshold already reports ErrAccountLocked. A correct password
// clears the failure count.
func (e *Engine) Login(ctx context.Context, identifier, secret string) (result *AuthResult, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ctx, span := e.startSpan(ctx, "Login")
	defer func() {
		e.metrics.login(err)
		endSpan(span, err)
	}()

	identifier = NormalizeIdentifier(identifier)
	if identifier == "" || secret == "" {
		return nil, fmt.Errorf("%w: identifier and password are required", ErrInvalidRequest)
	}

	uctx, cancel := e.upstreamContext(ctx)
	defer cancel()

	acct, err := e.lookup(uctx, identifier, ErrNoSuchAccount)
	if err != nil {
		e.emitAudit(ctx, auditEventLoginFailure, false, "", err, nil)
		return nil, err
	}

	now := e.now()
	if acct.IsLocked(now) {
		e.emitAudit(ctx, auditEventLoginFailure, false, acct.ID, ErrAccountLocked, nil)
		return nil, ErrAccountLocked
	}
	if !acct.IsActive {
		e.emitAudit(ctx, auditEventLoginFailure, false, acct.ID, ErrAccountDeactivated, nil)
		return nil, ErrAccountDeactivated
	}

	ok, verr := e.hasher.Verify(secret, acct.PasswordHash)
	if verr != nil {
		e.log(ctx).Warn("stored password hash rejected by verifier",
			"account_id", acct.ID,
			"error", verr,
		)
		ok = false
	}
	if !ok {
		return nil, e.recordFailure(ctx, uctx, acct)
	}

	if _, err := e.accounts.UpdateLockoutState(uctx, acct.ID, lockout.Success, e.policy, now); err != nil {
		return nil, storeError(err)
	}
	acct.FailedLoginCount = 0
	acct.LockedUntil = nil
	acct.LastLoginAt = &now

	if e.config.Password.UpgradeOnLogin && e.hasher.NeedsRehash(acct.PasswordHash) {
		e.rehash(ctx, uctx, acct, secret)
	}

	tokens, err := e.issueTokens(acct.ID)
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventLoginSuccess, true, acct.ID, nil, nil)
	return &AuthResult{Account: acct, Tokens: tokens}, nil
}

func (e *Engine) recordFailure(ctx, uctx context.Context, acct *Account) error {
	now := e.now()
	state, err := e.accounts.UpdateLockoutState(uctx, acct.ID, lockout.Failure, e.policy, now)
	if err != nil {
		return storeError(err)
	}

	attempts := func() map[string]string {
		return map[string]string{"failed_count": strconv.Itoa(state.FailedCount)}
	}

	if lockout.IsLocked(state, now) {
		if e.policy.JustLocked(state) {
			e.metrics.lockout()
			e.log(ctx).Warn("account locked after repeated login failures",
				"account_id", acct.ID,
				"failed_count", state.FailedCount,
				"locked_until", state.LockedUntil,
			)
			e.emitAudit(ctx, auditEventAccountLocked, true, acct.ID, nil, attempts)
		}
		e.emitAudit(ctx, auditEventLoginFailure, false, acct.ID, ErrAccountLocked, attempts)
		return ErrAccountLocked
	}

	e.emitAudit(ctx, auditEventLoginFailure, false, acct.ID, ErrInvalidCredentials, attempts)
	return ErrInvalidCredentials
}

// rehash replaces a legacy or weak hash after a successful login. Failures
// are logged and otherwise ignored.
func (e *Engine) rehash(ctx, uctx context.Context, acct *Account, secret string) {
	upgraded, err := e.hasher.Hash(secret)
	if err != nil {
		e.log(ctx).Debug("password rehash skipped", "account_id", acct.ID, "error", err)
		return
	}
	if err := e.accounts.UpdatePasswordHash(uctx, acct.ID, upgraded); err != nil {
		e.log(ctx).Warn("password rehash not persisted", "account_id", acct.ID, "error", err)
		return
	}
	acct.PasswordHash = upgraded
	e.emitAudit(ctx, auditEventPasswordRehashed, true, acct.ID, nil, nil)
}

// UnlockAccount clears the failure count and any lock on the account.
func (e *Engine) UnlockAccount(ctx context.Context, accountID string) (err error) {
	if err := e.ready(); err != nil {
		return err
	}
	ctx, span := e.startSpan(ctx, "UnlockAccount")
	defer func() { endSpan(span, err) }()

	if accountID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidRequest)
	}

	uctx, cancel := e.upstreamContext(ctx)
	defer cancel()

	if _, err := e.lookupByID(uctx, accountID); err != nil {
		return err
	}
	if err := e.accounts.ResetLockout(uctx, accountID); err != nil {
		return storeError(err)
	}

	e.log(ctx).Info("account unlocked", "account_id", accountID)
	e.emitAudit(ctx, auditEventAccountUnlocked, true, accountID, nil, nil)
	return nil
}

// Logout records the event. Tokens are stateless and stay valid until they
// expire; clients discard them.
func (e *Engine) Logout(ctx context.Context, accountID string) {
	if e == nil {
		return
	}
	e.emitAudit(ctx, auditEventLogout, true, accountID, nil, nil)
}
