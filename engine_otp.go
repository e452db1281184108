package acctguard

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/MrEthical07/acctguard/internal"
	"github.com/MrEthical07/acctguard/internal/limiters"
)

const discardTimeout = 2 * time.Second

// SendOTP generates a code for (channel, identifier, purpose), stores it and
// hands it to the Notifier. Any earlier outstanding code for the same key is
// replaced. The code itself is never returned; the expiry is.
//
// Purpose preconditions: registration requires that no account holds the
// identifier in any field, login requires an active unlocked account whose
// channel contact is the identifier, verification requires an active
// account whose channel contact is the identifier.
func (e *Engine) SendOTP(ctx context.Context, req OTPRequest) (expiresAt time.Time, err error) {
	if err := e.ready(); err != nil {
		return time.Time{}, err
	}
	ctx, span := e.startSpan(ctx, "SendOTP")

	var accountID string
	defer func() {
		e.metrics.otpSend(req.Channel, req.Purpose, err)
		endSpan(span, err)
		meta := func() map[string]string {
			return map[string]string{"channel": string(req.Channel), "purpose": string(req.Purpose)}
		}
		if err != nil {
			e.emitAudit(ctx, auditEventOTPSendFailure, false, accountID, err, meta)
			return
		}
		e.emitAudit(ctx, auditEventOTPSent, true, accountID, nil, meta)
	}()

	key, err := normalizeOTPKey(req.Channel, req.Identifier, req.Purpose)
	if err != nil {
		return time.Time{}, err
	}
	req.Identifier = key.Identifier

	uctx, cancel := e.upstreamContext(ctx)
	defer cancel()

	switch key.Purpose {
	case PurposeRegistration:
		if _, err := e.lookup(uctx, key.Identifier, ErrRecordNotFound); err == nil {
			return time.Time{}, &DuplicateIdentityError{Field: string(key.Channel)}
		} else if !errors.Is(err, ErrRecordNotFound) {
			return time.Time{}, err
		}
	case PurposeLogin, PurposeVerification:
		acct, err := e.lookupContact(uctx, key, ErrNoSuchAccount)
		if err != nil {
			return time.Time{}, err
		}
		accountID = acct.ID
		if !acct.IsActive {
			return time.Time{}, ErrAccountDeactivated
		}
		if key.Purpose == PurposeLogin && acct.IsLocked(e.now()) {
			return time.Time{}, ErrAccountLocked
		}
	}

	if err := e.sendLimiter.CheckSend(uctx, string(key.Purpose), key.Identifier, clientIPFromContext(ctx)); err != nil {
		if errors.Is(err, limiters.ErrOTPSendRateLimited) {
			return time.Time{}, ErrOTPRateLimited
		}
		return time.Time{}, upstream(err)
	}

	code, err := internal.NewOTP(e.config.OTP.Digits)
	if err != nil {
		return time.Time{}, fmt.Errorf("generate otp: %w", err)
	}

	now := e.now()
	expiresAt = now.Add(e.config.OTP.TTL)
	if err := e.otps.Save(uctx, key, code, expiresAt, now); err != nil {
		return time.Time{}, storeError(err)
	}

	if !e.config.Security.IsProduction() {
		e.log(ctx).Debug("otp issued",
			"channel", key.Channel,
			"identifier", key.Identifier,
			"purpose", key.Purpose,
			"code", code,
		)
	}

	if err := e.deliver(uctx, key, code); err != nil {
		e.log(ctx).Warn("otp delivery failed",
			"channel", key.Channel,
			"purpose", key.Purpose,
			"error", err,
		)
		e.discard(ctx, key, code)
		return time.Time{}, storeError(err)
	}

	return expiresAt, nil
}

func (e *Engine) deliver(ctx context.Context, key OTPKey, code string) error {
	switch key.Channel {
	case ChannelPhone:
		return e.notifier.SendSMS(ctx, key.Identifier, code)
	case ChannelEmail:
		return e.notifier.SendEmail(ctx, key.Identifier, code)
	default:
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidRequest, key.Channel)
	}
}

// discard removes a code that never reached its recipient. It runs even if
// the caller's context is already done.
func (e *Engine) discard(ctx context.Context, key OTPKey, code string) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discardTimeout)
	defer cancel()

	if err := e.otps.Discard(dctx, key, code); err != nil {
		e.log(ctx).Warn("undelivered otp not discarded", "purpose", key.Purpose, "error", err)
	}
}

// VerifyOTP checks a code and completes its purpose:
//
//   - login: marks the channel verified and returns a token pair;
//   - registration: creates the account from v.Registration with the channel
//     pre-verified and returns a token pair;
//   - verification: marks the channel verified; no tokens are issued.
//
// A matched code is deleted before the purpose is completed, so it can
// never be replayed.
func (e *Engine) VerifyOTP(ctx context.Context, v OTPVerification) (result *AuthResult, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ctx, span := e.startSpan(ctx, "VerifyOTP")

	var accountID string
	defer func() {
		e.metrics.otpVerify(v.Purpose, err)
		if v.Purpose == PurposeRegistration {
			e.metrics.registration("otp", err)
		}
		endSpan(span, err)
		meta := func() map[string]string {
			return map[string]string{"channel": string(v.Channel), "purpose": string(v.Purpose)}
		}
		if err != nil {
			e.emitAudit(ctx, auditEventOTPVerifyFailure, false, accountID, err, meta)
			return
		}
		e.emitAudit(ctx, auditEventOTPVerified, true, accountID, nil, meta)
	}()

	key, err := normalizeOTPKey(v.Channel, v.Identifier, v.Purpose)
	if err != nil {
		return nil, err
	}
	code := strings.TrimSpace(v.Code)
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidRequest)
	}

	uctx, cancel := e.upstreamContext(ctx)
	defer cancel()

	var reg Registration
	if key.Purpose == PurposeRegistration {
		if v.Registration == nil {
			return nil, fmt.Errorf("%w: registration details are required", ErrInvalidRequest)
		}
		reg = *v.Registration
		if key.Channel == ChannelPhone {
			reg.Phone = key.Identifier
		} else {
			reg.Email = key.Identifier
		}
		if reg, err = e.normalizeRegistration(reg); err != nil {
			return nil, err
		}
		if err := e.checkPassword(reg.Password); err != nil {
			return nil, err
		}
		if err := e.checkAvailable(uctx, reg); err != nil {
			return nil, err
		}
	}

	if err := e.otps.Consume(uctx, key, code, e.now(), e.config.OTP.MaxAttempts); err != nil {
		return nil, storeError(err)
	}

	switch key.Purpose {
	case PurposeRegistration:
		acct, err := e.createAccount(uctx, reg, key.Channel)
		if err != nil {
			return nil, err
		}
		accountID = acct.ID
		tokens, err := e.issueTokens(acct.ID)
		if err != nil {
			return nil, err
		}
		e.log(ctx).Info("account registered", "account_id", acct.ID, "channel", key.Channel)
		return &AuthResult{Account: acct, Tokens: tokens}, nil

	default:
		acct, err := e.lookupContact(uctx, key, ErrNoSuchAccount)
		if err != nil {
			return nil, err
		}
		accountID = acct.ID
		if !acct.IsActive {
			return nil, ErrAccountDeactivated
		}
		if key.Purpose == PurposeLogin && acct.IsLocked(e.now()) {
			return nil, ErrAccountLocked
		}

		if err := e.accounts.SetVerified(uctx, acct.ID, key.Channel); err != nil {
			return nil, storeError(err)
		}
		markVerified(acct, key.Channel)

		if key.Purpose == PurposeVerification {
			return &AuthResult{Account: acct}, nil
		}

		tokens, err := e.issueTokens(acct.ID)
		if err != nil {
			return nil, err
		}
		return &AuthResult{Account: acct, Tokens: tokens}, nil
	}
}

func markVerified(acct *Account, channel Channel) {
	switch channel {
	case ChannelPhone:
		acct.PhoneVerified = true
	case ChannelEmail:
		acct.EmailVerified = true
	}
}

// normalizeOTPKey validates channel and purpose and checks that identifier
// has the shape of the channel.
func normalizeOTPKey(channel Channel, identifier string, purpose Purpose) (OTPKey, error) {
	if !channel.Valid() {
		return OTPKey{}, fmt.Errorf("%w: unknown channel %q", ErrInvalidRequest, channel)
	}
	if !purpose.Valid() {
		return OTPKey{}, fmt.Errorf("%w: unknown purpose %q", ErrInvalidRequest, purpose)
	}

	identifier = NormalizeIdentifier(identifier)
	switch channel {
	case ChannelPhone:
		if !phonePattern.MatchString(identifier) {
			return OTPKey{}, fmt.Errorf("%w: phone must be 10 digits", ErrInvalidRequest)
		}
	case ChannelEmail:
		if addr, err := mail.ParseAddress(identifier); err != nil || addr.Address != identifier {
			return OTPKey{}, fmt.Errorf("%w: invalid email address", ErrInvalidRequest)
		}
	}

	return OTPKey{Channel: channel, Identifier: identifier, Purpose: purpose}, nil
}
