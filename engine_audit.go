package acctguard

import (
	"context"
	"errors"
)

const (
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventAccountLocked        = "account_locked"
	auditEventAccountUnlocked      = "account_unlocked"
	auditEventRegisterSuccess      = "register_success"
	auditEventRegisterFailure      = "register_failure"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshFailure       = "refresh_failure"
	auditEventLogout               = "logout"
	auditEventOTPSent              = "otp_sent"
	auditEventOTPSendFailure       = "otp_send_failure"
	auditEventOTPVerified          = "otp_verified"
	auditEventOTPVerifyFailure     = "otp_verify_failure"
	auditEventAuthorizationFailure = "authorization_failure"
	auditEventPasswordRehashed     = "password_rehashed"
)

// AuditErrorCode is the stable, non-sensitive error label recorded on audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrNoSuchAccount      AuditErrorCode = "no_such_account"
	auditErrAccountNotFound    AuditErrorCode = "account_not_found"
	auditErrAccountDeactivated AuditErrorCode = "account_deactivated"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrExpiredToken       AuditErrorCode = "expired_token"
	auditErrMissingToken       AuditErrorCode = "missing_token"
	auditErrInsufficientRole   AuditErrorCode = "insufficient_role"
	auditErrOTPNotPending      AuditErrorCode = "otp_not_pending"
	auditErrOTPExpired         AuditErrorCode = "otp_expired"
	auditErrOTPMismatch        AuditErrorCode = "otp_mismatch"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrInvalidRequest     AuditErrorCode = "invalid_request"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		AccountID: accountID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrNoSuchAccount):
		return auditErrNoSuchAccount
	case errors.Is(err, ErrAccountNotFound):
		return auditErrAccountNotFound
	case errors.Is(err, ErrAccountDeactivated):
		return auditErrAccountDeactivated
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrMalformedToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrExpiredToken):
		return auditErrExpiredToken
	case errors.Is(err, ErrMissingToken):
		return auditErrMissingToken
	case errors.Is(err, ErrInsufficientRole):
		return auditErrInsufficientRole
	case errors.Is(err, ErrNoOTPPending):
		return auditErrOTPNotPending
	case errors.Is(err, ErrOTPExpired):
		return auditErrOTPExpired
	case errors.Is(err, ErrOTPMismatch):
		return auditErrOTPMismatch
	case errors.Is(err, ErrOTPRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrDuplicateIdentity):
		return auditErrDuplicate
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrInvalidRequest):
		return auditErrInvalidRequest
	case errors.Is(err, ErrUpstreamUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
