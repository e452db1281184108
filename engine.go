package acctguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrEthical07/acctguard/internal/limiters"
	"github.com/MrEthical07/acctguard/internal/logger"
	"github.com/MrEthical07/acctguard/jwt"
	"github.com/MrEthical07/acctguard/lockout"
	"github.com/MrEthical07/acctguard/password"
)

// Engine runs every account-security operation: password login with
// lockout, registration, OTP workflows, token refresh and per-request
// authentication. Build one with New().…Build(); it is safe for concurrent use.
type Engine struct {
	config      Config
	logger      *slog.Logger
	tracer      trace.Tracer
	metrics     *Metrics
	audit       *auditDispatcher
	tokens      *jwt.Manager
	hasher      *password.Hasher
	policy      lockout.Policy
	accounts    CredentialStore
	otps        OTPStore
	notifier    Notifier
	sendLimiter *limiters.OTPSendLimiter
	now         func() time.Time
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

func (e *Engine) ready() error {
	if e == nil || e.tokens == nil || e.accounts == nil {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) log(ctx context.Context) *slog.Logger {
	return logger.WithContext(ctx, e.logger)
}

func (e *Engine) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "acctguard."+name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// upstreamContext bounds store and notifier calls for one operation.
func (e *Engine) upstreamContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.Security.UpstreamTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.config.Security.UpstreamTimeout)
}

// passthrough lists the sentinels a store or notifier may return that are
// expected outcomes rather than outages.
var passthrough = []error{
	ErrUpstreamUnavailable,
	ErrDuplicateIdentity,
	ErrRecordNotFound,
	ErrNoOTPPending,
	ErrOTPExpired,
	ErrOTPMismatch,
	ErrOTPRateLimited,
	ErrInvalidRequest,
}

// storeError passes through errors that already belong to the taxonomy and
// classifies everything else as an upstream failure.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	for _, target := range passthrough {
		if errors.Is(err, target) {
			return err
		}
	}
	return upstream(err)
}

// lookup resolves an identifier, reporting a missing account as notFound.
func (e *Engine) lookup(ctx context.Context, identifier string, notFound error) (*Account, error) {
	acct, err := e.accounts.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, notFound
		}
		return nil, storeError(err)
	}
	if acct == nil {
		return nil, notFound
	}
	return acct, nil
}

// lookupContact resolves the account that owns value on channel. A username
// that happens to equal a phone number or address never matches.
func (e *Engine) lookupContact(ctx context.Context, key OTPKey, notFound error) (*Account, error) {
	acct, err := e.accounts.FindByContact(ctx, key.Channel, key.Identifier)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, notFound
		}
		return nil, storeError(err)
	}
	if acct == nil || acct.Contact(key.Channel) != key.Identifier {
		return nil, notFound
	}
	return acct, nil
}

func (e *Engine) lookupByID(ctx context.Context, id string) (*Account, error) {
	acct, err := e.accounts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, storeError(err)
	}
	if acct == nil {
		return nil, ErrAccountNotFound
	}
	return acct, nil
}

func (e *Engine) issueTokens(accountID string) (*TokenPair, error) {
	access, accessExp, err := e.tokens.IssueAccess(accountID)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, refreshExp, err := e.tokens.IssueRefresh(accountID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	e.metrics.tokenIssued(string(jwt.KindAccess))
	e.metrics.tokenIssued(string(jwt.KindRefresh))

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func tokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return ErrExpiredToken
	case errors.Is(err, jwt.ErrMalformed):
		return ErrMalformedToken
	default:
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
}
