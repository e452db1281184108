package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/MrEthical07/acctguard"
	"github.com/MrEthical07/acctguard/internal/logger"
)

// Authenticator resolves an Authorization header to an account.
type Authenticator interface {
	Authenticate(ctx context.Context, authorizationHeader string) (*acctguard.Account, error)
	OptionalAuth(ctx context.Context, authorizationHeader string) *acctguard.Account
}

// Authorizer checks an account against a role set.
type Authorizer interface {
	Authorize(ctx context.Context, acct *acctguard.Account, roles ...acctguard.Role) error
}

// ErrorWriter renders a rejected request. A nil ErrorWriter uses
// DefaultErrorWriter.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

type accountContextKey struct{}

// AccountFromContext returns the account attached by Protect or OptionalAuth.
func AccountFromContext(ctx context.Context) (*acctguard.Account, bool) {
	acct, ok := ctx.Value(accountContextKey{}).(*acctguard.Account)
	return acct, ok && acct != nil
}

// WithAccount attaches acct to ctx.
func WithAccount(ctx context.Context, acct *acctguard.Account) context.Context {
	ctx = context.WithValue(ctx, accountContextKey{}, acct)
	return logger.WithAccountID(ctx, acct.ID)
}

// Protect rejects requests without a valid access token for an active,
// unlocked account.
func Protect(auth Authenticator, onError ErrorWriter) func(http.Handler) http.Handler {
	if onError == nil {
		onError = DefaultErrorWriter
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				onError(w, r, acctguard.ErrEngineNotReady)
				return
			}

			acct, err := auth.Authenticate(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				onError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), acct)))
		})
	}
}

// OptionalAuth never rejects. A valid token attaches the account; anything
// else passes through anonymously.
func OptionalAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth != nil {
				if acct := auth.OptionalAuth(r.Context(), r.Header.Get("Authorization")); acct != nil {
					r = r.WithContext(WithAccount(r.Context(), acct))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRoles admits accounts holding one of roles. It must run after
// Protect.
func RequireRoles(authz Authorizer, onError ErrorWriter, roles ...acctguard.Role) func(http.Handler) http.Handler {
	if onError == nil {
		onError = DefaultErrorWriter
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acct, _ := AccountFromContext(r.Context())

			var err error
			if authz != nil {
				err = authz.Authorize(r.Context(), acct, roles...)
			} else {
				err = acctguard.Authorize(acct, roles...)
			}
			if err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// DefaultErrorWriter writes a plain-text status for err.
func DefaultErrorWriter(w http.ResponseWriter, _ *http.Request, err error) {
	status := http.StatusUnauthorized
	switch {
	case errors.Is(err, acctguard.ErrInsufficientRole):
		status = http.StatusForbidden
	case errors.Is(err, acctguard.ErrAccountLocked):
		status = http.StatusLocked
	case errors.Is(err, acctguard.ErrUpstreamUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, acctguard.ErrEngineNotReady):
		status = http.StatusInternalServerError
	}
	http.Error(w, http.StatusText(status), status)
}
