package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrEthical07/acctguard"
	"github.com/MrEthical07/acctguard/internal/logger"
)

// Response is the JSON envelope of every endpoint.
type Response struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Data    any               `json:"data,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// WriteJSON writes v with status. Headers are already sent if encoding
// fails, so the error is dropped.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, status int, message string, data any) {
	WriteJSON(w, status, Response{Success: true, Message: message, Data: data})
}

// errorWriter renders engine errors. Internal details reach the client only
// in development.
type errorWriter struct {
	logger      *slog.Logger
	development bool
}

func (ew errorWriter) write(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	resp := Response{Success: false, Message: MessageFor(err)}

	var verr *validationError
	if errors.As(err, &verr) {
		resp.Errors = verr.fields
	}

	if status >= http.StatusInternalServerError {
		l := logger.FromContext(r.Context())
		if l == slog.Default() {
			l = ew.logger
		}
		l.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
	}

	if ew.development {
		resp.Error = err.Error()
	} else if status == http.StatusInternalServerError {
		resp.Error = "Internal server error"
	}

	WriteJSON(w, status, resp)
}

// StatusFor maps an engine error to an HTTP status.
func StatusFor(err error) int {
	var verr *validationError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, acctguard.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, acctguard.ErrNoSuchAccount):
		return http.StatusNotFound
	case errors.Is(err, acctguard.ErrOTPMismatch),
		errors.Is(err, acctguard.ErrNoOTPPending),
		errors.Is(err, acctguard.ErrOTPExpired),
		errors.Is(err, acctguard.ErrDuplicateIdentity),
		errors.Is(err, acctguard.ErrPasswordPolicy),
		errors.Is(err, acctguard.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, acctguard.ErrAccountLocked):
		return http.StatusLocked
	case errors.Is(err, acctguard.ErrInsufficientRole):
		return http.StatusForbidden
	case errors.Is(err, acctguard.ErrMissingToken),
		errors.Is(err, acctguard.ErrExpiredToken),
		errors.Is(err, acctguard.ErrMalformedToken),
		errors.Is(err, acctguard.ErrAccountNotFound),
		errors.Is(err, acctguard.ErrAccountDeactivated):
		return http.StatusUnauthorized
	case errors.Is(err, acctguard.ErrOTPRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, acctguard.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// MessageFor returns the client-facing message for err.
func MessageFor(err error) string {
	var (
		roleErr *acctguard.RoleError
		dupErr  *acctguard.DuplicateIdentityError
		verr    *validationError
	)
	switch {
	case errors.As(err, &verr):
		return "Validation failed"
	case errors.As(err, &roleErr):
		return roleErr.Error()
	case errors.As(err, &dupErr):
		return dupErr.Error()
	case errors.Is(err, acctguard.ErrInvalidCredentials):
		return "Invalid password"
	case errors.Is(err, acctguard.ErrNoSuchAccount):
		return "No account found with these credentials"
	case errors.Is(err, acctguard.ErrAccountLocked):
		return "Account temporarily locked due to too many failed login attempts"
	case errors.Is(err, acctguard.ErrAccountDeactivated):
		return "Account is deactivated"
	case errors.Is(err, acctguard.ErrAccountNotFound):
		return "User not found"
	case errors.Is(err, acctguard.ErrMissingToken):
		return "Not authorized, no token"
	case errors.Is(err, acctguard.ErrExpiredToken):
		return "Token expired"
	case errors.Is(err, acctguard.ErrMalformedToken):
		return "Not authorized, token failed"
	case errors.Is(err, acctguard.ErrNoOTPPending):
		return "No OTP found. Please request a new one"
	case errors.Is(err, acctguard.ErrOTPExpired):
		return "OTP has expired. Please request a new one"
	case errors.Is(err, acctguard.ErrOTPMismatch):
		return "Invalid OTP"
	case errors.Is(err, acctguard.ErrOTPRateLimited):
		return "Too many OTP requests. Please try again later"
	case errors.Is(err, acctguard.ErrPasswordPolicy):
		return "Password must be at least 8 characters with uppercase, lowercase, and number"
	case errors.Is(err, acctguard.ErrInvalidRequest):
		return "Invalid request"
	case errors.Is(err, acctguard.ErrUpstreamUnavailable):
		return "Service temporarily unavailable"
	default:
		return "Something went wrong"
	}
}
