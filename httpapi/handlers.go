package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrEthical07/acctguard"
	"github.com/MrEthical07/acctguard/middleware"
)

// --- Request DTOs ---

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	FullName string `json:"fullName" validate:"required,min=2,max=50"`
	Username string `json:"username" validate:"required,min=3,max=20"`
	Email    string `json:"email" validate:"required_without=Phone,omitempty,email"`
	Phone    string `json:"phone" validate:"omitempty,len=10,numeric"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"omitempty,oneof=student instructor"`
}

// LoginRequest is the body of POST /login. One of identifier, email,
// username or phone is required.
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required_without_all=Email Username Phone"`
	Email      string `json:"email" validate:"omitempty,email"`
	Username   string `json:"username" validate:"omitempty,min=3"`
	Phone      string `json:"phone" validate:"omitempty,len=10,numeric"`
	Password   string `json:"password" validate:"required"`
}

func (r LoginRequest) identifier() string {
	for _, v := range []string{r.Identifier, r.Email, r.Username, r.Phone} {
		if v != "" {
			return v
		}
	}
	return ""
}

// OTPSendRequest is the body of POST /otp/send.
type OTPSendRequest struct {
	Channel    string `json:"channel" validate:"required,oneof=phone email"`
	Identifier string `json:"identifier" validate:"required"`
	Purpose    string `json:"purpose" validate:"required,oneof=login registration verification"`
}

// OTPVerifyRequest is the body of POST /otp/verify. The profile fields are
// required for purpose "registration" only.
type OTPVerifyRequest struct {
	Channel    string `json:"channel" validate:"required,oneof=phone email"`
	Identifier string `json:"identifier" validate:"required"`
	Purpose    string `json:"purpose" validate:"required,oneof=login registration verification"`
	Code       string `json:"otp" validate:"required,numeric,min=4,max=10"`

	FullName string `json:"fullName" validate:"required_if=Purpose registration,omitempty,min=2,max=50"`
	Username string `json:"username" validate:"required_if=Purpose registration,omitempty,min=3,max=20"`
	Password string `json:"password" validate:"required_if=Purpose registration,omitempty,min=8"`
	Email    string `json:"email" validate:"omitempty,email"`
	Phone    string `json:"phone" validate:"omitempty,len=10,numeric"`
	Role     string `json:"role" validate:"omitempty,oneof=student instructor"`
}

// RefreshRequest is the body of POST /refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// --- Response types ---

// AuthData is the data payload of login, registration, OTP and refresh
// responses.
type AuthData struct {
	User             *acctguard.Account `json:"user,omitempty"`
	Token            string             `json:"token,omitempty"`
	RefreshToken     string             `json:"refreshToken,omitempty"`
	ExpiresAt        *time.Time         `json:"expiresAt,omitempty"`
	RefreshExpiresAt *time.Time         `json:"refreshExpiresAt,omitempty"`
}

func authData(acct *acctguard.Account, tokens *acctguard.TokenPair) AuthData {
	d := AuthData{User: acct}
	if tokens != nil {
		d.Token = tokens.AccessToken
		d.RefreshToken = tokens.RefreshToken
		d.ExpiresAt = &tokens.AccessExpiresAt
		d.RefreshExpiresAt = &tokens.RefreshExpiresAt
	}
	return d
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Handler serves the /api/auth endpoints.
type Handler struct {
	engine *acctguard.Engine
	errors errorWriter
	checks map[string]HealthCheck
}

// --- Handlers ---

// Register handles POST /register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		h.errors.write(w, r, err)
		return
	}

	res, err := h.engine.Register(r.Context(), acctguard.Registration{
		FullName: req.FullName,
		Username: req.Username,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
		Role:     acctguard.Role(req.Role),
	})
	if err != nil {
		h.errors.write(w, r, err)
		return
	}

	writeOK(w, http.StatusCreated, "Registration successful", authData(res.Account, res.Tokens))
}

// Login handles POST /login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		h.errors.write(w, r, err)
		return
	}

	res, err := h.engine.Login(r.Context(), req.identifier(), req.Password)
	if err != nil {
		h.errors.write(w, r, err)
		return
	}

	writeOK(w, http.StatusOK, "Login successful", authData(res.Account, res.Tokens))
}

// SendOTP handles POST /otp/send.
func (h *Handler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req OTPSendRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		h.errors.write(w, r, err)
		return
	}

	expiresAt, err := h.engine.SendOTP(r.Context(), acctguard.OTPRequest{
		Channel:    acctguard.Channel(req.Channel),
		Identifier: req.Identifier,
		Purpose:    acctguard.Purpose(req.Purpose),
	})
	if err != nil {
		h.errors.write(w, r, err)
		return
	}

	writeOK(w, http.StatusOK, "OTP sent successfully", map[string]any{
		"expiresAt": expiresAt,
	})
}

// VerifyOTP handles POST /otp/verify.
func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req OTPVerifyRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		h.errors.write(w, r, err)
		return
	}

	v := acctguard.OTPVerification{
		Channel:    acctguard.Channel(req.Channel),
		Identifier: req.Identifier,
		Purpose:    acctguard.Purpose(req.Purpose),
		Code:       req.Code,
	}
	if v.Purpose == acctguard.PurposeRegistration {
		v.Registration = &acctguard.Registration{
			FullName: req.FullName,
			Username: req.Username,
			Email:    req.Email,
			Phone:    req.Phone,
			Password: req.Password,
			Role:     acctguard.Role(req.Role),
		}
	}

	res, err := h.engine.VerifyOTP(r.Context(), v)
	if err != nil {
		h.errors.write(w, r, err)
		return
	}

	status, message := http.StatusOK, "OTP verified successfully"
	if v.Purpose == acctguard.PurposeRegistration {
		status, message = http.StatusCreated, "Registration successful"
	}
	writeOK(w, status, message, authData(res.Account, res.Tokens))
}

// Refresh handles POST /refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		h.errors.write(w, r, err)
		return
	}

	pair, err := h.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.errors.write(w, r, err)
		return
	}

	writeOK(w, http.StatusOK, "Token refreshed successfully", authData(nil, pair))
}

// Logout handles POST /logout. Tokens are stateless; the client drops them.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	acct, _ := middleware.AccountFromContext(r.Context())
	if acct != nil {
		h.engine.Logout(r.Context(), acct.ID)
	}
	writeOK(w, http.StatusOK, "Logged out successfully", nil)
}

// Me handles GET /me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	acct, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		h.errors.write(w, r, acctguard.ErrMissingToken)
		return
	}
	writeOK(w, http.StatusOK, "", map[string]any{"user": acct})
}

// Unlock handles POST /accounts/{id}/unlock.
func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.UnlockAccount(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.errors.write(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Account unlocked", nil)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	WriteJSON(w, status, Response{
		Success: status == http.StatusOK,
		Message: "Server is running",
		Data: map[string]any{
			"status":    http.StatusText(status),
			"timestamp": time.Now().UTC(),
			"checks":    results,
		},
	})
}
