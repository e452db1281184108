package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/acctguard"
	"github.com/MrEthical07/acctguard/notify"
	"github.com/MrEthical07/acctguard/store/memory"
)

type fixture struct {
	server   *httptest.Server
	accounts *memory.AccountStore
	notifier *notify.Recorder
}

func newFixture(t *testing.T, opts Options, with ...func(*acctguard.Builder)) *fixture {
	t.Helper()

	cfg := acctguard.DefaultConfig()
	cfg.Token.AccessSecret = "httpapi-access-secret"
	cfg.Token.RefreshSecret = "httpapi-refresh-secret"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	accounts := memory.NewAccountStore(nil)
	recorder := notify.NewRecorder()
	b := acctguard.New().
		WithConfig(cfg).
		WithCredentialStore(accounts).
		WithOTPStore(memory.NewOTPStore()).
		WithNotifier(recorder)
	for _, fn := range with {
		fn(b)
	}
	engine, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	srv := httptest.NewServer(NewRouter(engine, opts))
	t.Cleanup(srv.Close)
	return &fixture{server: srv, accounts: accounts, notifier: recorder}
}

type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Errors  map[string]string `json:"errors"`
	Error   string            `json:"error"`
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.server.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func decodeAuth(t *testing.T, env envelope) AuthData {
	t.Helper()
	var d AuthData
	require.NoError(t, json.Unmarshal(env.Data, &d))
	return d
}

func TestRegisterMeRefresh(t *testing.T) {
	f := newFixture(t, Options{})

	status, env := f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"fullName": "Asha Rao",
		"username": "asha_r",
		"email":    "asha@example.com",
		"password": "Abcd1234",
	})
	require.Equal(t, http.StatusCreated, status, env.Message)
	assert.True(t, env.Success)
	reg := decodeAuth(t, env)
	require.NotNil(t, reg.User)
	assert.Equal(t, acctguard.RoleStudent, reg.User.Role)
	assert.NotContains(t, string(env.Data), "passwordHash")
	assert.NotContains(t, string(env.Data), "argon2id")

	status, env = f.do(t, http.MethodGet, "/api/auth/me", reg.Token, nil)
	require.Equal(t, http.StatusOK, status)
	var me struct {
		User acctguard.Account `json:"user"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, reg.User.ID, me.User.ID)
	assert.Equal(t, "asha@example.com", me.User.Email)

	status, env = f.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": reg.RefreshToken})
	require.Equal(t, http.StatusOK, status)
	refreshed := decodeAuth(t, env)
	assert.NotEmpty(t, refreshed.Token)
	assert.NotEqual(t, reg.Token, refreshed.Token)

	status, _ = f.do(t, http.MethodGet, "/api/auth/me", refreshed.Token, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = f.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": reg.Token})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, env = f.do(t, http.MethodPost, "/api/auth/logout", refreshed.Token, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Logged out successfully", env.Message)
}

func TestRegisterDuplicate(t *testing.T) {
	f := newFixture(t, Options{})
	body := map[string]string{
		"fullName": "Asha Rao",
		"username": "asha_r",
		"email":    "asha@example.com",
		"password": "Abcd1234",
	}
	status, _ := f.do(t, http.MethodPost, "/api/auth/register", "", body)
	require.Equal(t, http.StatusCreated, status)

	body["username"] = "asha_two"
	status, env := f.do(t, http.MethodPost, "/api/auth/register", "", body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "user already exists with this email", env.Message)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t, Options{})

	status, env := f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"fullName": "A",
		"username": "asha_r",
		"password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Validation failed", env.Message)
	assert.Contains(t, env.Errors, "fullName")
	assert.Contains(t, env.Errors, "email")
	assert.Contains(t, env.Errors, "password")

	status, env = f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"fullName": "Asha Rao",
		"username": "asha_r",
		"email":    "asha@example.com",
		"password": "alllowercase1",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, env.Message, "uppercase")
}

func TestLoginLockout(t *testing.T) {
	f := newFixture(t, Options{})
	status, _ := f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"fullName": "Asha Rao", "username": "asha_r", "email": "asha@example.com", "password": "Abcd1234",
	})
	require.Equal(t, http.StatusCreated, status)

	status, env := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "nobody@example.com", "password": "x"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "No account found with these credentials", env.Message)

	for i := 1; i <= 4; i++ {
		status, env = f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "asha_r", "password": "Wrong1234"})
		require.Equal(t, http.StatusUnauthorized, status, "attempt %d", i)
		assert.Equal(t, "Invalid password", env.Message)
	}

	status, _ = f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "asha_r", "password": "Wrong1234"})
	assert.Equal(t, http.StatusLocked, status)

	status, _ = f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "asha_r", "password": "Abcd1234"})
	assert.Equal(t, http.StatusLocked, status)
}

func TestLoginRequiresIdentifier(t *testing.T) {
	f := newFixture(t, Options{})

	status, env := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"password": "Abcd1234"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, env.Errors, "identifier")
}

func TestOTPRegistrationFlow(t *testing.T) {
	f := newFixture(t, Options{})

	status, env := f.do(t, http.MethodPost, "/api/auth/otp/send", "", map[string]string{
		"channel": "phone", "identifier": "9797632997", "purpose": "registration",
	})
	require.Equal(t, http.StatusOK, status, env.Message)

	code, ok := f.notifier.Last("9797632997")
	require.True(t, ok)

	status, env = f.do(t, http.MethodPost, "/api/auth/otp/verify", "", map[string]string{
		"channel": "phone", "identifier": "9797632997", "purpose": "registration", "otp": wrongCode(code),
		"fullName": "Asha Rao", "username": "asha_r", "password": "Abcd1234",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid OTP", env.Message)

	status, env = f.do(t, http.MethodPost, "/api/auth/otp/verify", "", map[string]string{
		"channel": "phone", "identifier": "9797632997", "purpose": "registration", "otp": code,
		"fullName": "Asha Rao", "username": "asha_r", "password": "Abcd1234",
	})
	require.Equal(t, http.StatusCreated, status, env.Message)
	d := decodeAuth(t, env)
	require.NotNil(t, d.User)
	assert.True(t, d.User.PhoneVerified)
	assert.Equal(t, "9797632997", d.User.Phone)
	assert.NotEmpty(t, d.Token)

	status, env = f.do(t, http.MethodPost, "/api/auth/otp/verify", "", map[string]string{
		"channel": "phone", "identifier": "9797632997", "purpose": "registration", "otp": code,
		"fullName": "Asha Rao", "username": "asha_r2", "password": "Abcd1234",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "user already exists with this phone", env.Message)
}

func TestOTPVerifyFailuresWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	var skew atomic.Int64
	clock := func() time.Time { return time.Now().Add(time.Duration(skew.Load())) }

	f := newFixture(t, Options{}, func(b *acctguard.Builder) {
		b.WithRedis(rdb).WithOTPStore(acctguard.NewRedisOTPStore(rdb, "")).WithClock(clock)
	})

	status, env := f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"fullName": "Asha Rao", "username": "asha_r", "email": "asha@example.com",
		"phone": "9797632997", "password": "Abcd1234",
	})
	require.Equal(t, http.StatusCreated, status, env.Message)

	verify := func(channel, identifier, code string) (int, envelope) {
		return f.do(t, http.MethodPost, "/api/auth/otp/verify", "", map[string]string{
			"channel": channel, "identifier": identifier, "purpose": "login", "otp": code,
		})
	}

	status, env = verify("phone", "9797632997", "123456")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "No OTP found. Please request a new one", env.Message)

	status, env = f.do(t, http.MethodPost, "/api/auth/otp/send", "", map[string]string{
		"channel": "phone", "identifier": "9797632997", "purpose": "login",
	})
	require.Equal(t, http.StatusOK, status, env.Message)
	code, ok := f.notifier.Last("9797632997")
	require.True(t, ok)

	status, env = verify("phone", "9797632997", wrongCode(code))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid OTP", env.Message)

	status, env = verify("phone", "9797632997", code)
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.NotEmpty(t, decodeAuth(t, env).Token)

	status, env = verify("phone", "9797632997", code)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "No OTP found. Please request a new one", env.Message)

	status, env = f.do(t, http.MethodPost, "/api/auth/otp/send", "", map[string]string{
		"channel": "email", "identifier": "asha@example.com", "purpose": "login",
	})
	require.Equal(t, http.StatusOK, status, env.Message)
	code, ok = f.notifier.Last("asha@example.com")
	require.True(t, ok)

	skew.Store(int64(6 * time.Minute))
	status, env = verify("email", "asha@example.com", code)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "OTP has expired. Please request a new one", env.Message)
}

func wrongCode(code string) string {
	b := []byte(code)
	if b[0] == '9' {
		b[0] = '0'
	} else {
		b[0]++
	}
	return string(b)
}

func TestUnlockRequiresAdmin(t *testing.T) {
	f := newFixture(t, Options{})

	register := func(username string) AuthData {
		status, env := f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
			"fullName": "User " + username, "username": username, "email": username + "@example.com", "password": "Abcd1234",
		})
		require.Equal(t, http.StatusCreated, status)
		return decodeAuth(t, env)
	}
	student := register("student_1")
	admin := register("admin_1")
	require.NoError(t, f.accounts.SetRole(admin.User.ID, acctguard.RoleAdmin))

	path := fmt.Sprintf("/api/auth/accounts/%s/unlock", student.User.ID)

	status, env := f.do(t, http.MethodPost, path, student.Token, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "user role student is not authorized to access this route", env.Message)

	status, _ = f.do(t, http.MethodPost, path, admin.Token, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = f.do(t, http.MethodPost, "/api/auth/accounts/missing/unlock", admin.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Options{RateLimit: RateLimitConfig{Limit: 2, Window: time.Hour}})

	for i := 0; i < 2; i++ {
		status, _ := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "nobody", "password": "x"})
		assert.Equal(t, http.StatusNotFound, status)
	}
	status, env := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "nobody", "password": "x"})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.False(t, env.Success)
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, Options{
		Registerer: reg,
		Gatherer:   reg,
		HealthChecks: map[string]HealthCheck{
			"redis": func(context.Context) error { return nil },
		},
	})

	status, env := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)

	resp, err := f.server.Client().Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `acctguard_http_requests_total{method="GET",path="/health",status="200"}`)
}

func TestHealthFailingCheck(t *testing.T) {
	f := newFixture(t, Options{HealthChecks: map[string]HealthCheck{
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	}})

	status, env := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.False(t, env.Success)
	assert.True(t, strings.Contains(string(env.Data), "connection refused"))
}

func TestDevelopmentErrorDetail(t *testing.T) {
	prod := newFixture(t, Options{})
	dev := newFixture(t, Options{Development: true})

	_, env := prod.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": "garbage"})
	assert.Empty(t, env.Error)

	_, env = dev.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": "garbage"})
	assert.NotEmpty(t, env.Error)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{acctguard.ErrInvalidCredentials, http.StatusUnauthorized},
		{acctguard.ErrNoSuchAccount, http.StatusNotFound},
		{acctguard.ErrOTPMismatch, http.StatusBadRequest},
		{acctguard.ErrNoOTPPending, http.StatusBadRequest},
		{acctguard.ErrOTPExpired, http.StatusBadRequest},
		{&acctguard.DuplicateIdentityError{Field: "email"}, http.StatusBadRequest},
		{acctguard.ErrAccountLocked, http.StatusLocked},
		{&acctguard.RoleError{Role: acctguard.RoleStudent}, http.StatusForbidden},
		{acctguard.ErrMissingToken, http.StatusUnauthorized},
		{acctguard.ErrExpiredToken, http.StatusUnauthorized},
		{acctguard.ErrMalformedToken, http.StatusUnauthorized},
		{acctguard.ErrAccountNotFound, http.StatusUnauthorized},
		{acctguard.ErrAccountDeactivated, http.StatusUnauthorized},
		{acctguard.ErrOTPRateLimited, http.StatusTooManyRequests},
		{fmt.Errorf("%w: redis down", acctguard.ErrUpstreamUnavailable), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}
