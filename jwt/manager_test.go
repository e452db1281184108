package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func newHSManager(t *testing.T, clock *fixedClock) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		SigningMethod: MethodHS256,
		Access:        KeyConfig{Secret: []byte("access-secret-access-secret-0001"), TTL: 7 * 24 * time.Hour},
		Refresh:       KeyConfig{Secret: []byte("refresh-secret-refresh-secret-01"), TTL: 30 * 24 * time.Hour},
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestIssueAndVerifyAccess(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	m := newHSManager(t, clock)

	token, exp, err := m.IssueAccess("acct-1")
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	if want := clock.now.Add(7 * 24 * time.Hour); !exp.Equal(want) {
		t.Fatalf("expiry = %v, want %v", exp, want)
	}

	claims, err := m.Verify(token, KindAccess)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "acct-1" {
		t.Fatalf("subject = %q", claims.Subject)
	}
	if claims.Kind != KindAccess {
		t.Fatalf("kind = %q", claims.Kind)
	}
	if claims.ID == "" {
		t.Fatal("expected jti to be set")
	}
}

func TestVerifyRejectsWrongKind(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	m := newHSManager(t, clock)

	refresh, _, err := m.IssueRefresh("acct-1")
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	if _, err := m.Verify(refresh, KindAccess); !errors.Is(err, ErrMalformed) {
		t.Fatalf("refresh as access: expected ErrMalformed, got %v", err)
	}

	access, _, err := m.IssueAccess("acct-1")
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	if _, err := m.Verify(access, KindRefresh); !errors.Is(err, ErrMalformed) {
		t.Fatalf("access as refresh: expected ErrMalformed, got %v", err)
	}
}

func TestVerifyExpiryBoundary(t *testing.T) {
	issued := time.Unix(1_700_000_000, 0)
	clock := &fixedClock{now: issued}
	m := newHSManager(t, clock)

	token, _, err := m.IssueAccess("acct-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	ttl := m.TTL(KindAccess)

	clock.now = issued.Add(ttl - time.Second)
	if _, err := m.Verify(token, KindAccess); err != nil {
		t.Fatalf("one second before expiry: %v", err)
	}

	clock.now = issued.Add(ttl)
	if _, err := m.Verify(token, KindAccess); !errors.Is(err, ErrExpired) {
		t.Fatalf("at expiry: expected ErrExpired, got %v", err)
	}

	clock.now = issued.Add(ttl + time.Hour)
	if _, err := m.Verify(token, KindAccess); !errors.Is(err, ErrExpired) {
		t.Fatalf("after expiry: expected ErrExpired, got %v", err)
	}
}

func TestVerifyRejectsTamperedAndForeignTokens(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	m := newHSManager(t, clock)

	token, _, err := m.IssueAccess("acct-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	tampered := token[:len(token)-2] + "xx"
	if _, err := m.Verify(tampered, KindAccess); !errors.Is(err, ErrMalformed) {
		t.Fatalf("tampered: expected ErrMalformed, got %v", err)
	}

	foreign := gjwt.NewWithClaims(gjwt.SigningMethodHS256, Claims{
		Kind: KindAccess,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "acct-1",
			ExpiresAt: gjwt.NewNumericDate(clock.now.Add(time.Hour)),
		},
	})
	signed, err := foreign.SignedString([]byte("some-other-secret-entirely-0001"))
	if err != nil {
		t.Fatalf("sign foreign: %v", err)
	}
	if _, err := m.Verify(signed, KindAccess); !errors.Is(err, ErrMalformed) {
		t.Fatalf("foreign: expected ErrMalformed, got %v", err)
	}

	if _, err := m.Verify("", KindAccess); !errors.Is(err, ErrMalformed) {
		t.Fatalf("empty: expected ErrMalformed, got %v", err)
	}
	if _, err := m.Verify("not.a.jwt", KindAccess); !errors.Is(err, ErrMalformed) {
		t.Fatalf("garbage: expected ErrMalformed, got %v", err)
	}
}

func TestVerifyRejectsNoneAlgorithm(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	m := newHSManager(t, clock)

	tok := gjwt.NewWithClaims(gjwt.SigningMethodNone, Claims{
		Kind: KindAccess,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "acct-1",
			ExpiresAt: gjwt.NewNumericDate(clock.now.Add(time.Hour)),
		},
	})
	signed, err := tok.SignedString(gjwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := m.Verify(signed, KindAccess); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestIssueProducesDistinctTokensWithinSameSecond(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	m := newHSManager(t, clock)

	a, _, err := m.IssueAccess("acct-1")
	if err != nil {
		t.Fatalf("issue a: %v", err)
	}
	b, _, err := m.IssueAccess("acct-1")
	if err != nil {
		t.Fatalf("issue b: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct tokens")
	}
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	good := KeyConfig{Secret: []byte("access-secret-access-secret-0001"), TTL: time.Hour}
	other := KeyConfig{Secret: []byte("refresh-secret-refresh-secret-01"), TTL: time.Hour}

	cases := map[string]Config{
		"missing access secret":  {Access: KeyConfig{TTL: time.Hour}, Refresh: other},
		"missing refresh secret": {Access: good, Refresh: KeyConfig{TTL: time.Hour}},
		"shared secret":          {Access: good, Refresh: good},
		"zero ttl":               {Access: KeyConfig{Secret: good.Secret}, Refresh: other},
		"negative leeway":        {Access: good, Refresh: other, Leeway: -time.Second},
		"unknown method":         {SigningMethod: "rs512", Access: good, Refresh: other},
	}
	for name, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestEd25519KindsUseDistinctKeys(t *testing.T) {
	_, accessPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate access key: %v", err)
	}
	_, refreshPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate refresh key: %v", err)
	}

	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	m, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		Access:        KeyConfig{PrivateKey: accessPriv, TTL: time.Hour},
		Refresh:       KeyConfig{PrivateKey: refreshPriv, TTL: 24 * time.Hour},
		Issuer:        "acctguard",
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	refresh, _, err := m.IssueRefresh("acct-9")
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	claims, err := m.Verify(refresh, KindRefresh)
	if err != nil {
		t.Fatalf("verify refresh: %v", err)
	}
	if claims.Issuer != "acctguard" {
		t.Fatalf("issuer = %q", claims.Issuer)
	}
	if _, err := m.Verify(refresh, KindAccess); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}

	if _, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		Access:        KeyConfig{PrivateKey: accessPriv, TTL: time.Hour},
		Refresh:       KeyConfig{PrivateKey: accessPriv, TTL: time.Hour},
	}); err == nil {
		t.Fatal("expected shared ed25519 key to be rejected")
	}

	refreshPub := refreshPriv.Public().(ed25519.PublicKey)
	if _, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		Access:        KeyConfig{PrivateKey: accessPriv, TTL: time.Hour},
		Refresh:       KeyConfig{PrivateKey: accessPriv, PublicKey: refreshPub, TTL: time.Hour},
	}); err == nil {
		t.Fatal("expected shared ed25519 private key to be rejected despite a distinct public key")
	}

	if _, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		Access:        KeyConfig{PrivateKey: accessPriv, TTL: time.Hour},
		Refresh:       KeyConfig{PrivateKey: refreshPriv, PublicKey: accessPriv.Public().(ed25519.PublicKey), TTL: time.Hour},
	}); err == nil {
		t.Fatal("expected mismatched public key to be rejected")
	}

	if _, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		Access:        KeyConfig{PrivateKey: accessPriv, TTL: time.Hour},
		Refresh:       KeyConfig{PrivateKey: refreshPriv, PublicKey: refreshPub, TTL: time.Hour},
	}); err != nil {
		t.Fatalf("matching public key: %v", err)
	}
}
