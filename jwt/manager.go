package jwt

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the algorithm used for both token kinds.
type SigningMethod string

const (
	// MethodHS256 signs with a shared secret per token kind. This is the default.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with an Ed25519 key pair per token kind.
	MethodEd25519 SigningMethod = "ed25519"
)

// Kind distinguishes access tokens from refresh tokens. It is carried in the
// "typ" claim and each kind is signed with its own key material.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

var (
	// ErrExpired is returned by Verify when the token is well formed and
	// correctly signed but its expiry has passed.
	ErrExpired = errors.New("token expired")
	// ErrMalformed is returned by Verify for every other rejection: bad
	// structure, bad signature, wrong algorithm, or wrong kind.
	ErrMalformed = errors.New("token malformed")
)

// KeyConfig holds the key material and lifetime for one token kind.
//
// For MethodHS256 only Secret is used. For MethodEd25519 PrivateKey is
// required (raw 64-byte seed+key or PEM); PublicKey is derived when empty and
// must match PrivateKey when set.
type KeyConfig struct {
	Secret     []byte
	PrivateKey []byte
	PublicKey  []byte
	TTL        time.Duration
}

// Config configures a Manager.
type Config struct {
	SigningMethod SigningMethod
	Access        KeyConfig
	Refresh       KeyConfig
	Issuer        string
	Leeway        time.Duration

	// Now is the clock used for iat/exp and for validation. Defaults to time.Now.
	Now func() time.Time
}

// Claims is the claim set shared by both token kinds. The account id is the
// registered "sub" claim.
type Claims struct {
	Kind Kind `json:"typ"`
	jwt.RegisteredClaims
}

type keyPair struct {
	sign   interface{}
	verify interface{}
	ttl    time.Duration
}

// Manager issues and verifies signed access and refresh tokens.
//
// Manager holds no mutable state after construction and is safe for
// concurrent use.
type Manager struct {
	method  jwt.SigningMethod
	issuer  string
	leeway  time.Duration
	now     func() time.Time
	access  keyPair
	refresh keyPair
}

// NewManager validates cfg and builds a Manager. Missing key material,
// identical key material for both kinds, and non-positive lifetimes are
// rejected.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.SigningMethod == "" {
		cfg.SigningMethod = MethodHS256
	}
	if cfg.Access.TTL <= 0 || cfg.Refresh.TTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	m := &Manager{
		issuer: strings.TrimSpace(cfg.Issuer),
		leeway: cfg.Leeway,
		now:    cfg.Now,
	}

	var err error
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.Access.Secret) == 0 {
			return nil, errors.New("hs256 requires access secret")
		}
		if len(cfg.Refresh.Secret) == 0 {
			return nil, errors.New("hs256 requires refresh secret")
		}
		if bytes.Equal(cfg.Access.Secret, cfg.Refresh.Secret) {
			return nil, errors.New("access and refresh secrets must differ")
		}
		m.method = jwt.SigningMethodHS256
		m.access = keyPair{sign: cfg.Access.Secret, verify: cfg.Access.Secret, ttl: cfg.Access.TTL}
		m.refresh = keyPair{sign: cfg.Refresh.Secret, verify: cfg.Refresh.Secret, ttl: cfg.Refresh.TTL}
	case MethodEd25519:
		m.method = jwt.SigningMethodEdDSA
		if m.access, err = edKeyPair("access", cfg.Access); err != nil {
			return nil, err
		}
		if m.refresh, err = edKeyPair("refresh", cfg.Refresh); err != nil {
			return nil, err
		}
		accessPriv := m.access.sign.(ed25519.PrivateKey)
		accessPub := m.access.verify.(ed25519.PublicKey)
		if accessPriv.Equal(m.refresh.sign) || accessPub.Equal(m.refresh.verify) {
			return nil, errors.New("access and refresh keys must differ")
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return m, nil
}

// TTL reports the configured lifetime for kind.
func (m *Manager) TTL(kind Kind) time.Duration {
	keys, err := m.keys(kind)
	if err != nil {
		return 0
	}
	return keys.ttl
}

// IssueAccess mints an access token for accountID.
func (m *Manager) IssueAccess(accountID string) (string, time.Time, error) {
	return m.Issue(KindAccess, accountID)
}

// IssueRefresh mints a refresh token for accountID.
func (m *Manager) IssueRefresh(accountID string) (string, time.Time, error) {
	return m.Issue(KindRefresh, accountID)
}

// Issue mints a token of the given kind for accountID and returns it with its
// expiry. Every token carries a fresh jti, so two tokens minted in the same
// second for the same account still differ.
func (m *Manager) Issue(kind Kind, accountID string) (string, time.Time, error) {
	if accountID == "" {
		return "", time.Time{}, errors.New("empty subject")
	}
	keys, err := m.keys(kind)
	if err != nil {
		return "", time.Time{}, err
	}

	now := m.now()
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(keys.ttl)),
			Issuer:    m.issuer,
		},
	}

	signed, err := jwt.NewWithClaims(m.method, claims).SignedString(keys.sign)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks signature, algorithm, expiry and kind, in that order, and
// returns the claims. Expiry failures map to ErrExpired; everything else maps
// to ErrMalformed.
func (m *Manager) Verify(token string, kind Kind) (*Claims, error) {
	keys, err := m.keys(kind)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrMalformed
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if m.leeway > 0 {
		options = append(options, jwt.WithLeeway(m.leeway))
	}
	if m.issuer != "" {
		options = append(options, jwt.WithIssuer(m.issuer))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != m.method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return keys.verify, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformed
	}
	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: expected %s token, got %q", ErrMalformed, kind, claims.Kind)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrMalformed)
	}

	return claims, nil
}

func (m *Manager) keys(kind Kind) (keyPair, error) {
	switch kind {
	case KindAccess:
		return m.access, nil
	case KindRefresh:
		return m.refresh, nil
	default:
		return keyPair{}, fmt.Errorf("unknown token kind %q", kind)
	}
}

func edKeyPair(name string, cfg KeyConfig) (keyPair, error) {
	if len(cfg.PrivateKey) == 0 {
		return keyPair{}, fmt.Errorf("ed25519 requires %s private key", name)
	}
	priv, err := parseEdPrivateKey(cfg.PrivateKey)
	if err != nil {
		return keyPair{}, err
	}
	pub := priv.Public().(ed25519.PublicKey)
	if len(cfg.PublicKey) > 0 {
		given, err := parseEdPublicKey(cfg.PublicKey)
		if err != nil {
			return keyPair{}, err
		}
		if !given.Equal(pub) {
			return keyPair{}, fmt.Errorf("%s public key does not match private key", name)
		}
	}
	return keyPair{sign: priv, verify: pub, ttl: cfg.TTL}, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
