package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func secureConfig() Config {
	return Config{
		Memory:      65536,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// fastConfig keeps the package minimums so tests stay quick.
func fastConfig() Config {
	return Config{
		Memory:      minMemoryKB,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newArgon(t *testing.T, cfg Config) *Argon2 {
	t.Helper()
	a, err := NewArgon2(cfg)
	require.NoError(t, err)
	return a
}

func TestArgon2RoundTrip(t *testing.T) {
	a := newArgon(t, secureConfig())

	hash, err := a.Hash("Abcd1234")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=2$"), hash)
	assert.Len(t, strings.Split(hash, "$"), 6)

	ok, err := a.Verify("Abcd1234", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Verify("abcd1234", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArgon2SaltsDiffer(t *testing.T) {
	a := newArgon(t, fastConfig())

	h1, err := a.Hash("Abcd1234")
	require.NoError(t, err)
	h2, err := a.Hash("Abcd1234")
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestArgon2AcceptsPaddedEncoding(t *testing.T) {
	a := newArgon(t, fastConfig())
	hash, err := a.Hash("Abcd1234")
	require.NoError(t, err)

	// 16-byte salt and 32-byte key encode to 22 and 43 chars unpadded.
	parts := strings.Split(hash, "$")
	parts[4] += "=="
	parts[5] += "="
	padded := strings.Join(parts, "$")

	ok, err := a.Verify("Abcd1234", padded)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestArgon2NeedsUpgrade(t *testing.T) {
	weak := newArgon(t, fastConfig())
	hash, err := weak.Hash("Abcd1234")
	require.NoError(t, err)

	upgrade, err := newArgon(t, secureConfig()).NeedsUpgrade(hash)
	require.NoError(t, err)
	assert.True(t, upgrade)

	upgrade, err = weak.NeedsUpgrade(hash)
	require.NoError(t, err)
	assert.False(t, upgrade)

	longerKey := fastConfig()
	longerKey.KeyLength = 64
	upgrade, err = newArgon(t, longerKey).NeedsUpgrade(hash)
	require.NoError(t, err)
	assert.True(t, upgrade)
}

func TestArgon2MalformedHashes(t *testing.T) {
	a := newArgon(t, fastConfig())
	good, err := a.Hash("Abcd1234")
	require.NoError(t, err)

	tests := map[string]string{
		"garbage":          "not-a-phc-hash",
		"bcrypt":           "$2a$10$abcdefghijklmnopqrstuuFEDCBA9876543210abcdefghijklmnopq",
		"argon2i":          strings.Replace(good, "$argon2id$", "$argon2i$", 1),
		"old version":      strings.Replace(good, "$v=19$", "$v=16$", 1),
		"params missing p": strings.Replace(good, ",p=1$", "$", 1),
		"memory too low":   strings.Replace(good, "m=8192,", "m=64,", 1),
		"short salt":       strings.Join(append(strings.Split(good, "$")[:4], "c2FsdA", strings.Split(good, "$")[5]), "$"),
		"empty key":        good[:strings.LastIndex(good, "$")+1],
	}

	for name, hash := range tests {
		t.Run(name, func(t *testing.T) {
			ok, err := a.Verify("Abcd1234", hash)
			assert.False(t, ok)
			assert.ErrorIs(t, err, ErrMalformedHash)
		})
	}
}

func TestArgon2LengthLimits(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxPasswordBytes = 64
	a := newArgon(t, cfg)

	_, err := a.Hash("")
	assert.ErrorIs(t, err, ErrPasswordTooShort)
	_, err = a.Hash("short")
	assert.ErrorIs(t, err, ErrPasswordTooShort)
	_, err = a.Hash(strings.Repeat("a", 65))
	assert.ErrorIs(t, err, ErrPasswordTooLong)

	exact := strings.Repeat("b", 64)
	hash, err := a.Hash(exact)
	require.NoError(t, err)

	ok, err := a.Verify(exact, hash)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = a.Verify(strings.Repeat("c", 65), hash)
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}

func TestArgon2DefaultMaxPasswordBytes(t *testing.T) {
	a := newArgon(t, fastConfig())

	_, err := a.Hash(strings.Repeat("d", DefaultMaxPasswordBytes+1))
	assert.ErrorIs(t, err, ErrPasswordTooLong)

	_, err = a.Hash(strings.Repeat("e", DefaultMaxPasswordBytes))
	assert.NoError(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := map[string]func(*Config){
		"memory":      func(c *Config) { c.Memory = 1024 },
		"time":        func(c *Config) { c.Time = 0 },
		"parallelism": func(c *Config) { c.Parallelism = 0 },
		"salt":        func(c *Config) { c.SaltLength = 8 },
		"key":         func(c *Config) { c.KeyLength = 8 },
		"max bytes":   func(c *Config) { c.MaxPasswordBytes = -1 },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := secureConfig()
			mutate(&cfg)
			_, err := NewArgon2(cfg)
			assert.Error(t, err)
		})
	}

	assert.NoError(t, secureConfig().Validate())
}
