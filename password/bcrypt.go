package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// LegacyBcryptCost is the cost used by the previous deployment's hashes.
const LegacyBcryptCost = 12

// IsBcrypt reports whether encodedHash is a modular-crypt bcrypt string.
func IsBcrypt(encodedHash string) bool {
	return strings.HasPrefix(encodedHash, "$2a$") ||
		strings.HasPrefix(encodedHash, "$2b$") ||
		strings.HasPrefix(encodedHash, "$2y$")
}

// HashBcrypt produces a bcrypt hash. It exists for importing and testing
// legacy accounts; new hashes are argon2id.
func HashBcrypt(password string, cost int) (string, error) {
	if len(password) < minPassBytes {
		return "", ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyBcrypt compares password against a bcrypt hash. A mismatch is
// reported as false with a nil error.
func VerifyBcrypt(password, encodedHash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, err
}
