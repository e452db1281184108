package internal

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// NewOTP returns a uniformly random numeric code of 4 to 10 digits. Leading
// zeros are kept, so every code has exactly digits characters.
func NewOTP(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", fmt.Errorf("otp digits must be between 4 and 10, got %d", digits)
	}

	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}
