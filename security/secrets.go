package security

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashClientSecret hashes a client secret for storage.
func HashClientSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	return string(hash), nil
}

// VerifyClientSecret compares a presented client secret against a stored
// bcrypt hash. bcrypt comparison is constant-time with respect to the secret.
func VerifyClientSecret(hash, secret string) error {
	if hash == "" {
		return fmt.Errorf("client has no secret configured")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return fmt.Errorf("client secret mismatch")
	}
	return nil
}
