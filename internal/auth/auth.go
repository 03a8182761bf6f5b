// Package auth handles the admin API bearer token. The token itself is never
// stored; the service holds only its bcrypt hash.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashAPIToken hashes an admin API token with bcrypt at the default cost.
// The hash goes into ADMIN_TOKEN_BCRYPT.
func HashAPIToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash token: %w", err)
	}
	return string(hash), nil
}

// CheckAPIToken compares the configured bcrypt hash against a presented
// token. A nil return means the token matches.
func CheckAPIToken(hash, token string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token))
}

// GenerateAPIToken returns a cryptographically random 32-byte hex token,
// suitable for provisioning a new admin credential.
func GenerateAPIToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
