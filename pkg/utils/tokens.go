package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// GenerateRandomToken returns byteLength random bytes hex-encoded. Used for
// refresh-token secrets, device-trust tokens and password-reset tokens.
func GenerateRandomToken(byteLength int) (string, error) {
	b := make([]byte, byteLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HashToken is the one-way digest stored in place of raw token values. The
// raw value is high-entropy, so an unsalted digest is sufficient and keeps
// lookups a single indexed equality.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
