package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// TokenSize256 is the entropy of session ids, 64 hex chars.
const TokenSize256 = 32

// GenerateHexToken returns size random bytes hex encoded. Session ids use
// this form so they are safe in KV keys and headers without escaping.
func GenerateHexToken(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("token size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}

	return hex.EncodeToString(buf), nil
}

// FingerprintToken returns the SHA-256 of token as lowercase hex. Raw
// credentials are never used as storage keys; their fingerprint is.
func FingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
