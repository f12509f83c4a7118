package session

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashSecret normalizes and hashes a room secret. The plaintext is
// never stored; sessions keep only this digest.
func HashSecret(secret string) string {
	norm := strings.ToLower(strings.TrimSpace(secret))
	if norm == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// checkSecret compares a candidate against a stored digest in constant
// time. An empty stored digest means the room is open.
func checkSecret(storedHash, candidate string) bool {
	if storedHash == "" {
		return true
	}
	got := HashSecret(candidate)
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(got)) == 1
}
