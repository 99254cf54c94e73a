package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"
)

const opaqueTokenBytes = 32

// OpaqueToken is a single-use random token for password reset and email
// verification. Raw is handed to the user exactly once; only Digest is ever
// persisted.
type OpaqueToken struct {
	Raw       string
	Digest    string
	ExpiresAt time.Time
}

// GenerateOpaqueToken creates a fresh single-use token valid for window.
func GenerateOpaqueToken(window time.Duration) (OpaqueToken, error) {
	buf := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return OpaqueToken{}, err
	}
	raw := hex.EncodeToString(buf)
	return OpaqueToken{
		Raw:       raw,
		Digest:    HashOpaqueToken(raw),
		ExpiresAt: time.Now().Add(window),
	}, nil
}

// HashOpaqueToken derives the stored digest for a raw token.
func HashOpaqueToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// MatchOpaqueToken reports whether raw hashes to digest and the window has
// not elapsed. The digest comparison is constant time.
func MatchOpaqueToken(raw, digest string, expiresAt time.Time) bool {
	if time.Now().After(expiresAt) {
		return false
	}
	candidate := HashOpaqueToken(raw)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(digest)) == 1
}
