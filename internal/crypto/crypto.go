// Package crypto holds the password hashing and random-identifier
// primitives. Vault contents are encrypted by clients; nothing here
// touches item plaintext.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2 parameters for stored password hashes. Intentionally
	// slow; this is the only CPU-bound work in the request path.
	pbkdf2Iterations = 100_000
	saltLength       = 16
	keyLength        = 32
)

// HashPassword derives a salted PBKDF2-HMAC-SHA256 hash and returns it
// as "salt:hash" with both parts base64-encoded.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keyLength, sha256.New)
	return base64.StdEncoding.EncodeToString(salt) + ":" + base64.StdEncoding.EncodeToString(key), nil
}

// VerifyPassword checks password against a stored hash. Hashes
// containing the ":" delimiter are salted PBKDF2; anything else is a
// legacy unsalted SHA-256 hex digest, still verifiable but never
// produced by HashPassword.
func VerifyPassword(password, stored string) bool {
	if stored == "" {
		return false
	}
	saltPart, hashPart, ok := strings.Cut(stored, ":")
	if !ok {
		return verifyLegacy(password, stored)
	}
	salt, err := base64.StdEncoding.DecodeString(saltPart)
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(hashPart)
	if err != nil {
		return false
	}
	got := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, len(want), sha256.New)
	return hmac.Equal(got, want)
}

func verifyLegacy(password, stored string) bool {
	sum := sha256.Sum256([]byte(password))
	got := hex.EncodeToString(sum[:])
	return hmac.Equal([]byte(got), []byte(strings.ToLower(stored)))
}

// LegacyHash returns the unsalted SHA-256 hex digest. Kept only so
// tests can exercise the legacy verification path.
func LegacyHash(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// RandomToken returns n random bytes as URL-safe base64, used for
// invitation tokens and other single-use secrets.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken returns the SHA-256 hex digest of a token; only digests
// are persisted, never the token itself.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
