package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
)

// secretSize is the number of random bytes in a generated secret (256 bits).
const secretSize = 32

// NewIdentifier returns a new opaque identifier. Identifiers carry no
// embedded information about the user or device they label.
func NewIdentifier() uuid.UUID {
	return uuid.New()
}

// NewSecret returns a cryptographically unpredictable secret encoded as
// URL-safe base64. It never returns partial output: on random-source
// failure the caller gets an empty string and ErrGeneration.
func NewSecret() (string, error) {
	b := make([]byte, secretSize)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Join(ErrGeneration, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Hash returns the one-way SHA-256 hex digest of a secret. Stored hashes
// cannot be reversed into the plaintext secret.
func Hash(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// MatchHash reports whether the candidate plaintext hashes to the stored
// digest. The comparison is constant-time so callers scanning many stored
// hashes do not leak which bytes differ.
func MatchHash(storedHash, candidate string) bool {
	candidateHash := Hash(candidate)
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(candidateHash)) == 1
}
