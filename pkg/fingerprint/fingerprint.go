package fingerprint

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Device holds the client-reported characteristics a fingerprint is
// derived from. All fields are optional; empty traits keep their position
// in the derivation so the same value in different fields yields different
// fingerprints.
type Device struct {
	UserAgent string `json:"user_agent"`
	Language  string `json:"language"`
	Timezone  string `json:"timezone"`
	Screen    string `json:"screen"`
	Platform  string `json:"platform"`
}

// Generate creates a device fingerprint from the given traits.
// All five traits are joined in a fixed order, empty ones included,
// and hashed with BLAKE2b, truncated to 128 bits and returned as a
// 32-character hex string.
func Generate(dev Device) string {
	components := []string{
		dev.UserAgent,
		dev.Language,
		dev.Timezone,
		dev.Screen,
		dev.Platform,
	}

	sum := blake2b.Sum256([]byte(strings.Join(components, "|")))
	return hex.EncodeToString(sum[:16])
}

// Match compares two fingerprints in constant time.
func Match(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// FromRequest extracts device traits from an HTTP request. Browser clients
// report timezone, screen and platform through dedicated headers set by the
// frontend; user-agent and language come from the standard headers.
func FromRequest(r *http.Request) Device {
	return Device{
		UserAgent: r.UserAgent(),
		Language:  r.Header.Get("Accept-Language"),
		Timezone:  r.Header.Get("X-Device-Timezone"),
		Screen:    r.Header.Get("X-Device-Screen"),
		Platform:  r.Header.Get("X-Device-Platform"),
	}
}
