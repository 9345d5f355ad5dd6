package identity

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Preferences is the anonymous preference bag attached to a user. Values are
// free-form strings (theme, locale, reminder cadence); nothing in it may
// identify the person behind the account.
type Preferences map[string]string

// User is an anonymous account. It carries no personal data: the identifier
// is opaque and the fingerprint is a one-way hash of device traits.
type User struct {
	ID           uuid.UUID   `json:"id"`
	Fingerprint  string      `json:"fingerprint"`
	TrustScore   float64     `json:"trust_score"`
	Preferences  Preferences `json:"preferences,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	LastActiveAt time.Time   `json:"last_active_at"`
}

func (u *User) clone() *User {
	c := *u
	if u.Preferences != nil {
		c.Preferences = make(Preferences, len(u.Preferences))
		maps.Copy(c.Preferences, u.Preferences)
	}
	return &c
}
