package identity

import (
	"time"

	"github.com/google/uuid"
)

// EndReason records why a session left the active state. All transitions are
// terminal; a session never returns to active.
type EndReason string

const (
	EndReasonExpired     EndReason = "expired"
	EndReasonEvicted     EndReason = "evicted"
	EndReasonLoggedOut   EndReason = "logged_out"
	EndReasonUserDeleted EndReason = "user_deleted"
)

// Session binds a user to a device fingerprint for a bounded time.
type Session struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	Token        string    `json:"token"`
	Fingerprint  string    `json:"fingerprint"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	Active       bool      `json:"active"`
	EndReason    EndReason `json:"end_reason,omitempty"`
}

// IsExpired reports whether the session deadline has passed at the given time.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// end moves the session into a terminal state. It is a no-op for sessions
// that already ended, preserving the first recorded reason.
func (s *Session) end(reason EndReason) {
	if !s.Active {
		return
	}
	s.Active = false
	s.EndReason = reason
}

func (s *Session) clone() *Session {
	c := *s
	return &c
}
