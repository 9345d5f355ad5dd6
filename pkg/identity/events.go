package identity

import (
	"time"

	"github.com/google/uuid"
)

// EventKind labels a lifecycle notification.
type EventKind string

const (
	EventAccountCreated     EventKind = "account_created"
	EventSessionEvicted     EventKind = "session_evicted"
	EventSessionExpired     EventKind = "session_expired"
	EventTrustScoreChanged  EventKind = "trust_score_changed"
	EventUserDeleted        EventKind = "user_deleted"
	EventSuspiciousActivity EventKind = "suspicious_activity"
)

// Event is a best-effort notification published to subscribers. Ordering is
// not guaranteed across subscribers, and slow subscribers miss events.
type Event struct {
	Kind        EventKind `json:"kind"`
	UserID      uuid.UUID `json:"user_id"`
	SessionID   uuid.UUID `json:"session_id,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	OldTrust    float64   `json:"old_trust,omitempty"`
	NewTrust    float64   `json:"new_trust,omitempty"`
	At          time.Time `json:"at"`
}
