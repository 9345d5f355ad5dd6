package identity

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quietmind/anonid/pkg/token"
)

// Snapshot is a point-in-time aggregate over the store, used for regulatory
// reporting. Computing it has no side effects.
type Snapshot struct {
	TotalUsers        int       `json:"total_users"`
	ActiveSessions    int       `json:"active_sessions"`
	TotalAuditEntries int       `json:"total_audit_entries"`
	AverageTrustScore float64   `json:"average_trust_score"`
	OldestAuditEntry  time.Time `json:"oldest_audit_entry,omitempty"`
	TakenAt           time.Time `json:"taken_at"`
}

// UserExport is the redacted view of a user returned for data-portability
// requests. Device fingerprints and address hashes are deliberately absent.
type UserExport struct {
	ID             uuid.UUID            `json:"id"`
	TrustScore     float64              `json:"trust_score"`
	Preferences    Preferences          `json:"preferences,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	LastActiveAt   time.Time            `json:"last_active_at"`
	Sessions       []SessionExport      `json:"sessions"`
	AuditTrail     []AuditExport        `json:"audit_trail"`
	RecoveryTokens RecoveryTokenSummary `json:"recovery_tokens"`
}

// SessionExport is a session stripped of its token and fingerprint.
type SessionExport struct {
	ID           uuid.UUID `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	Active       bool      `json:"active"`
	EndReason    EndReason `json:"end_reason,omitempty"`
}

// AuditExport is an audit entry stripped of fingerprint and address hash.
type AuditExport struct {
	Action    Action            `json:"action"`
	SessionID uuid.UUID         `json:"session_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// RecoveryTokenSummary counts the current batch without exposing hashes.
type RecoveryTokenSummary struct {
	Issued   int `json:"issued"`
	Consumed int `json:"consumed"`
}

// ComplianceSnapshot aggregates the current store state. Safe to call at any
// time; it locks one aggregate at a time and never blocks live traffic for
// long.
func (s *Service) ComplianceSnapshot(ctx context.Context) Snapshot {
	snap := Snapshot{TakenAt: s.now()}

	var trustSum float64
	for _, agg := range s.st.snapshotAggregates() {
		agg.mu.Lock()
		if agg.deleted {
			agg.mu.Unlock()
			continue
		}
		snap.TotalUsers++
		trustSum += agg.user.TrustScore
		for _, sess := range agg.sessions {
			if sess.Active {
				snap.ActiveSessions++
			}
		}
		snap.TotalAuditEntries += len(agg.trail)
		for i := range agg.trail {
			if snap.OldestAuditEntry.IsZero() || agg.trail[i].CreatedAt.Before(snap.OldestAuditEntry) {
				snap.OldestAuditEntry = agg.trail[i].CreatedAt
			}
		}
		agg.mu.Unlock()
	}

	orphanCount, orphanOldest := s.st.orphanedStats()
	snap.TotalAuditEntries += orphanCount
	if !orphanOldest.IsZero() && (snap.OldestAuditEntry.IsZero() || orphanOldest.Before(snap.OldestAuditEntry)) {
		snap.OldestAuditEntry = orphanOldest
	}

	if snap.TotalUsers > 0 {
		snap.AverageTrustScore = trustSum / float64(snap.TotalUsers)
	}

	return snap
}

// ExportUser returns the redacted view of a user for data-portability
// requests.
func (s *Service) ExportUser(ctx context.Context, userID uuid.UUID) (*UserExport, error) {
	agg, ok := s.st.aggregateByID(userID)
	if !ok {
		return nil, ErrNotFound
	}

	agg.mu.Lock()
	defer agg.mu.Unlock()

	if agg.deleted {
		return nil, ErrNotFound
	}

	export := &UserExport{
		ID:           agg.user.ID,
		TrustScore:   agg.user.TrustScore,
		Preferences:  clonePreferences(agg.user.Preferences),
		CreatedAt:    agg.user.CreatedAt,
		LastActiveAt: agg.user.LastActiveAt,
		Sessions:     make([]SessionExport, 0, len(agg.sessions)),
		AuditTrail:   make([]AuditExport, 0, len(agg.trail)),
	}

	for _, sess := range agg.sessions {
		export.Sessions = append(export.Sessions, SessionExport{
			ID:           sess.ID,
			CreatedAt:    sess.CreatedAt,
			ExpiresAt:    sess.ExpiresAt,
			LastActiveAt: sess.LastActiveAt,
			Active:       sess.Active,
			EndReason:    sess.EndReason,
		})
	}
	for _, e := range agg.trail {
		export.AuditTrail = append(export.AuditTrail, AuditExport{
			Action:    e.Action,
			SessionID: e.SessionID,
			Metadata:  e.clone().Metadata,
			CreatedAt: e.CreatedAt,
		})
	}
	export.RecoveryTokens.Issued = len(agg.recovery)
	for _, rt := range agg.recovery {
		if rt.ConsumedAt != nil {
			export.RecoveryTokens.Consumed++
		}
	}

	s.recordLocked(ctx, agg, ActionUserExported, agg.user.Fingerprint, uuid.Nil, nil)

	return export, nil
}

// DeleteUser removes the user and all of its sessions. The audit trail is
// retained for compliance but re-keyed to a freshly generated anonymous
// identifier, so the history survives without a re-identifiable link.
func (s *Service) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	agg, ok := s.st.aggregateByID(userID)
	if !ok {
		return ErrNotFound
	}

	agg.mu.Lock()
	defer agg.mu.Unlock()

	if agg.deleted {
		return ErrNotFound
	}

	now := s.now()

	for _, sess := range agg.sessions {
		sess.end(EndReasonUserDeleted)
	}

	s.recordLocked(ctx, agg, ActionUserDeleted, agg.user.Fingerprint, uuid.Nil, nil)

	agg.deleted = true
	s.st.removeUser(agg)

	// Re-key the retained trail to a fresh anonymous identity.
	replacement := token.NewIdentifier()
	trail := make([]AuditEntry, len(agg.trail))
	for i, e := range agg.trail {
		c := e.clone()
		c.UserID = replacement
		trail[i] = c
	}
	agg.trail = nil
	s.st.appendOrphaned(replacement, trail...)

	s.events.Publish(ctx, Event{Kind: EventUserDeleted, UserID: userID, At: now})
	s.log.InfoContext(ctx, "user deleted", slog.String("user_id", userID.String()))

	return nil
}
