package identity

import (
	"context"
	"log/slog"
)

// Sweep entrypoints invoked by the maintenance scheduler. Each sweep is
// idempotent, locks one aggregate at a time so live traffic on other users
// proceeds, and stops early when the context is cancelled.

// SweepExpiredSessions deactivates every active session past its deadline
// and audits each one. Returns the number of sessions ended.
func (s *Service) SweepExpiredSessions(ctx context.Context) (int, error) {
	var ended int
	for _, agg := range s.st.snapshotAggregates() {
		if err := ctx.Err(); err != nil {
			return ended, err
		}

		agg.mu.Lock()
		if agg.deleted {
			agg.mu.Unlock()
			continue
		}
		now := s.now()
		for _, sess := range agg.sessions {
			if !sess.Active || !sess.IsExpired(now) {
				continue
			}
			sess.end(EndReasonExpired)
			s.st.dropSession(sess.Token, sess.Fingerprint, sess.ID)
			s.recordLocked(ctx, agg, ActionSessionExpired, sess.Fingerprint, sess.ID, nil)
			s.events.Publish(ctx, Event{Kind: EventSessionExpired, UserID: agg.user.ID, SessionID: sess.ID, Fingerprint: sess.Fingerprint, At: now})
			ended++
		}
		agg.mu.Unlock()
	}

	if ended > 0 {
		s.log.InfoContext(ctx, "expired sessions swept", slog.Int("count", ended))
	}
	return ended, nil
}

// PurgeAuditTrail removes audit entries older than the retention window,
// including trails retained for deleted users. Returns the number purged.
func (s *Service) PurgeAuditTrail(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.AuditRetention)

	var purged int
	for _, agg := range s.st.snapshotAggregates() {
		if err := ctx.Err(); err != nil {
			return purged, err
		}

		agg.mu.Lock()
		purged += agg.pruneTrail(cutoff)
		agg.mu.Unlock()
	}

	purged += s.st.purgeOrphaned(cutoff)

	if purged > 0 {
		s.log.InfoContext(ctx, "audit entries purged", slog.Int("count", purged))
	}
	return purged, nil
}

// RecomputeTrustScores refreshes every user's trust score and publishes a
// trust_score_changed notification when the delta exceeds the configured
// threshold. Returns the number of notifications published.
func (s *Service) RecomputeTrustScores(ctx context.Context) (int, error) {
	var changed int
	for _, agg := range s.st.snapshotAggregates() {
		if err := ctx.Err(); err != nil {
			return changed, err
		}

		agg.mu.Lock()
		if agg.deleted {
			agg.mu.Unlock()
			continue
		}
		now := s.now()
		old := agg.user.TrustScore
		score := computeTrustScore(agg.user, agg.trail, now)
		agg.user.TrustScore = score
		if delta := score - old; delta >= s.cfg.TrustChangeThreshold || delta <= -s.cfg.TrustChangeThreshold {
			s.events.Publish(ctx, Event{Kind: EventTrustScoreChanged, UserID: agg.user.ID, OldTrust: old, NewTrust: score, At: now})
			changed++
		}
		agg.mu.Unlock()
	}
	return changed, nil
}
