package identity

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/quietmind/anonid/pkg/fingerprint"
	"github.com/quietmind/anonid/pkg/token"
)

// RecoveryToken is a single-use, time-limited secret that re-binds an
// account to a new device. Only the one-way hash of the plaintext is stored;
// the plaintext is returned to the caller exactly once at issuance.
type RecoveryToken struct {
	ID          uuid.UUID  `json:"id"`
	TokenHash   string     `json:"-"`
	Fingerprint string     `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty"`
}

// Redeemable reports whether the token can still be redeemed at the given
// time. Consumed or expired tokens can never be redeemed again.
func (t *RecoveryToken) Redeemable(now time.Time) bool {
	return t.ConsumedAt == nil && !now.After(t.ExpiresAt)
}

// IssueRecoveryTokens generates a batch of single-use recovery tokens for
// the user and returns their plaintext values exactly once; only one-way
// hashes are stored. The batch size is clamped to [1, MaxRecoveryTokens],
// and a new batch replaces all previously issued tokens.
func (s *Service) IssueRecoveryTokens(ctx context.Context, userID uuid.UUID, count int) ([]string, error) {
	agg, ok := s.st.aggregateByID(userID)
	if !ok {
		s.recordOrphan(ctx, ActionRecoveryRejected, "", map[string]string{"reason": "unknown_user"})
		return nil, ErrNotFound
	}

	count = min(max(count, 1), s.cfg.MaxRecoveryTokens)

	// Generate everything up front so a random-source failure aborts before
	// any stored state changes.
	plaintexts := make([]string, count)
	for i := range plaintexts {
		secret, err := token.NewSecret()
		if err != nil {
			return nil, errors.Join(ErrInternal, err)
		}
		plaintexts[i] = secret
	}

	agg.mu.Lock()
	defer agg.mu.Unlock()

	if agg.deleted {
		return nil, ErrNotFound
	}

	now := s.now()
	batch := make([]*RecoveryToken, count)
	for i, plaintext := range plaintexts {
		batch[i] = &RecoveryToken{
			ID:          token.NewIdentifier(),
			TokenHash:   token.Hash(plaintext),
			Fingerprint: agg.user.Fingerprint,
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.cfg.RecoveryTokenValidity),
		}
	}
	agg.recovery = batch

	s.recordLocked(ctx, agg, ActionRecoveryIssued, agg.user.Fingerprint, uuid.Nil, map[string]string{
		"count": strconv.Itoa(count),
	})

	return plaintexts, nil
}

// RedeemRecoveryToken redeems a plaintext recovery token, re-binds the
// owning account to the new device and opens a session. Unknown, expired and
// already-consumed tokens are indistinguishable to the caller, as is a
// device that already belongs to another live account: all collapse to
// ErrInvalidToken. The exact cause is still audited internally.
func (s *Service) RedeemRecoveryToken(ctx context.Context, plaintext string, dev fingerprint.Device) (*User, *Session, error) {
	newFP := fingerprint.Generate(dev)

	secret, err := token.NewSecret()
	if err != nil {
		// Abort before consuming the token or touching the fingerprint.
		return nil, nil, errors.Join(ErrInternal, err)
	}

	// The creation lock pins the device slot for the whole redemption:
	// nobody can register or open sessions on newFP between the cap
	// eviction and the insert below.
	fpl := s.st.fingerprintLock(newFP)
	fpl.Lock()
	defer fpl.Unlock()

	// Scan every stored token hash with a constant-time comparison and
	// without breaking out early, so response timing does not reveal where
	// (or whether) the match lives.
	var (
		matchAgg *aggregate
		matchID  uuid.UUID
	)
	for _, agg := range s.st.snapshotAggregates() {
		agg.mu.Lock()
		for _, rt := range agg.recovery {
			if token.MatchHash(rt.TokenHash, plaintext) && matchAgg == nil {
				matchAgg = agg
				matchID = rt.ID
			}
		}
		agg.mu.Unlock()
	}

	if matchAgg == nil {
		s.recordOrphan(ctx, ActionRecoveryRejected, newFP, map[string]string{"reason": "unknown_token"})
		return nil, nil, ErrInvalidToken
	}

	// Re-binding onto a device that is registered to another live account
	// would hijack that account's fingerprint index entry.
	if other, ok := s.st.aggregateByFingerprint(newFP); ok && other != matchAgg {
		other.mu.Lock()
		live := !other.deleted
		other.mu.Unlock()
		if live {
			matchAgg.mu.Lock()
			s.recordLocked(ctx, matchAgg, ActionRecoveryRejected, newFP, uuid.Nil, map[string]string{"reason": "device_registered"})
			matchAgg.mu.Unlock()
			return nil, nil, ErrInvalidToken
		}
	}

	matchAgg.mu.Lock()
	rt, reason := matchAgg.redeemableLocked(matchID, s.now())
	if rt == nil {
		s.rejectRedemptionLocked(ctx, matchAgg, newFP, reason)
		matchAgg.mu.Unlock()
		return nil, nil, ErrInvalidToken
	}
	matchAgg.mu.Unlock()

	// Eviction locks the victim's aggregate, which may not be this one, so
	// it runs with matchAgg unlocked.
	s.evictForCap(ctx, newFP)

	matchAgg.mu.Lock()
	defer matchAgg.mu.Unlock()

	// Re-verify: a concurrent redeem of the same plaintext, a batch
	// replacement or a deletion may have won the race while unlocked.
	rt, reason = matchAgg.redeemableLocked(matchID, s.now())
	if rt == nil {
		s.rejectRedemptionLocked(ctx, matchAgg, newFP, reason)
		return nil, nil, ErrInvalidToken
	}

	now := s.now()
	rt.ConsumedAt = &now

	oldFP := matchAgg.user.Fingerprint
	matchAgg.user.Fingerprint = newFP
	s.st.rebindFingerprint(oldFP, newFP, matchAgg.user.ID)

	sess := s.createSessionLocked(ctx, matchAgg, newFP, secret, true)

	s.recordLocked(ctx, matchAgg, ActionRecoveryRedeemed, newFP, sess.ID, nil)
	s.log.InfoContext(ctx, "recovery token redeemed",
		slog.String("user_id", matchAgg.user.ID.String()))

	return matchAgg.user.clone(), sess.clone(), nil
}

// redeemableLocked checks whether the token identified at scan time can
// still be redeemed and names the cause when it cannot. Caller holds agg.mu.
func (a *aggregate) redeemableLocked(id uuid.UUID, now time.Time) (*RecoveryToken, string) {
	if a.deleted {
		return nil, "deleted_user"
	}
	rt := a.recoveryByID(id)
	switch {
	case rt == nil:
		// Batch replaced between scan and re-lock.
		return nil, "unknown_token"
	case rt.ConsumedAt != nil:
		return nil, "already_consumed"
	case now.After(rt.ExpiresAt):
		return nil, "expired"
	}
	return rt, ""
}

// rejectRedemptionLocked audits a failed redemption. Causes with no live
// trail to write to go into the orphaned trail. Caller holds agg.mu.
func (s *Service) rejectRedemptionLocked(ctx context.Context, agg *aggregate, fp, reason string) {
	switch reason {
	case "deleted_user", "unknown_token":
		s.recordOrphan(ctx, ActionRecoveryRejected, fp, map[string]string{"reason": reason})
	default:
		s.recordLocked(ctx, agg, ActionRecoveryRejected, fp, uuid.Nil, map[string]string{"reason": reason})
	}
}

// recoveryByID finds a recovery token in the current batch. Caller holds
// agg.mu.
func (a *aggregate) recoveryByID(id uuid.UUID) *RecoveryToken {
	for _, rt := range a.recovery {
		if rt.ID == id {
			return rt
		}
	}
	return nil
}
