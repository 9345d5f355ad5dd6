package identity

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/quietmind/anonid/pkg/broadcast"
	"github.com/quietmind/anonid/pkg/fingerprint"
	"github.com/quietmind/anonid/pkg/token"
)

// Service is the anonymous identity and session system. It owns its store;
// there is no ambient global state, and independent instances do not share
// anything.
type Service struct {
	cfg     Config
	log     *slog.Logger
	events  *broadcast.Bus[Event]
	ownsBus bool
	st      *store
	now     func() time.Time
}

// New creates a Service with the given options. Without WithEventBus the
// Service owns an internal bus that Close shuts down.
func New(opts ...Option) *Service {
	s := &Service{
		cfg:     DefaultConfig(),
		log:     slog.Default(),
		st:      newStore(),
		now:     time.Now,
		ownsBus: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.events == nil {
		s.events = broadcast.NewBus[Event](s.cfg.EventBufferSize)
	}
	return s
}

// Subscribe registers a best-effort listener for lifecycle notifications.
func (s *Service) Subscribe(ctx context.Context) *broadcast.Subscription[Event] {
	return s.events.Subscribe(ctx)
}

// Close releases the internally owned notification bus. The store needs no
// teardown; it is pure in-process memory.
func (s *Service) Close() {
	if s.ownsBus {
		s.events.Close()
	}
}

// CreateAccount allocates a new anonymous user bound to the device's
// fingerprint and immediately opens its first session. The trust score
// starts at the configured initial value.
func (s *Service) CreateAccount(ctx context.Context, dev fingerprint.Device, prefs Preferences) (*User, *Session, error) {
	secret, err := token.NewSecret()
	if err != nil {
		return nil, nil, errors.Join(ErrInternal, err)
	}

	fp := fingerprint.Generate(dev)

	fpl := s.st.fingerprintLock(fp)
	fpl.Lock()
	defer fpl.Unlock()

	if existing, ok := s.st.aggregateByFingerprint(fp); ok {
		existing.mu.Lock()
		if !existing.deleted {
			s.recordLocked(ctx, existing, ActionAccountRejected, fp, uuid.Nil, map[string]string{"reason": "fingerprint_registered"})
			s.events.Publish(ctx, Event{Kind: EventSuspiciousActivity, UserID: existing.user.ID, Fingerprint: fp, At: s.now()})
			s.log.WarnContext(ctx, "account creation rejected, device already registered",
				slog.String("user_id", existing.user.ID.String()))
			existing.mu.Unlock()
			return nil, nil, ErrDeviceRegistered
		}
		existing.mu.Unlock()
	}

	s.evictForCap(ctx, fp)

	now := s.now()
	user := &User{
		ID:           token.NewIdentifier(),
		Fingerprint:  fp,
		TrustScore:   s.cfg.InitialTrustScore,
		Preferences:  clonePreferences(prefs),
		CreatedAt:    now,
		LastActiveAt: now,
	}
	agg := &aggregate{user: user}

	agg.mu.Lock()
	defer agg.mu.Unlock()

	sess := s.newSession(user.ID, fp, secret, now)
	agg.sessions = append(agg.sessions, sess)

	s.st.insertUser(agg)
	s.st.indexSession(secret, fp, sessionRef{userID: user.ID, sessionID: sess.ID})

	s.recordLocked(ctx, agg, ActionAccountCreated, fp, sess.ID, nil)
	s.recordLocked(ctx, agg, ActionSessionCreated, fp, sess.ID, nil)

	s.events.Publish(ctx, Event{Kind: EventAccountCreated, UserID: user.ID, SessionID: sess.ID, Fingerprint: fp, At: now})
	s.log.InfoContext(ctx, "account created", slog.String("user_id", user.ID.String()))

	return user.clone(), sess.clone(), nil
}

// AuthenticateWithDevice resolves a user by device fingerprint and opens a
// new session. Unknown fingerprints and trust-rejected users both raise a
// suspicious_activity notification; no session is created in either case.
func (s *Service) AuthenticateWithDevice(ctx context.Context, dev fingerprint.Device) (*User, *Session, error) {
	secret, err := token.NewSecret()
	if err != nil {
		return nil, nil, errors.Join(ErrInternal, err)
	}

	fp := fingerprint.Generate(dev)

	fpl := s.st.fingerprintLock(fp)
	fpl.Lock()
	defer fpl.Unlock()

	agg, ok := s.st.aggregateByFingerprint(fp)
	if !ok {
		s.recordOrphan(ctx, ActionAuthFailed, fp, map[string]string{"reason": "unknown_fingerprint"})
		s.events.Publish(ctx, Event{Kind: EventSuspiciousActivity, Fingerprint: fp, At: s.now()})
		return nil, nil, ErrNotFound
	}

	agg.mu.Lock()
	if agg.deleted {
		agg.mu.Unlock()
		s.recordOrphan(ctx, ActionAuthFailed, fp, map[string]string{"reason": "deleted_user"})
		s.events.Publish(ctx, Event{Kind: EventSuspiciousActivity, Fingerprint: fp, At: s.now()})
		return nil, nil, ErrNotFound
	}
	if agg.user.TrustScore < s.cfg.TrustRejectThreshold {
		s.recordLocked(ctx, agg, ActionTrustRejected, fp, uuid.Nil, map[string]string{
			"score": strconv.FormatFloat(agg.user.TrustScore, 'f', 3, 64),
		})
		s.events.Publish(ctx, Event{Kind: EventSuspiciousActivity, UserID: agg.user.ID, Fingerprint: fp, At: s.now()})
		s.log.WarnContext(ctx, "authentication trust-rejected",
			slog.String("user_id", agg.user.ID.String()),
			slog.Float64("score", agg.user.TrustScore))
		agg.mu.Unlock()
		return nil, nil, ErrTrustRejected
	}
	agg.mu.Unlock()

	// Eviction locks the victim's aggregate, which may not be this one, so
	// it runs between the two critical sections.
	s.evictForCap(ctx, fp)

	agg.mu.Lock()
	defer agg.mu.Unlock()

	if agg.deleted {
		return nil, nil, ErrNotFound
	}

	sess := s.createSessionLocked(ctx, agg, fp, secret, true)
	s.recordLocked(ctx, agg, ActionAuthSucceeded, fp, sess.ID, nil)

	return agg.user.clone(), sess.clone(), nil
}

// CreateSession opens a session for an existing user on the given
// fingerprint, enforcing the per-device cap and recomputing trust.
func (s *Service) CreateSession(ctx context.Context, userID uuid.UUID, fp string) (*Session, error) {
	secret, err := token.NewSecret()
	if err != nil {
		return nil, errors.Join(ErrInternal, err)
	}

	fpl := s.st.fingerprintLock(fp)
	fpl.Lock()
	defer fpl.Unlock()

	agg, ok := s.st.aggregateByID(userID)
	if !ok {
		s.recordOrphan(ctx, ActionAuthFailed, fp, map[string]string{"reason": "unknown_user"})
		return nil, ErrNotFound
	}

	agg.mu.Lock()
	if agg.deleted {
		agg.mu.Unlock()
		return nil, ErrNotFound
	}
	agg.mu.Unlock()

	s.evictForCap(ctx, fp)

	agg.mu.Lock()
	defer agg.mu.Unlock()

	if agg.deleted {
		return nil, ErrNotFound
	}

	return s.createSessionLocked(ctx, agg, fp, secret, true).clone(), nil
}

// ValidateSession resolves an active session by token, lazily ending expired
// ones, and refreshes last-active timestamps on success.
func (s *Service) ValidateSession(ctx context.Context, sessionToken string) (*User, *Session, error) {
	ref, ok := s.st.sessionRefByToken(sessionToken)
	if !ok {
		s.recordOrphan(ctx, ActionAuthFailed, "", map[string]string{"reason": "unknown_session"})
		return nil, nil, ErrNotFound
	}

	agg, ok := s.st.aggregateByID(ref.userID)
	if !ok {
		s.recordOrphan(ctx, ActionAuthFailed, "", map[string]string{"reason": "unknown_user"})
		return nil, nil, ErrNotFound
	}

	agg.mu.Lock()
	defer agg.mu.Unlock()

	sess := agg.sessionByID(ref.sessionID)
	if agg.deleted || sess == nil || !sess.Active {
		s.st.dropTokenIndex(sessionToken)
		return nil, nil, ErrNotFound
	}

	now := s.now()
	if sess.IsExpired(now) {
		sess.end(EndReasonExpired)
		s.st.dropSession(sess.Token, sess.Fingerprint, sess.ID)
		s.recordLocked(ctx, agg, ActionSessionExpired, sess.Fingerprint, sess.ID, nil)
		s.events.Publish(ctx, Event{Kind: EventSessionExpired, UserID: agg.user.ID, SessionID: sess.ID, Fingerprint: sess.Fingerprint, At: now})
		return nil, nil, ErrExpired
	}

	sess.LastActiveAt = now
	agg.user.LastActiveAt = now

	return agg.user.clone(), sess.clone(), nil
}

// Logout explicitly ends the session identified by token.
func (s *Service) Logout(ctx context.Context, sessionToken string) error {
	ref, ok := s.st.sessionRefByToken(sessionToken)
	if !ok {
		s.recordOrphan(ctx, ActionLogout, "", map[string]string{"reason": "unknown_session"})
		return ErrNotFound
	}

	agg, ok := s.st.aggregateByID(ref.userID)
	if !ok {
		return ErrNotFound
	}

	agg.mu.Lock()
	defer agg.mu.Unlock()

	sess := agg.sessionByID(ref.sessionID)
	if agg.deleted || sess == nil || !sess.Active {
		s.st.dropTokenIndex(sessionToken)
		return ErrNotFound
	}

	sess.end(EndReasonLoggedOut)
	s.st.dropSession(sess.Token, sess.Fingerprint, sess.ID)
	s.recordLocked(ctx, agg, ActionLogout, sess.Fingerprint, sess.ID, nil)

	return nil
}

// UpdatePreferences replaces the user's anonymous preference bag.
func (s *Service) UpdatePreferences(ctx context.Context, userID uuid.UUID, prefs Preferences) error {
	agg, ok := s.st.aggregateByID(userID)
	if !ok {
		return ErrNotFound
	}

	agg.mu.Lock()
	defer agg.mu.Unlock()

	if agg.deleted {
		return ErrNotFound
	}

	agg.user.Preferences = clonePreferences(prefs)
	agg.user.LastActiveAt = s.now()
	s.recordLocked(ctx, agg, ActionPreferencesUpdated, agg.user.Fingerprint, uuid.Nil, nil)

	return nil
}

// newSession builds a session; it does not register it anywhere.
func (s *Service) newSession(userID uuid.UUID, fp, secret string, now time.Time) *Session {
	return &Session{
		ID:           token.NewIdentifier(),
		UserID:       userID,
		Token:        secret,
		Fingerprint:  fp,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.cfg.SessionDuration),
		LastActiveAt: now,
		Active:       true,
	}
}

// evictForCap ends the oldest active session on fp when the device cap is
// reached, regardless of which user owns it. The caller holds the
// fingerprint creation lock and no aggregate mutex; the victim's aggregate
// is locked here.
func (s *Service) evictForCap(ctx context.Context, fp string) {
	refs := s.st.activeOnFingerprint(fp)
	if len(refs) < s.cfg.MaxSessionsPerDevice {
		return
	}
	victim := refs[0]

	agg, ok := s.st.aggregateByID(victim.userID)
	if !ok {
		return
	}

	agg.mu.Lock()
	defer agg.mu.Unlock()

	sess := agg.sessionByID(victim.sessionID)
	if sess == nil || !sess.Active {
		// Ended concurrently; the slot is already free.
		return
	}

	sess.end(EndReasonEvicted)
	s.st.dropSession(sess.Token, fp, sess.ID)
	s.recordLocked(ctx, agg, ActionSessionEvicted, fp, sess.ID, map[string]string{"reason": "device_session_cap"})
	s.events.Publish(ctx, Event{Kind: EventSessionEvicted, UserID: agg.user.ID, SessionID: sess.ID, Fingerprint: fp, At: s.now()})
}

// createSessionLocked inserts a new session for the aggregate. The caller
// holds the fingerprint creation lock and agg.mu, has already evicted for
// the device cap, and has generated the session secret, so no failure can
// interrupt the mutation once it starts.
func (s *Service) createSessionLocked(ctx context.Context, agg *aggregate, fp, secret string, recompute bool) *Session {
	now := s.now()

	sess := s.newSession(agg.user.ID, fp, secret, now)
	agg.sessions = append(agg.sessions, sess)
	agg.user.LastActiveAt = now

	s.st.indexSession(secret, fp, sessionRef{userID: agg.user.ID, sessionID: sess.ID})
	s.recordLocked(ctx, agg, ActionSessionCreated, fp, sess.ID, nil)

	if recompute {
		agg.user.TrustScore = computeTrustScore(agg.user, agg.trail, now)
	}

	return sess
}

// recordLocked appends an audit entry to the aggregate's trail and
// immediately prunes entries older than the retention window. The caller
// holds agg.mu.
func (s *Service) recordLocked(ctx context.Context, agg *aggregate, action Action, fp string, sessionID uuid.UUID, meta map[string]string) {
	now := s.now()
	agg.trail = append(agg.trail, AuditEntry{
		ID:          token.NewIdentifier(),
		UserID:      agg.user.ID,
		Action:      action,
		Fingerprint: fp,
		AddressHash: addressHash(ctx),
		SessionID:   sessionID,
		Metadata:    meta,
		CreatedAt:   now,
	})
	agg.pruneTrail(now.Add(-s.cfg.AuditRetention))
}

// recordOrphan audits an action that has no live user aggregate, under a
// freshly generated placeholder identity.
func (s *Service) recordOrphan(ctx context.Context, action Action, fp string, meta map[string]string) {
	now := s.now()
	placeholder := token.NewIdentifier()
	s.st.appendOrphaned(placeholder, AuditEntry{
		ID:          token.NewIdentifier(),
		UserID:      placeholder,
		Action:      action,
		Fingerprint: fp,
		AddressHash: addressHash(ctx),
		Metadata:    meta,
		CreatedAt:   now,
	})
}

func addressHash(ctx context.Context) string {
	addr, ok := remoteAddrFromContext(ctx)
	if !ok {
		return ""
	}
	return token.Hash(addr)
}

func clonePreferences(prefs Preferences) Preferences {
	c := make(Preferences, len(prefs))
	maps.Copy(c, prefs)
	return c
}

// sessionByID finds a session in the aggregate. Caller holds agg.mu.
func (a *aggregate) sessionByID(id uuid.UUID) *Session {
	for _, sess := range a.sessions {
		if sess.ID == id {
			return sess
		}
	}
	return nil
}

// pruneTrail drops audit entries older than the cutoff. Caller holds agg.mu.
func (a *aggregate) pruneTrail(cutoff time.Time) int {
	kept := a.trail[:0]
	var removed int
	for _, e := range a.trail {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	a.trail = kept
	return removed
}
