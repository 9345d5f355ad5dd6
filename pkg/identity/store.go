package identity

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// aggregate groups one user with its sessions, recovery tokens and audit
// trail. Every mutation of the aggregate happens under its own mutex, so
// unrelated users never contend with each other.
type aggregate struct {
	mu       sync.Mutex
	user     *User
	sessions []*Session
	recovery []*RecoveryToken
	trail    []AuditEntry
	deleted  bool
}

type sessionRef struct {
	userID    uuid.UUID
	sessionID uuid.UUID
}

// store is the in-memory state shared by all operations. Its RWMutex guards
// only the maps and secondary indexes; per-user state is guarded by the
// aggregate mutexes.
//
// Lock order: a fingerprint creation lock is acquired before any aggregate
// mutex, and an aggregate mutex may be held while briefly taking store.mu
// for index maintenance. The reverse of either edge (an aggregate mutex
// under store.mu, or a fingerprint lock under an aggregate mutex) is
// forbidden; lookups copy what they need under the store lock, release it,
// and only then lock the aggregate.
type store struct {
	mu            sync.RWMutex
	users         map[uuid.UUID]*aggregate
	byFingerprint map[string]uuid.UUID
	byToken       map[string]sessionRef

	// byFPActive lists the active sessions bound to each fingerprint in
	// creation order, across all users. Maintained transactionally with
	// byToken so the device session cap holds store-wide, not per user.
	byFPActive map[string][]sessionRef

	// fpLocks serializes session creation per fingerprint so the
	// check-evict-insert sequence is atomic per device even when the
	// evicted session belongs to another user's aggregate.
	fpLocks map[string]*sync.Mutex

	// orphaned keeps audit trails of deleted users (re-keyed to a fresh
	// anonymous id) and entries recorded against unknown identities.
	orphaned map[uuid.UUID][]AuditEntry
}

func newStore() *store {
	return &store{
		users:         make(map[uuid.UUID]*aggregate),
		byFingerprint: make(map[string]uuid.UUID),
		byToken:       make(map[string]sessionRef),
		byFPActive:    make(map[string][]sessionRef),
		fpLocks:       make(map[string]*sync.Mutex),
		orphaned:      make(map[uuid.UUID][]AuditEntry),
	}
}

// fingerprintLock returns the mutex serializing session creation on fp.
// Locks are created on demand and live for the store's lifetime.
func (st *store) fingerprintLock(fp string) *sync.Mutex {
	st.mu.Lock()
	defer st.mu.Unlock()
	l, ok := st.fpLocks[fp]
	if !ok {
		l = &sync.Mutex{}
		st.fpLocks[fp] = l
	}
	return l
}

func (st *store) insertUser(agg *aggregate) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.users[agg.user.ID] = agg
	st.byFingerprint[agg.user.Fingerprint] = agg.user.ID
}

func (st *store) aggregateByID(id uuid.UUID) (*aggregate, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	agg, ok := st.users[id]
	return agg, ok
}

func (st *store) aggregateByFingerprint(fp string) (*aggregate, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	id, ok := st.byFingerprint[fp]
	if !ok {
		return nil, false
	}
	agg, ok := st.users[id]
	return agg, ok
}

func (st *store) sessionRefByToken(token string) (sessionRef, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	ref, ok := st.byToken[token]
	return ref, ok
}

// indexSession registers a new active session in the token and fingerprint
// indexes. Called with the owning aggregate's mutex held.
func (st *store) indexSession(token, fp string, ref sessionRef) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.byToken[token] = ref
	st.byFPActive[fp] = append(st.byFPActive[fp], ref)
}

// dropSession removes an ended session from both indexes. Called with the
// owning aggregate's mutex held.
func (st *store) dropSession(token, fp string, sessionID uuid.UUID) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.byToken, token)
	st.removeFPRefLocked(fp, sessionID)
}

// dropTokenIndex removes a stale token mapping whose session is already
// gone. Called with the owning aggregate's mutex held.
func (st *store) dropTokenIndex(token string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.byToken, token)
}

func (st *store) removeFPRefLocked(fp string, sessionID uuid.UUID) {
	refs := st.byFPActive[fp]
	for i, ref := range refs {
		if ref.sessionID == sessionID {
			refs = append(refs[:i], refs[i+1:]...)
			break
		}
	}
	if len(refs) == 0 {
		delete(st.byFPActive, fp)
		return
	}
	st.byFPActive[fp] = refs
}

// activeOnFingerprint copies the refs of the active sessions bound to fp,
// oldest first.
func (st *store) activeOnFingerprint(fp string) []sessionRef {
	st.mu.RLock()
	defer st.mu.RUnlock()
	refs := make([]sessionRef, len(st.byFPActive[fp]))
	copy(refs, st.byFPActive[fp])
	return refs
}

// rebindFingerprint points the fingerprint index at the user's new device.
// Called with the owning aggregate's mutex held.
func (st *store) rebindFingerprint(oldFP, newFP string, userID uuid.UUID) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if id, ok := st.byFingerprint[oldFP]; ok && id == userID {
		delete(st.byFingerprint, oldFP)
	}
	st.byFingerprint[newFP] = userID
}

// removeUser unlinks the aggregate and every index entry of its sessions.
// Called with the owning aggregate's mutex held and agg.deleted already set.
func (st *store) removeUser(agg *aggregate) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.users, agg.user.ID)
	if id, ok := st.byFingerprint[agg.user.Fingerprint]; ok && id == agg.user.ID {
		delete(st.byFingerprint, agg.user.Fingerprint)
	}
	for _, sess := range agg.sessions {
		delete(st.byToken, sess.Token)
		st.removeFPRefLocked(sess.Fingerprint, sess.ID)
	}
}

// appendOrphaned stores audit entries that have no (or no longer have a)
// live user aggregate.
func (st *store) appendOrphaned(id uuid.UUID, entries ...AuditEntry) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.orphaned[id] = append(st.orphaned[id], entries...)
}

// purgeOrphaned drops orphaned entries older than the cutoff and returns the
// number removed.
func (st *store) purgeOrphaned(cutoff time.Time) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	var removed int
	for id, trail := range st.orphaned {
		kept := trail[:0]
		for _, e := range trail {
			if e.CreatedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(st.orphaned, id)
			continue
		}
		st.orphaned[id] = kept
	}
	return removed
}

// snapshotAggregates returns the current aggregate pointers so sweeps can
// lock them one at a time instead of freezing the whole store.
func (st *store) snapshotAggregates() []*aggregate {
	st.mu.RLock()
	defer st.mu.RUnlock()
	aggs := make([]*aggregate, 0, len(st.users))
	for _, agg := range st.users {
		aggs = append(aggs, agg)
	}
	return aggs
}

// orphanedStats reports entry count and oldest timestamp across orphaned
// trails.
func (st *store) orphanedStats() (count int, oldest time.Time) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	for _, trail := range st.orphaned {
		count += len(trail)
		for _, e := range trail {
			if oldest.IsZero() || e.CreatedAt.Before(oldest) {
				oldest = e.CreatedAt
			}
		}
	}
	return count, oldest
}
