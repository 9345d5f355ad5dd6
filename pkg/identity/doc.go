// Package identity implements the anonymous identity and session system: it
// issues opaque user identities without collecting personal data, binds
// sessions to device fingerprints, computes a bounded behavioral trust score,
// manages single-use recovery tokens, and keeps a retained, purgeable audit
// trail for compliance reporting.
//
// The Service owns an in-memory store. Every user's aggregate (the user plus
// its sessions, recovery tokens and audit trail) is guarded by its own mutex,
// so mutations on one user never block traffic for another. Secondary indexes
// (session token -> session, fingerprint -> user, fingerprint -> active
// sessions) live under a separate store lock that is only ever acquired
// briefly while an aggregate lock is held. Session creation additionally
// takes a per-fingerprint creation lock before any aggregate mutex, making
// the device-cap check, eviction and insert atomic per device even when the
// evicted session belongs to a different user. No goroutine ever holds two
// aggregate mutexes at once.
//
// Lifecycle notifications (account created, session evicted/expired, trust
// score changed, user deleted, suspicious activity) are published best-effort
// through a broadcast.Bus that callers can subscribe to.
//
//	svc := identity.New(identity.WithLogger(log))
//	user, sess, err := svc.CreateAccount(ctx, device, nil)
package identity
