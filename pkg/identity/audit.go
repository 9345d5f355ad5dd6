package identity

import (
	"context"
	"maps"
	"time"

	"github.com/google/uuid"
)

// Action is the kind of a security-relevant event in the audit trail.
type Action string

const (
	ActionAccountCreated     Action = "account_created"
	ActionAccountRejected    Action = "account_rejected"
	ActionSessionCreated     Action = "session_created"
	ActionSessionEvicted     Action = "session_evicted"
	ActionSessionExpired     Action = "session_expired"
	ActionLogout             Action = "logout"
	ActionAuthSucceeded      Action = "auth_succeeded"
	ActionAuthFailed         Action = "auth_failed"
	ActionTrustRejected      Action = "trust_rejected"
	ActionRecoveryIssued     Action = "recovery_issued"
	ActionRecoveryRedeemed   Action = "recovery_redeemed"
	ActionRecoveryRejected   Action = "recovery_rejected"
	ActionPreferencesUpdated Action = "preferences_updated"
	ActionUserExported       Action = "user_exported"
	ActionUserDeleted        Action = "user_deleted"
)

// AuditEntry is an immutable record of a security-relevant action. The
// originating network address is stored only as a one-way hash. Entries are
// purged once older than the configured retention window; on account
// deletion they survive under a freshly generated anonymous identifier.
type AuditEntry struct {
	ID          uuid.UUID         `json:"id"`
	UserID      uuid.UUID         `json:"user_id"`
	Action      Action            `json:"action"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	AddressHash string            `json:"address_hash,omitempty"`
	SessionID   uuid.UUID         `json:"session_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

func (e AuditEntry) clone() AuditEntry {
	c := e
	if e.Metadata != nil {
		c.Metadata = make(map[string]string, len(e.Metadata))
		maps.Copy(c.Metadata, e.Metadata)
	}
	return c
}

type remoteAddrKey struct{}

// WithRemoteAddr attaches the caller's network address to the context so
// audit entries can record its one-way hash. The raw address is never stored.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey{}, addr)
}

func remoteAddrFromContext(ctx context.Context) (string, bool) {
	addr, ok := ctx.Value(remoteAddrKey{}).(string)
	return addr, ok && addr != ""
}
