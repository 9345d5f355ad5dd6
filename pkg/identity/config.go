package identity

import "time"

// Config holds the identity system configuration. All values are overridable
// at construction via WithConfig or the environment.
type Config struct {
	// SessionDuration is how long a session stays valid after creation
	SessionDuration time.Duration `env:"IDENTITY_SESSION_DURATION" envDefault:"24h"`

	// MaxSessionsPerDevice caps concurrent active sessions per fingerprint;
	// exceeding it evicts the oldest active session for that fingerprint
	MaxSessionsPerDevice int `env:"IDENTITY_MAX_SESSIONS_PER_DEVICE" envDefault:"3"`

	// RecoveryTokenValidity is how long issued recovery tokens stay redeemable
	RecoveryTokenValidity time.Duration `env:"IDENTITY_RECOVERY_TOKEN_VALIDITY" envDefault:"720h"`

	// MaxRecoveryTokens caps the batch size of a single issuance
	MaxRecoveryTokens int `env:"IDENTITY_MAX_RECOVERY_TOKENS" envDefault:"5"`

	// AuditRetention is how long audit entries are kept (default 90 days)
	AuditRetention time.Duration `env:"IDENTITY_AUDIT_RETENTION" envDefault:"2160h"`

	// InitialTrustScore is the score assigned to freshly created accounts
	InitialTrustScore float64 `env:"IDENTITY_INITIAL_TRUST_SCORE" envDefault:"0.1"`

	// TrustRejectThreshold rejects device authentication when the user's
	// score is strictly below it. The default sits under the recomputed
	// score of a brand-new account so the inactivity-penalty floor cannot
	// lock fresh users out.
	TrustRejectThreshold float64 `env:"IDENTITY_TRUST_REJECT_THRESHOLD" envDefault:"0.05"`

	// TrustChangeThreshold is the minimum absolute score delta that triggers
	// a trust_score_changed notification during recomputation
	TrustChangeThreshold float64 `env:"IDENTITY_TRUST_CHANGE_THRESHOLD" envDefault:"0.1"`

	// EventBufferSize is the per-subscriber buffer of the notification bus
	EventBufferSize int `env:"IDENTITY_EVENT_BUFFER_SIZE" envDefault:"64"`
}

// DefaultConfig returns the default identity configuration.
func DefaultConfig() Config {
	return Config{
		SessionDuration:       24 * time.Hour,
		MaxSessionsPerDevice:  3,
		RecoveryTokenValidity: 30 * 24 * time.Hour,
		MaxRecoveryTokens:     5,
		AuditRetention:        90 * 24 * time.Hour,
		InitialTrustScore:     0.1,
		TrustRejectThreshold:  0.05,
		TrustChangeThreshold:  0.1,
		EventBufferSize:       64,
	}
}
