package maintenance

import "context"

// Job names for the identity sweeps.
const (
	JobSessionSweep   = "session_sweep"
	JobAuditPurge     = "audit_purge"
	JobTrustRecompute = "trust_recompute"
)

// Sweeper is the part of the identity service the scheduler drives.
type Sweeper interface {
	SweepExpiredSessions(ctx context.Context) (int, error)
	PurgeAuditTrail(ctx context.Context) (int, error)
	RecomputeTrustScores(ctx context.Context) (int, error)
}

// RegisterSweeps wires the three identity sweeps into the scheduler at the
// configured intervals.
func RegisterSweeps(s *Scheduler, sw Sweeper, cfg Config) error {
	if err := s.Register(JobSessionSweep, cfg.SessionSweepInterval, sw.SweepExpiredSessions); err != nil {
		return err
	}
	if err := s.Register(JobAuditPurge, cfg.AuditPurgeInterval, sw.PurgeAuditTrail); err != nil {
		return err
	}
	return s.Register(JobTrustRecompute, cfg.TrustRecomputeInterval, sw.RecomputeTrustScores)
}
