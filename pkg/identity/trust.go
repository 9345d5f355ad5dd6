package identity

import (
	"math"
	"time"

	"github.com/quietmind/anonid/pkg/fingerprint"
)

// Trust score weights. The three positive contributions sum to 1.0 so a
// long-lived, frequently used, single-device account approaches the top of
// the [0,1] range before the inactivity penalty applies.
const (
	trustAgeWeight     = 0.3
	trustAgeCapDays    = 30.0
	trustUsageWeight   = 0.3
	trustUsageCapCount = 50.0

	trustConsistencyWeight = 0.4

	trustPenaltyWeight     = 0.2
	trustInactivityWindow  = 30.0
	trustPenaltyRatioFloor = 0.3
)

// computeTrustScore estimates account legitimacy from account age, usage
// frequency, device consistency and recency. The result is always clamped to
// [0,1] regardless of the constituent terms. Must be called with the
// owning aggregate's lock held.
func computeTrustScore(u *User, trail []AuditEntry, now time.Time) float64 {
	ageDays := now.Sub(u.CreatedAt).Hours() / 24
	ageScore := math.Min(ageDays/trustAgeCapDays, 1) * trustAgeWeight

	var starts, withFingerprint, matching float64
	for i := range trail {
		switch trail[i].Action {
		case ActionSessionCreated, ActionAccountCreated:
			starts++
		}
		if trail[i].Fingerprint != "" {
			withFingerprint++
			if fingerprint.Match(trail[i].Fingerprint, u.Fingerprint) {
				matching++
			}
		}
	}
	usageScore := math.Min(starts/trustUsageCapCount, 1) * trustUsageWeight

	// A user with no fingerprinted history gets full consistency credit:
	// there is no evidence of device churn.
	consistency := 1.0
	if withFingerprint > 0 {
		consistency = matching / withFingerprint
	}
	consistencyScore := consistency * trustConsistencyWeight

	inactivityRatio := math.Max(now.Sub(u.LastActiveAt).Hours()/24/trustInactivityWindow, 0)
	// TODO: the floor keeps the penalty ratio at >= 0.3 even for accounts
	// active minutes ago, which depresses scores for brand-new highly active
	// users. Switching the floor to a cap needs product sign-off because it
	// shifts every stored score.
	penalty := math.Max(inactivityRatio, trustPenaltyRatioFloor) * trustPenaltyWeight

	return clamp(ageScore+usageScore+consistencyScore-penalty, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
