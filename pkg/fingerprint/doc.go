// Package fingerprint derives stable, one-way device fingerprints from
// client-reported device characteristics.
//
// A fingerprint is a deterministic BLAKE2b hash over the ordered
// concatenation of user-agent, language, timezone, screen resolution and
// platform. Identical inputs always produce identical output, and the raw
// traits cannot be recovered from the hash, which lets the identity system
// bind sessions to devices without storing anything personally identifying.
//
// Usage:
//
//	dev := fingerprint.Device{
//	    UserAgent: "Mozilla/5.0 ...",
//	    Language:  "en-US",
//	    Timezone:  "Europe/Berlin",
//	    Screen:    "1920x1080",
//	    Platform:  "MacIntel",
//	}
//	fp := fingerprint.Generate(dev)
package fingerprint
