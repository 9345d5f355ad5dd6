package identity

import "errors"

var (
	// ErrNotFound indicates an unknown identifier, fingerprint, session or token
	ErrNotFound = errors.New("identity.not_found")

	// ErrExpired indicates a session or token past its deadline
	ErrExpired = errors.New("identity.expired")

	// ErrTrustRejected indicates the user's trust score is below the threshold
	ErrTrustRejected = errors.New("identity.trust_rejected")

	// ErrDeviceRegistered indicates an account creation attempt from a device
	// whose fingerprint already belongs to a live user; the caller should
	// authenticate with the device instead
	ErrDeviceRegistered = errors.New("identity.device_registered")

	// ErrInvalidToken is the single externally visible failure of recovery
	// redemption; it deliberately hides whether the token was unknown,
	// expired or already consumed
	ErrInvalidToken = errors.New("identity.invalid_token")

	// ErrInternal indicates a hashing or random-generation failure; the
	// mutation is aborted before any partial write
	ErrInternal = errors.New("identity.internal")
)
