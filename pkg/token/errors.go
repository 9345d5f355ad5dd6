package token

import "errors"

var (
	// ErrGeneration indicates the secure random source failed
	ErrGeneration = errors.New("token.generation_failed")
)
