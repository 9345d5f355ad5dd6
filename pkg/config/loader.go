package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	// ErrNilPointer indicates a nil target was passed to Load
	ErrNilPointer = errors.New("config.nil_pointer")

	// ErrParse indicates environment parsing failed
	ErrParse = errors.New("config.parse_failed")
)

var dotenvOnce sync.Once

// Load parses environment variables into cfg based on `env` struct tags.
// The first call loads a .env file if one exists; a missing file is fine.
func Load[T any](cfg *T) error {
	if cfg == nil {
		return ErrNilPointer
	}

	dotenvOnce.Do(func() {
		_ = godotenv.Load()
	})

	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrParse, err)
	}
	return nil
}
