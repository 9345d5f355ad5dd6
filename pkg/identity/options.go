package identity

import (
	"log/slog"
	"time"

	"github.com/quietmind/anonid/pkg/broadcast"
)

// Option configures the Service.
type Option func(*Service)

// WithConfig overrides the default configuration.
func WithConfig(cfg Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

// WithLogger sets the structured logger; nil loggers are ignored.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithEventBus supplies an externally owned notification bus. The Service
// will not close it on Close.
func WithEventBus(bus *broadcast.Bus[Event]) Option {
	return func(s *Service) {
		if bus != nil {
			s.events = bus
			s.ownsBus = false
		}
	}
}

// WithClock replaces the time source, letting tests move time explicitly.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}
