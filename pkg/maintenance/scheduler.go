package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrJobRegistered indicates a job with the same name already exists
	ErrJobRegistered = errors.New("maintenance.job_already_registered")

	// ErrJobNotFound indicates an unknown job name
	ErrJobNotFound = errors.New("maintenance.job_not_found")

	// ErrAlreadyRunning indicates Start was called twice without Stop
	ErrAlreadyRunning = errors.New("maintenance.already_running")

	// ErrInvalidInterval indicates a non-positive sweep interval
	ErrInvalidInterval = errors.New("maintenance.invalid_interval")
)

// JobFunc performs one sweep. It returns the number of items it affected so
// the scheduler can log sweep outcomes uniformly. Jobs must be idempotent.
type JobFunc func(ctx context.Context) (int, error)

// Config holds the sweep intervals.
type Config struct {
	SessionSweepInterval   time.Duration `env:"MAINTENANCE_SESSION_SWEEP_INTERVAL" envDefault:"1h"`
	AuditPurgeInterval     time.Duration `env:"MAINTENANCE_AUDIT_PURGE_INTERVAL" envDefault:"24h"`
	TrustRecomputeInterval time.Duration `env:"MAINTENANCE_TRUST_RECOMPUTE_INTERVAL" envDefault:"6h"`
}

// DefaultConfig returns the default sweep intervals.
func DefaultConfig() Config {
	return Config{
		SessionSweepInterval:   time.Hour,
		AuditPurgeInterval:     24 * time.Hour,
		TrustRecomputeInterval: 6 * time.Hour,
	}
}

type job struct {
	name     string
	interval time.Duration
	run      JobFunc
}

// Scheduler runs registered jobs at fixed intervals on dedicated goroutines.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*job
	order   []string
	log     *slog.Logger
	cancel  context.CancelFunc
	group   *errgroup.Group
	running bool
}

// NewScheduler creates an empty scheduler. A nil logger falls back to
// slog.Default.
func NewScheduler(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		jobs: make(map[string]*job),
		log:  log,
	}
}

// Register adds a named periodic job. Jobs cannot be registered while the
// scheduler is running.
func (s *Scheduler) Register(name string, interval time.Duration, fn JobFunc) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobRegistered, name)
	}

	s.jobs[name] = &job{name: name, interval: interval, run: fn}
	s.order = append(s.order, name)
	return nil
}

// Start launches one worker loop per registered job. The loops run until
// Stop is called or ctx is cancelled; an in-flight sweep is allowed to
// finish.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.group, runCtx = errgroup.WithContext(runCtx)
	s.running = true

	for _, j := range s.jobs {
		s.group.Go(func() error {
			s.loop(runCtx, j)
			return nil
		})
	}

	s.log.InfoContext(ctx, "maintenance scheduler started", slog.Int("jobs", len(s.jobs)))
	return nil
}

// Stop cancels scheduling and waits for in-flight sweeps to finish.
// Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, group := s.cancel, s.group
	s.mu.Unlock()

	cancel()
	_ = group.Wait()
	s.log.Info("maintenance scheduler stopped")
}

// RunJob triggers one sweep of the named job synchronously.
func (s *Scheduler) RunJob(ctx context.Context, name string) (int, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()

	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return j.run(ctx)
}

// RunAll triggers one sweep of every job synchronously, in registration
// order. The first failure stops the run.
func (s *Scheduler) RunAll(ctx context.Context) error {
	s.mu.Lock()
	names := make([]string, len(s.order))
	copy(names, s.order)
	s.mu.Unlock()

	for _, name := range names {
		if _, err := s.RunJob(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := j.run(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				s.log.ErrorContext(ctx, "maintenance sweep failed",
					slog.String("job", j.name), slog.Any("error", err))
				continue
			}
			s.log.DebugContext(ctx, "maintenance sweep completed",
				slog.String("job", j.name), slog.Int("affected", count))
		}
	}
}
