package reputation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Recomputer is the work the scheduler runs.
type Recomputer interface {
	RecomputeAllRankings(ctx context.Context) ([]RankEntry, error)
}

// Scheduler recomputes population rankings on a cron schedule.
type Scheduler struct {
	target   Recomputer
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
	mu       sync.Mutex
	running  bool
}

// NewScheduler validates schedule and creates a stopped scheduler. Both
// standard five-field expressions and descriptors such as "@every 1h" are
// accepted.
func NewScheduler(target Recomputer, schedule string, logger *slog.Logger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid ranking schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		target:   target,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.With("component", "ranking.scheduler"),
	}, nil
}

// Start runs one recompute immediately, then on every tick until ctx is done
// or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("schedule ranking recompute: %w", err)
	}

	go s.run(ctx)
	s.cron.Start()
	s.running = true
	s.logger.Info("ranking scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	entries, err := s.target.RecomputeAllRankings(ctx)
	if err != nil {
		s.logger.Error("scheduled ranking recompute failed", "error", err)
		return
	}
	s.logger.Debug("scheduled ranking recompute completed", "experts", len(entries))
}

// Stop halts the schedule and waits for a running recompute to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	done := s.cron.Stop()
	<-done.Done()
	s.running = false
	s.logger.Info("ranking scheduler stopped")
}

// Running reports whether the schedule is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled recompute, or nil when stopped.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if !s.running || len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
