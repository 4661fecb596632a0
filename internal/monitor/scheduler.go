package monitor

import (
	"context"
	"log/slog"
	"time"
)

// Ticker delivers ticks until stopped
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock creates tickers
type Clock interface {
	NewTicker(d time.Duration) Ticker
}

// Job work run on every tick
type Job interface {
	Tick(ctx context.Context) error
}

type realClock struct{}

type realTicker struct{ t *time.Ticker }

func (realClock) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// Scheduler runs a job immediately and then on every interval.
// Ticks run inline, so they never overlap.
type Scheduler struct {
	job      Job
	interval time.Duration
	clock    Clock
	logger   *slog.Logger
}

// NewScheduler creates a scheduler, clock may be nil for wall time
func NewScheduler(job Job, interval time.Duration, clock Clock, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = realClock{}
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{
		job:      job,
		interval: interval,
		clock:    clock,
		logger:   logger.With("component", "scheduler"),
	}
}

// Run blocks until ctx is done
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	s.tick(ctx)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C():
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := s.job.Tick(ctx); err != nil {
		s.logger.Error("tick failed", "error", err)
	}
}
