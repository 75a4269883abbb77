package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// Job is the work a tick triggers, typically a backup round.
type Job func(ctx context.Context)

// Scheduler drives a Job from a Schedule with an overlap-skip policy: a
// tick that arrives while the previous run is still going is dropped and
// logged, never queued.
type Scheduler struct {
	schedule Schedule
	job      Job
	logger   *slog.Logger
	running  atomic.Bool

	// now is swappable for tests.
	now func() time.Time
}

func New(schedule Schedule, job Job, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{
		schedule: schedule,
		job:      job,
		logger:   logger.With("component", "Scheduler"),
		now:      time.Now,
	}
}

// Run blocks, firing the job at each schedule tick until ctx ends.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		now := s.now()
		next := s.schedule.Next(now)
		if next.IsZero() {
			s.logger.Error("Schedule produced no next fire time; scheduler stopping.")
			return
		}
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.fire(ctx)
		}
	}
}

// fire starts the job unless the previous run is still going.
func (s *Scheduler) fire(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("RoundSkipped: previous round still running.")
		return
	}
	go func() {
		defer s.running.Store(false)
		s.job(ctx)
	}()
}

// Running reports whether a job is in flight.
func (s *Scheduler) Running() bool { return s.running.Load() }
