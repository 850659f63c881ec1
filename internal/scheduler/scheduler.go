// Package scheduler runs a task on a fixed interval.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Task is one scheduled unit of work.
type Task func(ctx context.Context) error

// Scheduler runs a Task immediately and then once per interval until its
// context is cancelled. Runs never overlap: a slow run delays the next tick.
type Scheduler struct {
	name     string
	interval time.Duration
	task     Task
	logger   *slog.Logger
}

// New creates a Scheduler.
func New(name string, interval time.Duration, task Task, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		name:     name,
		interval: interval,
		task:     task,
		logger:   logger.With(slog.String("task", name)),
	}
}

// Run blocks until ctx is done. A non-positive interval disables the
// scheduler and Run returns immediately.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("scheduler disabled")
		return
	}

	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if err := s.task(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduled task failed", slog.String("error", err.Error()))
	}
}
