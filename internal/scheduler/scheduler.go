// Package scheduler runs the periodic maintenance jobs: database upkeep
// and the voice idle sweep.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Job is one named periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler wraps gocron with logging around each job run.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	jobs      []Job
	mu        sync.Mutex
	running   bool
}

// New creates a scheduler for the given jobs.
func New(logger *slog.Logger, jobs []Job) (*Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{
		scheduler: s,
		logger:    logger.With("component", "scheduler"),
		jobs:      jobs,
	}, nil
}

// Start registers all jobs and starts the scheduler.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	for _, job := range s.jobs {
		_, err := s.scheduler.NewJob(
			gocron.DurationJob(job.Interval),
			gocron.NewTask(func(ctx context.Context, j Job) {
				start := time.Now()
				if err := j.Run(ctx); err != nil {
					s.logger.Error("scheduled job failed", "job", j.Name, "error", err)
					return
				}
				s.logger.Debug("scheduled job finished", "job", j.Name, "duration", time.Since(start))
			}, context.Background(), job),
			gocron.WithName(job.Name),
		)
		if err != nil {
			return fmt.Errorf("failed to schedule job %q: %w", job.Name, err)
		}
		s.logger.Info("job scheduled", "job", job.Name, "interval", job.Interval)
	}

	s.scheduler.Start()
	s.running = true
	return nil
}

// Stop shuts the scheduler down, waiting for running jobs.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down scheduler: %w", err)
	}
	return nil
}
