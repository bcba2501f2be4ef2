package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/tile-weather-enrichment/internal/pipeline"
)

// Runner is satisfied by *pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context) pipeline.Summary
}

// Scheduler periodically re-runs the enrichment pipeline.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	interval  time.Duration
	timeout   time.Duration
}

// New creates a new Scheduler. Each run is bounded by timeout when it is positive.
func New(interval, timeout time.Duration, runner Runner) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		runner:    runner,
		interval:  interval,
		timeout:   timeout,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
// A non-positive interval schedules nothing.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		log.Println("scheduler: no interval configured; nothing to schedule")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).Do(func() {
		log.Println("scheduler: running enrichment job")

		ctx := context.Background()
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}

		sum := s.runner.Run(ctx)
		log.Printf("scheduler: completed enrichment job %s (%d ok, %d skipped, %d failed)",
			sum.RunID, sum.Succeeded, sum.Skipped, sum.Failed)
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
