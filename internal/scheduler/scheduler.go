// Package scheduler runs the pipeline periodically on a cron spec.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSpec runs the pipeline hourly.
const DefaultSpec = "@every 1h"

// Scheduler wraps robfig/cron around a single job.
type Scheduler struct {
	spec   string
	job    func(ctx context.Context)
	logger *slog.Logger
}

// New validates spec (standard five-field cron or a descriptor such as
// "@every 30m") and returns a scheduler for job.
func New(spec string, job func(ctx context.Context), logger *slog.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return &Scheduler{spec: spec, job: job, logger: logger}, nil
}

// Run executes the job once immediately, then on every tick until ctx is
// cancelled. Ticks that arrive while the previous run is still going are
// skipped. Run returns after the in-flight job finishes.
func (s *Scheduler) Run(ctx context.Context) error {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug))
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))

	job := cron.FuncJob(func() { s.job(ctx) })
	if _, err := c.AddJob(s.spec, job); err != nil {
		return fmt.Errorf("failed to register job: %w", err)
	}

	s.logger.Info("Scheduler started", "spec", s.spec)
	c.Start()

	// first run without waiting for the first tick, through the same
	// SkipIfStillRunning wrapper as the scheduled runs
	c.Entries()[0].WrappedJob.Run()

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("Scheduler stopped")
	return nil
}
