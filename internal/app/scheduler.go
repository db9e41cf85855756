/**
 * @description
 * Cron scheduler setup for the subscription sweep.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/transfa/subscription-tracker/internal/config"
)

// Scheduler manages the sweep cron entry.
type Scheduler struct {
	cron    *cron.Cron
	sweep   *SweepJob
	logger  *slog.Logger
	config  config.Config
	startup sync.WaitGroup
}

// NewScheduler creates a new scheduler instance. Panics inside a run are
// recovered and a tick that fires while the previous run is active is skipped.
func NewScheduler(sweep *SweepJob, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	return &Scheduler{
		cron:   c,
		sweep:  sweep,
		logger: logger,
		config: cfg,
	}
}

// Start registers the sweep and starts the cron scheduler.
func (s *Scheduler) Start() error {
	spec := s.config.SweepSpec()
	if _, err := s.cron.AddFunc(spec, s.sweep.RunScheduled); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", spec, err)
	}
	s.logger.Info("scheduled subscription sweep", "schedule", spec)

	if s.config.SweepRunOnStartup {
		s.startup.Add(1)
		go func() {
			defer s.startup.Done()
			s.logger.Info("running startup sweep")
			s.sweep.RunScheduled()
		}()
	}

	s.cron.Start()
	return nil
}

// Stop stops the cron scheduler. The returned context is done once any
// running sweep, including a startup run, has finished.
func (s *Scheduler) Stop() context.Context {
	cronCtx := s.cron.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronCtx.Done()
		s.startup.Wait()
		cancel()
	}()
	return ctx
}
