/**
 * @description
 * Cron scheduler setup for the ledger jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/bonafide-ptnguyen/Mealathon/internal/config"
	"github.com/robfig/cron/v3"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance. A job still running when its
// next tick fires is skipped for that tick.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler. It returns the
// number of jobs that were scheduled.
func (s *Scheduler) Start() int {
	entries := []struct {
		name     string
		schedule string
		run      func()
	}{
		{name: "campaign sweep", schedule: s.config.SweepSchedule, run: s.jobs.SweepCampaigns},
		{name: "refund recovery", schedule: s.config.RefundRecoverySchedule, run: s.jobs.RecoverRefunds},
		{name: "propagation repair", schedule: s.config.PropagationRepairSchedule, run: s.jobs.RepairPropagation},
	}

	scheduled := 0
	for _, entry := range entries {
		if entry.schedule == "" {
			s.logger.Warn("job disabled; no schedule configured", "job", entry.name)
			continue
		}
		if _, err := s.cron.AddFunc(entry.schedule, entry.run); err != nil {
			s.logger.Error("failed to schedule "+entry.name+" job", "schedule", entry.schedule, "error", err)
			continue
		}
		s.logger.Info("scheduled "+entry.name+" job", "schedule", entry.schedule)
		scheduled++
	}

	s.cron.Start()
	return scheduled
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
