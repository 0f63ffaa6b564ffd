/**
 * @description
 * Scheduled job implementations for the ledger: the lifecycle sweep, refund
 * recovery and propagation repair. Each job bounds itself with the configured
 * job timeout and logs its start and outcome.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/bonafide-ptnguyen/Mealathon/internal/config"
	"github.com/bonafide-ptnguyen/Mealathon/internal/domain"
)

// LedgerOperations is the subset of Service the jobs drive.
type LedgerOperations interface {
	Sweep(ctx context.Context, now time.Time) (domain.SweepResult, error)
	RecoverRefunds(ctx context.Context) (int, error)
	RepairPropagation(ctx context.Context, olderThan time.Time) (domain.RepairResult, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	ledger LedgerOperations
	logger *slog.Logger
	config config.Config
	now    func() time.Time
}

// NewJobs creates a new Jobs runner.
func NewJobs(ledger LedgerOperations, logger *slog.Logger, cfg config.Config) *Jobs {
	if logger == nil {
		logger = slog.Default()
	}
	return &Jobs{
		ledger: ledger,
		logger: logger,
		config: cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (j *Jobs) jobContext() (context.Context, context.CancelFunc) {
	timeout := j.config.JobTimeout()
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return context.WithTimeout(context.Background(), timeout)
}

// SweepCampaigns settles campaigns whose end date has passed.
func (j *Jobs) SweepCampaigns() {
	j.logger.Info("starting campaign sweep job")
	ctx, cancel := j.jobContext()
	defer cancel()

	result, err := j.ledger.Sweep(ctx, j.now())
	if err != nil {
		j.logger.Error("campaign sweep finished with errors",
			"successful", len(result.Successful),
			"failed", len(result.Failed),
			"error", err,
		)
		return
	}

	j.logger.Info("campaign sweep job finished", "successful", len(result.Successful), "failed", len(result.Failed))
}

// RecoverRefunds re-dispatches failed campaigns that still hold unrefunded donations.
func (j *Jobs) RecoverRefunds() {
	j.logger.Info("starting refund recovery job")
	ctx, cancel := j.jobContext()
	defer cancel()

	dispatched, err := j.ledger.RecoverRefunds(ctx)
	if err != nil {
		j.logger.Error("failed to recover refunds", "dispatched", dispatched, "error", err)
		return
	}

	j.logger.Info("refund recovery job finished", "dispatched", dispatched)
}

// RepairPropagation applies campaign totals and donor aggregates that a
// donation write left pending.
func (j *Jobs) RepairPropagation() {
	j.logger.Info("starting propagation repair job")
	ctx, cancel := j.jobContext()
	defer cancel()

	result, err := j.ledger.RepairPropagation(ctx, j.now().Add(-j.config.PropagationRepairAge()))
	if err != nil {
		j.logger.Error("propagation repair finished with errors",
			"scanned", result.Scanned,
			"failed", result.Failed,
			"error", err,
		)
		return
	}

	j.logger.Info("propagation repair job finished",
		"scanned", result.Scanned,
		"campaigns_applied", result.CampaignsApplied,
		"donors_applied", result.DonorsApplied,
	)
}
