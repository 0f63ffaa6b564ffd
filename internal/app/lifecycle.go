package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bonafide-ptnguyen/Mealathon/internal/domain"
	"github.com/google/uuid"
)

// Sweep settles every active campaign whose end date is at or before now.
// Each settlement is a compare-and-set on the campaign status, so concurrent
// sweeps transition a campaign at most once; the loser skips it silently.
// Refunds for failed campaigns are dispatched, not awaited. Per-campaign
// errors are joined and returned; the next tick retries those campaigns.
func (s *Service) Sweep(ctx context.Context, now time.Time) (domain.SweepResult, error) {
	result := domain.SweepResult{Successful: []uuid.UUID{}, Failed: []uuid.UUID{}}
	now = now.UTC()
	due, err := withRetry(ctx, s.opts.Retry, func() ([]domain.Campaign, error) {
		return s.repo.ListCampaigns(ctx, domain.CampaignFilter{
			Status:           domain.CampaignStatusActive,
			EndingAtOrBefore: &now,
			Limit:            s.opts.SweepBatchSize,
		})
	})
	if err != nil {
		return result, fmt.Errorf("list due campaigns: %w", err)
	}

	var errs []error
	for _, campaign := range due {
		if campaign.Status != domain.CampaignStatusActive || !campaign.DeadlinePassed(now) {
			continue
		}
		outcome := campaign.Outcome()
		won, err := withRetry(ctx, s.opts.Retry, func() (bool, error) {
			return s.repo.TransitionCampaignStatus(ctx, campaign.ID, domain.CampaignStatusActive, outcome, now)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("campaign %s: transition to %s: %w", campaign.ID, outcome, err))
			continue
		}
		if !won {
			s.logger.Debug("campaign already settled by another sweep", "campaign_id", campaign.ID)
			continue
		}

		s.logger.Info("campaign settled",
			"campaign_id", campaign.ID,
			"status", outcome,
			"total_donations", campaign.TotalDonations.StringFixed(2),
			"target_amount", campaign.TargetAmount.StringFixed(2),
		)
		if outcome == domain.CampaignStatusSuccessful {
			result.Successful = append(result.Successful, campaign.ID)
			continue
		}

		result.Failed = append(result.Failed, campaign.ID)
		if err := s.dispatchRefund(ctx, campaign.ID, refundReasonDeadlineMissed); err != nil {
			// The recovery job picks the campaign up again since it still has unrefunded donations.
			errs = append(errs, fmt.Errorf("campaign %s: dispatch refund: %w", campaign.ID, err))
		}
	}
	return result, errors.Join(errs...)
}

func (s *Service) dispatchRefund(ctx context.Context, campaignID uuid.UUID, reason string) error {
	if s.dispatcher == nil {
		s.logger.Warn("no refund dispatcher configured; refund left to recovery", "campaign_id", campaignID)
		return nil
	}
	if err := s.dispatcher.DispatchRefund(ctx, campaignID, reason); err != nil {
		s.logger.Error("failed to dispatch refund", "campaign_id", campaignID, "reason", reason, "error", err)
		return err
	}
	return nil
}
