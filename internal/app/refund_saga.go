package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bonafide-ptnguyen/Mealathon/internal/domain"
	"github.com/bonafide-ptnguyen/Mealathon/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// RunRefundSaga marks every donation of a failed campaign as refunded. Donations
// are discovered through the campaign donation index and refunded one donor
// partition row at a time, concurrently and without a global lock. Running it
// again after completion is a no-op. The campaign status is never changed here.
func (s *Service) RunRefundSaga(ctx context.Context, campaignID uuid.UUID) (domain.RefundReport, error) {
	report := domain.RefundReport{CampaignID: campaignID, RefundedAmount: decimal.Zero.StringFixed(2)}

	campaign, err := withRetry(ctx, s.opts.Retry, func() (*domain.Campaign, error) {
		return s.repo.FindCampaignByID(ctx, campaignID)
	})
	if err != nil {
		return report, err
	}
	if campaign.Status != domain.CampaignStatusFailed {
		return report, fmt.Errorf("refund saga for campaign %s in status %s: %w", campaignID, campaign.Status, domain.ErrInvalidState)
	}

	var (
		mu       sync.Mutex
		refunded = decimal.Zero
		failed   = make(map[uuid.UUID]error)
	)
	for {
		pageSize := min(s.opts.RefundBatchSize+len(failed), store.MaxListLimit)
		refs, err := withRetry(ctx, s.opts.Retry, func() ([]domain.DonationRef, error) {
			return s.repo.ListCampaignDonationRefs(ctx, campaignID, true, pageSize)
		})
		if err != nil {
			return report, fmt.Errorf("list unrefunded donations: %w", err)
		}

		batch := make([]domain.DonationRef, 0, len(refs))
		for _, ref := range refs {
			if _, skip := failed[ref.DonationID]; !skip {
				batch = append(batch, ref)
			}
		}
		if len(batch) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.opts.RefundConcurrency)
		for _, ref := range batch {
			g.Go(func() error {
				changed, err := withRetry(gctx, s.opts.Retry, func() (bool, error) {
					return s.repo.MarkDonationRefunded(gctx, ref.DonorID, ref.DonationID, s.now())
				})

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil && errors.Is(err, store.ErrDonationNotFound):
					// Index entry without a donor row; nothing to refund.
					report.AlreadyRefunded++
				case err != nil:
					failed[ref.DonationID] = err
				case changed:
					report.Refunded++
					refunded = refunded.Add(ref.Amount)
				default:
					report.AlreadyRefunded++
				}
				// Per-donation failures never cancel the rest of the batch.
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return s.finishRefundReport(ctx, report, refunded, failed), err
		}
		if len(refs) < pageSize && len(batch) == len(refs) {
			// Short page with nothing skipped: the index is drained.
			break
		}
	}

	report = s.finishRefundReport(ctx, report, refunded, failed)
	if len(failed) > 0 {
		errs := make([]error, 0, len(failed))
		for donationID, err := range failed {
			errs = append(errs, fmt.Errorf("donation %s: %w", donationID, err))
		}
		return report, errors.Join(errs...)
	}
	return report, nil
}

func (s *Service) finishRefundReport(ctx context.Context, report domain.RefundReport, refunded decimal.Decimal, failed map[uuid.UUID]error) domain.RefundReport {
	report.Failed = len(failed)
	report.RefundedAmount = refunded.StringFixed(2)

	remaining, err := s.repo.CountUnrefundedDonations(ctx, report.CampaignID)
	if err != nil {
		s.logger.Warn("could not count remaining refunds", "campaign_id", report.CampaignID, "error", err)
		remaining = report.Failed
	}
	report.Remaining = remaining
	report.Completed = err == nil && remaining == 0

	s.logger.Info("refund saga pass finished",
		"campaign_id", report.CampaignID,
		"refunded", report.Refunded,
		"already_refunded", report.AlreadyRefunded,
		"failed", report.Failed,
		"remaining", report.Remaining,
		"refunded_amount", report.RefundedAmount,
		"completed", report.Completed,
	)
	return report
}

// RecoverRefunds re-dispatches failed campaigns that still hold unrefunded
// donations. It covers lost dispatch messages and sagas that stopped early.
func (s *Service) RecoverRefunds(ctx context.Context) (int, error) {
	ids, err := withRetry(ctx, s.opts.Retry, func() ([]uuid.UUID, error) {
		return s.repo.ListFailedCampaignsWithUnrefundedDonations(ctx, defaultRecoveryBatchSize)
	})
	if err != nil {
		return 0, fmt.Errorf("list campaigns pending refund: %w", err)
	}

	dispatched := 0
	var errs []error
	for _, id := range ids {
		if s.dispatcher == nil {
			errs = append(errs, fmt.Errorf("campaign %s: no refund dispatcher configured", id))
			continue
		}
		if err := s.dispatchRefund(ctx, id, refundReasonRecovery); err != nil {
			errs = append(errs, fmt.Errorf("campaign %s: %w", id, err))
			continue
		}
		dispatched++
	}
	if len(ids) > 0 {
		s.logger.Info("refund recovery pass finished", "candidates", len(ids), "dispatched", dispatched)
	}
	return dispatched, errors.Join(errs...)
}
