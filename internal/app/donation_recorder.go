package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bonafide-ptnguyen/Mealathon/internal/domain"
	"github.com/bonafide-ptnguyen/Mealathon/internal/store"
	"github.com/google/uuid"
)

// RecordDonation commits a donation and propagates it to the campaign total and
// the donor aggregate. The insert keyed by (donor, idempotency key) is the commit
// point; the two propagation steps are each atomic on their own key and replay-safe.
func (s *Service) RecordDonation(ctx context.Context, req domain.RecordDonationRequest) (*domain.RecordDonationResponse, error) {
	req.DonorID = strings.TrimSpace(req.DonorID)
	req.DonorName = strings.TrimSpace(req.DonorName)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkDonationRateLimit(ctx, req.DonorID); err != nil {
		return nil, err
	}

	campaign, err := withRetry(ctx, s.opts.Retry, func() (*domain.Campaign, error) {
		return s.repo.FindCampaignByID(ctx, req.CampaignID)
	})
	if err != nil {
		return nil, err
	}

	candidate := &domain.Donation{
		ID:             uuid.New(),
		CampaignID:     req.CampaignID,
		DonorID:        req.DonorID,
		DonorName:      req.DonorName,
		Amount:         req.Amount.Round(2),
		Timestamp:      s.now(),
		IdempotencyKey: req.IdempotencyKey,
	}

	// A replay must see its original donation even after the campaign closed,
	// so the stored record wins over the state check.
	if !campaign.AcceptsDonations(candidate.Timestamp) {
		replay, ok, err := s.lookupReplay(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if ok {
			return replay, nil
		}
		return nil, fmt.Errorf("campaign %s is %s and closes at %s: %w",
			campaign.ID, campaign.Status, campaign.EndDate.Format(time.RFC3339), domain.ErrInvalidState)
	}

	type insertResult struct {
		donation *domain.Donation
		created  bool
	}
	inserted, err := withRetry(ctx, s.opts.Retry, func() (insertResult, error) {
		d, created, err := s.repo.InsertDonation(ctx, candidate)
		return insertResult{donation: d, created: created}, err
	})
	if err != nil {
		return nil, fmt.Errorf("record donation: %w", err)
	}

	donation := inserted.donation
	if !inserted.created && !donation.SamePayload(*candidate) {
		return nil, fmt.Errorf("idempotency key %q already used for campaign %s amount %s: %w",
			req.IdempotencyKey, donation.CampaignID, donation.Amount.StringFixed(2), domain.ErrIdempotencyConflict)
	}

	resp := &domain.RecordDonationResponse{Donation: *donation, Replayed: !inserted.created}
	if err := s.propagateDonation(ctx, *donation); err != nil {
		s.logger.Warn("donation committed but propagation is pending",
			"donation_id", donation.ID,
			"campaign_id", donation.CampaignID,
			"donor_id", donation.DonorID,
			"error", err,
		)
		resp.PropagationPending = true
		return resp, nil
	}

	if inserted.created {
		s.logger.Info("donation recorded",
			"donation_id", donation.ID,
			"campaign_id", donation.CampaignID,
			"donor_id", donation.DonorID,
			"amount", donation.Amount.StringFixed(2),
		)
	}
	return resp, nil
}

// lookupReplay finds a donation previously committed under the candidate's key.
func (s *Service) lookupReplay(ctx context.Context, candidate *domain.Donation) (*domain.RecordDonationResponse, bool, error) {
	existing, err := withRetry(ctx, s.opts.Retry, func() (*domain.Donation, error) {
		return s.repo.FindDonationByIdempotencyKey(ctx, candidate.DonorID, candidate.IdempotencyKey)
	})
	if errors.Is(err, store.ErrDonationNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !existing.SamePayload(*candidate) {
		return nil, false, fmt.Errorf("idempotency key %q already used: %w", candidate.IdempotencyKey, domain.ErrIdempotencyConflict)
	}
	resp := &domain.RecordDonationResponse{Donation: *existing, Replayed: true}
	if err := s.propagateDonation(ctx, *existing); err != nil {
		s.logger.Warn("replayed donation propagation is pending", "donation_id", existing.ID, "error", err)
		resp.PropagationPending = true
	}
	return resp, true, nil
}

// propagateDonation applies the donation to the campaign total and the donor
// aggregate. Each step is guarded by its own application record, so calling it
// again for the same donation never double counts.
func (s *Service) propagateDonation(ctx context.Context, d domain.Donation) error {
	var errs []error
	if _, err := withRetry(ctx, s.opts.Retry, func() (bool, error) {
		return s.repo.IncrementCampaignTotal(ctx, d.CampaignID, d.ID, d.Amount)
	}); err != nil {
		errs = append(errs, fmt.Errorf("increment campaign total: %w", err))
	}
	if _, err := withRetry(ctx, s.opts.Retry, func() (bool, error) {
		return s.repo.UpsertDonorAggregate(ctx, d.ID, d.DonorID, d.DonorName, d.Amount, d.Timestamp)
	}); err != nil {
		errs = append(errs, fmt.Errorf("upsert donor aggregate: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Service) checkDonationRateLimit(ctx context.Context, donorID string) error {
	limit := s.opts.DonationRateLimitPerMinute
	if s.limiter == nil || limit <= 0 {
		return nil
	}
	err := s.limiter.AllowDonation(ctx, donorID, limit, donationRateLimitWindow)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrRateLimited):
		return err
	default:
		// Fail open when Redis is unreachable.
		s.logger.Warn("donation rate limiter unavailable", "donor_id", donorID, "error", err)
		return nil
	}
}

// RepairPropagation re-applies campaign totals and donor aggregates for committed
// donations older than olderThan that are missing either application.
func (s *Service) RepairPropagation(ctx context.Context, olderThan time.Time) (domain.RepairResult, error) {
	var result domain.RepairResult
	donations, err := withRetry(ctx, s.opts.Retry, func() ([]domain.Donation, error) {
		return s.repo.ListUnappliedDonations(ctx, olderThan, defaultRepairBatchSize)
	})
	if err != nil {
		return result, fmt.Errorf("list unapplied donations: %w", err)
	}
	result.Scanned = len(donations)

	var errs []error
	for _, d := range donations {
		campaignApplied, err := withRetry(ctx, s.opts.Retry, func() (bool, error) {
			return s.repo.IncrementCampaignTotal(ctx, d.CampaignID, d.ID, d.Amount)
		})
		if err != nil && !errors.Is(err, store.ErrCampaignNotFound) {
			result.Failed++
			errs = append(errs, fmt.Errorf("donation %s campaign total: %w", d.ID, err))
			continue
		}
		donorApplied, err := withRetry(ctx, s.opts.Retry, func() (bool, error) {
			return s.repo.UpsertDonorAggregate(ctx, d.ID, d.DonorID, d.DonorName, d.Amount, d.Timestamp)
		})
		if err != nil {
			result.Failed++
			errs = append(errs, fmt.Errorf("donation %s donor aggregate: %w", d.ID, err))
			continue
		}
		if campaignApplied {
			result.CampaignsApplied++
		}
		if donorApplied {
			result.DonorsApplied++
		}
	}

	if result.CampaignsApplied > 0 || result.DonorsApplied > 0 || result.Failed > 0 {
		s.logger.Info("propagation repair pass finished",
			"scanned", result.Scanned,
			"campaigns_applied", result.CampaignsApplied,
			"donors_applied", result.DonorsApplied,
			"failed", result.Failed,
		)
	}
	return result, errors.Join(errs...)
}
