/**
 * @description
 * This file contains the core business logic of the ledger service. The `Service`
 * struct coordinates the donation recorder, the campaign lifecycle sweep, the
 * refund saga and the leaderboard projection on top of a store.Repository.
 *
 * Key features:
 * - Campaign creation, lookup and provider distribution updates.
 * - Donation recording with idempotency keys and per-key atomic propagation.
 * - Refund work handed off through a RefundDispatcher, never awaited by the sweep.
 *
 * @dependencies
 * - log/slog: structured logging.
 * - github.com/google/uuid, github.com/shopspring/decimal
 * - internal/domain, internal/store: domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bonafide-ptnguyen/Mealathon/internal/config"
	"github.com/bonafide-ptnguyen/Mealathon/internal/domain"
	"github.com/bonafide-ptnguyen/Mealathon/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultRefundConcurrency   = 8
	defaultRefundBatchSize     = 200
	defaultSweepBatchSize      = 500
	defaultRecoveryBatchSize   = 100
	defaultRepairBatchSize     = 200
	defaultLeaderboardLimit    = 10
	maxLeaderboardLimit        = 100
	donationRateLimitWindow    = time.Minute
	refundReasonDeadlineMissed = "campaign missed its target at deadline"
	refundReasonRecovery       = "refund recovery"
)

// RefundDispatcher hands a failed campaign to the refund saga without waiting for it.
type RefundDispatcher interface {
	DispatchRefund(ctx context.Context, campaignID uuid.UUID, reason string) error
}

// RateLimiter is satisfied by RedisRateLimiter. Rejections wrap
// domain.ErrRateLimited; any other error means the limiter is unavailable.
type RateLimiter interface {
	AllowDonation(ctx context.Context, donorID string, limit int, window time.Duration) error
}

// LeaderboardCache stores rendered leaderboards for a short time.
type LeaderboardCache interface {
	Get(ctx context.Context, kind domain.LeaderboardKind, limit int) (*domain.Leaderboard, bool, error)
	Set(ctx context.Context, board *domain.Leaderboard, limit int) error
}

// Options tunes the service. Zero values fall back to defaults.
type Options struct {
	Retry                      RetryPolicy
	RefundConcurrency          int
	RefundBatchSize            int
	SweepBatchSize             int
	DonationRateLimitPerMinute int
	LeaderboardDefaultLimit    int
}

func (o Options) withDefaults() Options {
	o.Retry = o.Retry.normalized()
	if o.RefundConcurrency <= 0 {
		o.RefundConcurrency = defaultRefundConcurrency
	}
	if o.RefundBatchSize <= 0 {
		o.RefundBatchSize = defaultRefundBatchSize
	}
	if o.RefundBatchSize > store.MaxListLimit {
		o.RefundBatchSize = store.MaxListLimit
	}
	if o.SweepBatchSize <= 0 {
		o.SweepBatchSize = defaultSweepBatchSize
	}
	if o.LeaderboardDefaultLimit <= 0 {
		o.LeaderboardDefaultLimit = defaultLeaderboardLimit
	}
	if o.DonationRateLimitPerMinute < 0 {
		o.DonationRateLimitPerMinute = 0
	}
	return o
}

// OptionsFromConfig maps the shared configuration onto service options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Retry: RetryPolicy{
			MaxAttempts:     uint(cfg.RetryMaxAttempts),
			InitialInterval: time.Duration(cfg.RetryInitialIntervalMs) * time.Millisecond,
			MaxInterval:     time.Duration(cfg.RetryMaxIntervalMs) * time.Millisecond,
		},
		RefundConcurrency:          cfg.RefundConcurrency,
		RefundBatchSize:            cfg.RefundBatchSize,
		DonationRateLimitPerMinute: cfg.DonationRateLimitPerMinute,
		LeaderboardDefaultLimit:    cfg.LeaderboardDefaultLimit,
	}
}

// Service provides the ledger use cases.
type Service struct {
	repo       store.Repository
	dispatcher RefundDispatcher
	limiter    RateLimiter
	cache      LeaderboardCache
	logger     *slog.Logger
	opts       Options
	now        func() time.Time
}

// NewService creates a new ledger service instance.
func NewService(repo store.Repository, dispatcher RefundDispatcher, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       repo,
		dispatcher: dispatcher,
		logger:     logger,
		opts:       opts.withDefaults(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetRefundDispatcher replaces the dispatcher. The in-process dispatcher needs
// the service to exist before it can be built.
func (s *Service) SetRefundDispatcher(dispatcher RefundDispatcher) {
	s.dispatcher = dispatcher
}

func (s *Service) SetRateLimiter(limiter RateLimiter) {
	s.limiter = limiter
}

func (s *Service) SetLeaderboardCache(cache LeaderboardCache) {
	s.cache = cache
}

// CreateCampaign opens a new active campaign owned by providerID.
func (s *Service) CreateCampaign(ctx context.Context, providerID string, req domain.CreateCampaignRequest) (*domain.Campaign, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return nil, domain.NewValidationError("provider_id", "provider id is required")
	}
	now := s.now()
	if err := req.Validate(now); err != nil {
		return nil, err
	}

	campaign := &domain.Campaign{
		ID:                  uuid.New(),
		ProviderID:          providerID,
		CampaignName:        strings.TrimSpace(req.CampaignName),
		RestaurantName:      strings.TrimSpace(req.RestaurantName),
		Description:         strings.TrimSpace(req.Description),
		TargetAmount:        req.TargetAmount.Round(2),
		CostPerMeal:         req.CostPerMeal.Round(2),
		TotalDonations:      decimal.Zero,
		EndDate:             req.EndDate.UTC(),
		Status:              domain.CampaignStatusActive,
		DistributionUpdates: []domain.DistributionUpdate{},
		CreatedAt:           now,
	}
	if _, err := withRetry(ctx, s.opts.Retry, func() (struct{}, error) {
		return struct{}{}, s.repo.CreateCampaign(ctx, campaign)
	}); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	s.logger.Info("campaign created",
		"campaign_id", campaign.ID,
		"provider_id", providerID,
		"target_amount", campaign.TargetAmount.StringFixed(2),
		"end_date", campaign.EndDate,
	)
	return campaign, nil
}

// GetCampaign returns one campaign.
func (s *Service) GetCampaign(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error) {
	return withRetry(ctx, s.opts.Retry, func() (*domain.Campaign, error) {
		return s.repo.FindCampaignByID(ctx, campaignID)
	})
}

// ListCampaigns lists campaigns matching filter.
func (s *Service) ListCampaigns(ctx context.Context, filter domain.CampaignFilter) ([]domain.Campaign, error) {
	return withRetry(ctx, s.opts.Retry, func() ([]domain.Campaign, error) {
		return s.repo.ListCampaigns(ctx, filter)
	})
}

// AddDistributionUpdate appends a provider-authored distribution note.
func (s *Service) AddDistributionUpdate(ctx context.Context, campaignID uuid.UUID, providerID string, req domain.AddDistributionUpdateRequest) (*domain.Campaign, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	campaign, err := s.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.ProviderID != providerID {
		return nil, fmt.Errorf("campaign %s belongs to another provider: %w", campaignID, domain.ErrForbidden)
	}
	if campaign.Status == domain.CampaignStatusFailed {
		return nil, fmt.Errorf("campaign %s failed; distribution updates are closed: %w", campaignID, domain.ErrInvalidState)
	}

	imageRefs := make([]string, 0, len(req.ImageRefs))
	for _, ref := range req.ImageRefs {
		if trimmed := strings.TrimSpace(ref); trimmed != "" {
			imageRefs = append(imageRefs, trimmed)
		}
	}
	update := domain.DistributionUpdate{
		Message:   strings.TrimSpace(req.Message),
		Timestamp: s.now(),
		ImageRefs: imageRefs,
	}
	updated, err := withRetry(ctx, s.opts.Retry, func() (*domain.Campaign, error) {
		return s.repo.AppendDistributionUpdate(ctx, campaignID, providerID, update)
	})
	if err != nil {
		if errors.Is(err, store.ErrCampaignNotUpdatable) {
			// Only a concurrent transition to failed can get here after the checks above.
			return nil, fmt.Errorf("campaign %s no longer accepts updates: %w", campaignID, domain.ErrInvalidState)
		}
		return nil, fmt.Errorf("append distribution update: %w", err)
	}
	s.logger.Info("distribution update added", "campaign_id", campaignID, "provider_id", providerID)
	return updated, nil
}

// ListDonorDonations returns a donor's donations with campaign names resolved.
func (s *Service) ListDonorDonations(ctx context.Context, donorID string, limit int) ([]domain.DonationView, error) {
	donations, err := withRetry(ctx, s.opts.Retry, func() ([]domain.Donation, error) {
		return s.repo.ListDonationsByDonor(ctx, donorID, limit)
	})
	if err != nil {
		return nil, err
	}

	campaigns := make(map[uuid.UUID]*domain.Campaign)
	views := make([]domain.DonationView, 0, len(donations))
	for _, d := range donations {
		c, seen := campaigns[d.CampaignID]
		if !seen {
			c, err = s.repo.FindCampaignByID(ctx, d.CampaignID)
			if err != nil && !errors.Is(err, store.ErrCampaignNotFound) {
				return nil, err
			}
			campaigns[d.CampaignID] = c
		}
		view := domain.DonationView{Donation: d}
		if c != nil {
			view.CampaignName = c.CampaignName
			view.RestaurantName = c.RestaurantName
		}
		views = append(views, view)
	}
	return views, nil
}
