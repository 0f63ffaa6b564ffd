/**
 * @description
 * This file defines the `Repository` interface, the contract for every ledger
 * data access operation. Each method touches a single entity key (a campaign,
 * a donor partition, or a donation) so implementations never need a global lock.
 *
 * @dependencies
 * - github.com/google/uuid, github.com/shopspring/decimal
 * - internal/domain: ledger domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/bonafide-ptnguyen/Mealathon/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrCampaignNotFound       = errors.New("campaign not found")
	ErrDonationNotFound       = errors.New("donation not found")
	ErrDonorAggregateNotFound = errors.New("donor aggregate not found")
	// ErrCampaignNotUpdatable is returned when a conditional campaign update matched no row.
	ErrCampaignNotUpdatable = errors.New("campaign not updatable")
)

// Repository defines the set of methods for interacting with the ledger store.
type Repository interface {
	// Campaign methods
	CreateCampaign(ctx context.Context, campaign *domain.Campaign) error
	FindCampaignByID(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error)
	ListCampaigns(ctx context.Context, filter domain.CampaignFilter) ([]domain.Campaign, error)
	// ListTopCampaigns returns campaigns ordered by total descending, then name, then id.
	ListTopCampaigns(ctx context.Context, limit int) ([]domain.Campaign, error)
	// IncrementCampaignTotal adds amount to the campaign total once per donation.
	// It reports false when the donation was already applied.
	IncrementCampaignTotal(ctx context.Context, campaignID, donationID uuid.UUID, amount decimal.Decimal) (bool, error)
	// TransitionCampaignStatus moves the campaign from one status to another only
	// if it still holds from. It reports whether this call won the transition.
	TransitionCampaignStatus(ctx context.Context, campaignID uuid.UUID, from, to domain.CampaignStatus, at time.Time) (bool, error)
	// AppendDistributionUpdate appends an update when providerID owns the campaign
	// and the campaign has not failed. Otherwise it returns ErrCampaignNotUpdatable.
	AppendDistributionUpdate(ctx context.Context, campaignID uuid.UUID, providerID string, update domain.DistributionUpdate) (*domain.Campaign, error)

	// Donation methods
	// InsertDonation commits the donation under (donor_id, idempotency_key) and
	// appends it to the campaign donation index. When the key already exists the
	// stored donation is returned with created=false.
	InsertDonation(ctx context.Context, donation *domain.Donation) (stored *domain.Donation, created bool, err error)
	FindDonation(ctx context.Context, donorID string, donationID uuid.UUID) (*domain.Donation, error)
	FindDonationByIdempotencyKey(ctx context.Context, donorID, idempotencyKey string) (*domain.Donation, error)
	ListDonationsByDonor(ctx context.Context, donorID string, limit int) ([]domain.Donation, error)
	// ListCampaignDonationRefs reads the campaign donation index.
	ListCampaignDonationRefs(ctx context.Context, campaignID uuid.UUID, unrefundedOnly bool, limit int) ([]domain.DonationRef, error)
	// MarkDonationRefunded sets refunded=true if it is still false. It reports
	// false when the donation was already refunded.
	MarkDonationRefunded(ctx context.Context, donorID string, donationID uuid.UUID, at time.Time) (bool, error)
	CountUnrefundedDonations(ctx context.Context, campaignID uuid.UUID) (int, error)
	ListFailedCampaignsWithUnrefundedDonations(ctx context.Context, limit int) ([]uuid.UUID, error)
	// ListUnappliedDonations returns donations created at or before olderThan
	// that are missing a campaign total or donor aggregate application.
	ListUnappliedDonations(ctx context.Context, olderThan time.Time, limit int) ([]domain.Donation, error)

	// Donor aggregate methods
	// UpsertDonorAggregate folds the donation into the donor's aggregate once.
	// It reports false when the donation was already applied.
	UpsertDonorAggregate(ctx context.Context, donationID uuid.UUID, donorID, donorName string, amount decimal.Decimal, at time.Time) (bool, error)
	FindDonorAggregate(ctx context.Context, donorID string) (*domain.DonorAggregate, error)
	// ListTopDonors returns aggregates ordered by total descending, then name, then id.
	ListTopDonors(ctx context.Context, limit int) ([]domain.DonorAggregate, error)
}
