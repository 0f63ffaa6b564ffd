package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const maxIdempotencyKeyLength = 128

// Donation is a single ledger entry. It is stored under the donor's partition.
type Donation struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	CampaignID     uuid.UUID       `json:"campaign_id" db:"campaign_id"`
	DonorID        string          `json:"donor_id" db:"donor_id"`
	DonorName      string          `json:"donor_name" db:"donor_name"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Timestamp      time.Time       `json:"timestamp" db:"created_at"`
	Refunded       bool            `json:"refunded" db:"refunded"`
	RefundedAt     *time.Time      `json:"refunded_at,omitempty" db:"refunded_at"`
	IdempotencyKey string          `json:"-" db:"idempotency_key"`
}

// SamePayload reports whether other carries the same campaign and amount as d.
func (d Donation) SamePayload(other Donation) bool {
	return d.CampaignID == other.CampaignID && d.Amount.Equal(other.Amount)
}

// DonationRef addresses a donation across partitions: the donor key plus the donation id.
type DonationRef struct {
	DonorID    string          `json:"donor_id"`
	DonationID uuid.UUID       `json:"donation_id"`
	Amount     decimal.Decimal `json:"amount"`
	Refunded   bool            `json:"refunded"`
}

// RecordDonationRequest is the input of the donation recorder.
type RecordDonationRequest struct {
	CampaignID     uuid.UUID       `json:"campaign_id"`
	DonorID        string          `json:"donor_id"`
	DonorName      string          `json:"donor_name"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// Validate enforces the request-level invariants. Campaign state is checked by the recorder.
func (r RecordDonationRequest) Validate() error {
	if r.CampaignID == uuid.Nil {
		return NewValidationError("campaign_id", "campaign id is required")
	}
	if strings.TrimSpace(r.DonorID) == "" {
		return NewValidationError("donor_id", "donor id is required")
	}
	if !r.Amount.IsPositive() {
		return NewValidationError("amount", "amount must be greater than 0")
	}
	if !r.Amount.Equal(r.Amount.Round(2)) {
		return NewValidationError("amount", "amount must have at most 2 decimal places")
	}
	key := strings.TrimSpace(r.IdempotencyKey)
	if key == "" {
		return NewValidationError("idempotency_key", "idempotency key is required")
	}
	if len(key) > maxIdempotencyKeyLength {
		return NewValidationError("idempotency_key", "idempotency key is too long")
	}
	return nil
}

// RecordDonationResponse is returned by the donation recorder.
type RecordDonationResponse struct {
	Donation Donation `json:"donation"`
	// Replayed is true when the idempotency key matched an earlier commit.
	Replayed bool `json:"replayed"`
	// PropagationPending is true when the donation committed but the campaign
	// total or donor aggregate could not be updated yet.
	PropagationPending bool `json:"propagation_pending"`
}

// DonationView is a donor dashboard row.
type DonationView struct {
	Donation
	CampaignName   string `json:"campaign_name,omitempty"`
	RestaurantName string `json:"restaurant_name,omitempty"`
}
