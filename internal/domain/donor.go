package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DonorAggregate is the per-donor running total behind the donor leaderboard.
// Refunds do not reduce it.
type DonorAggregate struct {
	DonorID            string          `json:"donor_id" db:"donor_id"`
	DonorName          string          `json:"donor_name" db:"donor_name"`
	TotalDonatedAmount decimal.Decimal `json:"total_donated_amount" db:"total_donated_amount"`
	DonationCount      int64           `json:"donation_count" db:"donation_count"`
	FirstDonationAt    time.Time       `json:"first_donation_at" db:"first_donation_at"`
	LastDonationAt     time.Time       `json:"last_donation_at" db:"last_donation_at"`
}
