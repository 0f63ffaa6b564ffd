package domain

import (
	"time"

	"github.com/google/uuid"
)

// RefundRequestedRoutingKey is the routing key of RefundRequestedEvent on the events exchange.
const RefundRequestedRoutingKey = "campaign.refund.requested"

// RefundRequestedEvent asks a refund worker to run the refund saga for a failed campaign.
type RefundRequestedEvent struct {
	CampaignID  uuid.UUID `json:"campaign_id"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

// RefundReport summarizes one refund saga run.
type RefundReport struct {
	CampaignID      uuid.UUID `json:"campaign_id"`
	Refunded        int       `json:"refunded"`
	AlreadyRefunded int       `json:"already_refunded"`
	Failed          int       `json:"failed"`
	Remaining       int       `json:"remaining"`
	// RefundedAmount is the sum refunded in this run. Campaign totals are not reduced by it.
	RefundedAmount string `json:"refunded_amount"`
	Completed      bool   `json:"completed"`
}

// SweepResult lists campaigns transitioned by one lifecycle sweep.
type SweepResult struct {
	Successful []uuid.UUID `json:"successful"`
	Failed     []uuid.UUID `json:"failed"`
}

// Transitioned returns every campaign id the sweep moved out of active.
func (r SweepResult) Transitioned() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(r.Successful)+len(r.Failed))
	out = append(out, r.Successful...)
	return append(out, r.Failed...)
}

// RepairResult summarizes a propagation repair pass.
type RepairResult struct {
	Scanned          int `json:"scanned"`
	CampaignsApplied int `json:"campaigns_applied"`
	DonorsApplied    int `json:"donors_applied"`
	Failed           int `json:"failed"`
}
