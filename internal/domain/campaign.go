/**
 * @description
 * Campaign domain models for the ledger service. A campaign is owned by a
 * provider, collects donations toward a target until its end date, and then
 * settles exactly once into a terminal status.
 */
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignStatusActive     CampaignStatus = "active"
	CampaignStatusSuccessful CampaignStatus = "successful"
	CampaignStatusFailed     CampaignStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStatusSuccessful || s == CampaignStatusFailed
}

// Valid reports whether s is a known status.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusActive, CampaignStatusSuccessful, CampaignStatusFailed:
		return true
	default:
		return false
	}
}

// ParseCampaignStatus normalizes a user supplied status filter.
func ParseCampaignStatus(raw string) (CampaignStatus, bool) {
	status := CampaignStatus(strings.ToLower(strings.TrimSpace(raw)))
	return status, status.Valid()
}

// DistributionUpdate is a provider-authored note describing how raised funds were spent.
type DistributionUpdate struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	ImageRefs []string  `json:"image_refs,omitempty"`
}

// Campaign is the aggregate tracked by the ledger.
type Campaign struct {
	ID                  uuid.UUID            `json:"id" db:"id"`
	ProviderID          string               `json:"provider_id" db:"provider_id"`
	CampaignName        string               `json:"campaign_name" db:"campaign_name"`
	RestaurantName      string               `json:"restaurant_name" db:"restaurant_name"`
	Description         string               `json:"description" db:"description"`
	TargetAmount        decimal.Decimal      `json:"target_amount" db:"target_amount"`
	CostPerMeal         decimal.Decimal      `json:"cost_per_meal" db:"cost_per_meal"`
	TotalDonations      decimal.Decimal      `json:"total_donations" db:"total_donations"`
	TotalMealsProvided  int64                `json:"total_meals_provided" db:"total_meals_provided"`
	EndDate             time.Time            `json:"end_date" db:"end_date"`
	Status              CampaignStatus       `json:"status" db:"status"`
	DistributionUpdates []DistributionUpdate `json:"distribution_updates" db:"distribution_updates"`
	ClosedAt            *time.Time           `json:"closed_at,omitempty" db:"closed_at"`
	CreatedAt           time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at" db:"updated_at"`
}

// MealsPossible is the number of whole meals the current total can buy.
func (c Campaign) MealsPossible() int64 {
	return MealsFor(c.TotalDonations, c.CostPerMeal)
}

// MealsFor returns floor(total / costPerMeal), or zero when the cost is not positive.
func MealsFor(total, costPerMeal decimal.Decimal) int64 {
	if !costPerMeal.IsPositive() || !total.IsPositive() {
		return 0
	}
	return total.Div(costPerMeal).Floor().IntPart()
}

// TargetMet reports whether the campaign reached its target. A zero target is always met.
func (c Campaign) TargetMet() bool {
	if c.TargetAmount.IsZero() {
		return true
	}
	return c.TotalDonations.GreaterThanOrEqual(c.TargetAmount)
}

// DeadlinePassed reports whether now is at or after the campaign end date.
func (c Campaign) DeadlinePassed(now time.Time) bool {
	return !now.Before(c.EndDate)
}

// Outcome is the terminal status the campaign settles into at its deadline.
func (c Campaign) Outcome() CampaignStatus {
	if c.TargetMet() {
		return CampaignStatusSuccessful
	}
	return CampaignStatusFailed
}

// AcceptsDonations reports whether a donation may be recorded at now.
func (c Campaign) AcceptsDonations(now time.Time) bool {
	return c.Status == CampaignStatusActive && !c.DeadlinePassed(now)
}

// CampaignFilter narrows ListCampaigns. Zero values mean "any".
type CampaignFilter struct {
	Status           CampaignStatus
	ProviderID       string
	EndingAtOrBefore *time.Time
	Limit            int
}

// CreateCampaignRequest is the payload accepted when a provider opens a campaign.
type CreateCampaignRequest struct {
	CampaignName   string          `json:"campaign_name"`
	RestaurantName string          `json:"restaurant_name"`
	Description    string          `json:"description"`
	TargetAmount   decimal.Decimal `json:"target_amount"`
	CostPerMeal    decimal.Decimal `json:"cost_per_meal"`
	EndDate        time.Time       `json:"end_date"`
}

// Validate checks the request against the campaign invariants at time now.
func (r CreateCampaignRequest) Validate(now time.Time) error {
	if strings.TrimSpace(r.CampaignName) == "" {
		return NewValidationError("campaign_name", "campaign name is required")
	}
	if strings.TrimSpace(r.RestaurantName) == "" {
		return NewValidationError("restaurant_name", "restaurant name is required")
	}
	if r.TargetAmount.IsNegative() {
		return NewValidationError("target_amount", "target amount must not be negative")
	}
	if !r.CostPerMeal.IsPositive() {
		return NewValidationError("cost_per_meal", "cost per meal must be greater than 0")
	}
	if r.EndDate.IsZero() || !r.EndDate.After(now) {
		return NewValidationError("end_date", "end date must be in the future")
	}
	return nil
}

// AddDistributionUpdateRequest is the payload a provider posts to report a distribution.
type AddDistributionUpdateRequest struct {
	Message   string   `json:"message"`
	ImageRefs []string `json:"image_refs,omitempty"`
}

// Validate checks that the update carries a message.
func (r AddDistributionUpdateRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return NewValidationError("message", "update message is required")
	}
	return nil
}

// CampaignView decorates a campaign with derived values for API responses.
type CampaignView struct {
	Campaign
	MealsPossible int64 `json:"meals_possible"`
}

// NewCampaignView builds the API projection of c.
func NewCampaignView(c Campaign) CampaignView {
	if c.DistributionUpdates == nil {
		c.DistributionUpdates = []DistributionUpdate{}
	}
	return CampaignView{Campaign: c, MealsPossible: c.MealsPossible()}
}
