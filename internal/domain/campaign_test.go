package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestCampaignOutcome(t *testing.T) {
	tests := []struct {
		name   string
		target string
		total  string
		want   CampaignStatus
	}{
		{name: "zero target always succeeds", target: "0", total: "0", want: CampaignStatusSuccessful},
		{name: "target reached exactly", target: "100", total: "100.00", want: CampaignStatusSuccessful},
		{name: "target exceeded", target: "100", total: "110", want: CampaignStatusSuccessful},
		{name: "target missed", target: "500", total: "200", want: CampaignStatusFailed},
		{name: "target missed by a cent", target: "100", total: "99.99", want: CampaignStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Campaign{
				TargetAmount:   decimal.RequireFromString(tt.target),
				TotalDonations: decimal.RequireFromString(tt.total),
			}
			if got := c.Outcome(); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestMealsFor(t *testing.T) {
	tests := []struct {
		name  string
		total string
		cost  string
		want  int64
	}{
		{name: "floors partial meals", total: "110", cost: "12.50", want: 8},
		{name: "exact division", total: "100", cost: "5", want: 20},
		{name: "zero cost yields zero", total: "100", cost: "0", want: 0},
		{name: "zero total", total: "0", cost: "5", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MealsFor(decimal.RequireFromString(tt.total), decimal.RequireFromString(tt.cost))
			if got != tt.want {
				t.Fatalf("expected %d meals, got %d", tt.want, got)
			}
		})
	}
}

func TestCampaignAcceptsDonations(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	open := Campaign{Status: CampaignStatusActive, EndDate: now.Add(time.Hour)}
	if !open.AcceptsDonations(now) {
		t.Fatal("expected active campaign before deadline to accept donations")
	}
	atDeadline := Campaign{Status: CampaignStatusActive, EndDate: now}
	if atDeadline.AcceptsDonations(now) {
		t.Fatal("expected campaign at deadline to reject donations")
	}
	closed := Campaign{Status: CampaignStatusFailed, EndDate: now.Add(time.Hour)}
	if closed.AcceptsDonations(now) {
		t.Fatal("expected failed campaign to reject donations")
	}
}

func TestCreateCampaignRequestValidate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	valid := CreateCampaignRequest{
		CampaignName:   "Winter meals",
		RestaurantName: "Corner Bistro",
		TargetAmount:   decimal.NewFromInt(500),
		CostPerMeal:    decimal.RequireFromString("12.50"),
		EndDate:        now.Add(48 * time.Hour),
	}

	tests := []struct {
		name      string
		mutate    func(*CreateCampaignRequest)
		wantField string
	}{
		{name: "valid", mutate: func(*CreateCampaignRequest) {}},
		{name: "zero target allowed", mutate: func(r *CreateCampaignRequest) { r.TargetAmount = decimal.Zero }},
		{name: "missing name", mutate: func(r *CreateCampaignRequest) { r.CampaignName = "  " }, wantField: "campaign_name"},
		{name: "missing restaurant", mutate: func(r *CreateCampaignRequest) { r.RestaurantName = "" }, wantField: "restaurant_name"},
		{name: "negative target", mutate: func(r *CreateCampaignRequest) { r.TargetAmount = decimal.NewFromInt(-1) }, wantField: "target_amount"},
		{name: "zero cost per meal", mutate: func(r *CreateCampaignRequest) { r.CostPerMeal = decimal.Zero }, wantField: "cost_per_meal"},
		{name: "end date in the past", mutate: func(r *CreateCampaignRequest) { r.EndDate = now.Add(-time.Minute) }, wantField: "end_date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			err := req.Validate(now)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if vErr.Field != tt.wantField {
				t.Fatalf("expected field %s, got %s", tt.wantField, vErr.Field)
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatal("expected error to match ErrValidation")
			}
		})
	}
}

func TestRecordDonationRequestValidate(t *testing.T) {
	base := RecordDonationRequest{
		CampaignID:     uuid.New(),
		DonorID:        "user_1",
		DonorName:      "Ada",
		Amount:         decimal.NewFromInt(25),
		IdempotencyKey: "key-1",
	}

	tests := []struct {
		name      string
		mutate    func(*RecordDonationRequest)
		wantField string
	}{
		{name: "valid", mutate: func(*RecordDonationRequest) {}},
		{name: "zero amount", mutate: func(r *RecordDonationRequest) { r.Amount = decimal.Zero }, wantField: "amount"},
		{name: "negative amount", mutate: func(r *RecordDonationRequest) { r.Amount = decimal.NewFromInt(-5) }, wantField: "amount"},
		{name: "sub-cent amount", mutate: func(r *RecordDonationRequest) { r.Amount = decimal.RequireFromString("1.005") }, wantField: "amount"},
		{name: "missing donor", mutate: func(r *RecordDonationRequest) { r.DonorID = "" }, wantField: "donor_id"},
		{name: "missing campaign", mutate: func(r *RecordDonationRequest) { r.CampaignID = uuid.Nil }, wantField: "campaign_id"},
		{name: "missing idempotency key", mutate: func(r *RecordDonationRequest) { r.IdempotencyKey = " " }, wantField: "idempotency_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) || vErr.Field != tt.wantField {
				t.Fatalf("expected validation error on %s, got %v", tt.wantField, err)
			}
		})
	}
}

func TestBadgeForRank(t *testing.T) {
	want := map[int]Badge{1: BadgeGold, 2: BadgeSilver, 3: BadgeBronze, 4: BadgeNone, 0: BadgeNone}
	for rank, badge := range want {
		if got := BadgeForRank(rank); got != badge {
			t.Fatalf("rank %d: expected %q, got %q", rank, badge, got)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(errors.Join(errors.New("dial"), ErrStoreUnavailable)) {
		t.Fatal("expected store unavailable to be retryable")
	}
	if !IsRetryable(ErrConcurrencyConflict) {
		t.Fatal("expected concurrency conflict to be retryable")
	}
	if IsRetryable(ErrInvalidState) || IsRetryable(NewValidationError("amount", "bad")) {
		t.Fatal("expected terminal errors to be non-retryable")
	}
}
