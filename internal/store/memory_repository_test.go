package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bonafide-ptnguyen/Mealathon/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func seedCampaign(t *testing.T, repo *MemoryRepository, target string, status domain.CampaignStatus) domain.Campaign {
	t.Helper()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	c := domain.Campaign{
		ID:             uuid.New(),
		ProviderID:     "provider_1",
		CampaignName:   "Spring meals",
		RestaurantName: "Corner Bistro",
		TargetAmount:   decimal.RequireFromString(target),
		CostPerMeal:    decimal.RequireFromString("10"),
		TotalDonations: decimal.Zero,
		EndDate:        now.Add(24 * time.Hour),
		Status:         status,
		CreatedAt:      now,
	}
	if err := repo.CreateCampaign(context.Background(), &c); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	return c
}

func newDonation(campaignID uuid.UUID, donorID, key, amount string) *domain.Donation {
	return &domain.Donation{
		ID:             uuid.New(),
		CampaignID:     campaignID,
		DonorID:        donorID,
		DonorName:      donorID,
		Amount:         decimal.RequireFromString(amount),
		Timestamp:      time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
		IdempotencyKey: key,
	}
}

func TestMemoryRepository_InsertDonationIsIdempotentPerDonorKey(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	c := seedCampaign(t, repo, "100", domain.CampaignStatusActive)

	first, created, err := repo.InsertDonation(ctx, newDonation(c.ID, "donor_a", "k1", "25"))
	if err != nil || !created {
		t.Fatalf("expected first insert to create, created=%t err=%v", created, err)
	}
	replay, created, err := repo.InsertDonation(ctx, newDonation(c.ID, "donor_a", "k1", "25"))
	if err != nil {
		t.Fatalf("unexpected replay error: %v", err)
	}
	if created {
		t.Fatal("expected replay to return existing donation")
	}
	if replay.ID != first.ID {
		t.Fatalf("expected replay id %s, got %s", first.ID, replay.ID)
	}

	// Same key under a different donor partition is a distinct donation.
	_, created, err = repo.InsertDonation(ctx, newDonation(c.ID, "donor_b", "k1", "25"))
	if err != nil || !created {
		t.Fatalf("expected other donor insert to create, created=%t err=%v", created, err)
	}

	refs, err := repo.ListCampaignDonationRefs(ctx, c.ID, false, 0)
	if err != nil {
		t.Fatalf("list refs: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 index entries, got %d", len(refs))
	}
}

func TestMemoryRepository_InsertDonationRequiresCampaign(t *testing.T) {
	repo := NewMemoryRepository()
	_, _, err := repo.InsertDonation(context.Background(), newDonation(uuid.New(), "donor_a", "k1", "5"))
	if !errors.Is(err, ErrCampaignNotFound) {
		t.Fatalf("expected ErrCampaignNotFound, got %v", err)
	}
}

func TestMemoryRepository_IncrementCampaignTotalConcurrent(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	c := seedCampaign(t, repo, "0", domain.CampaignStatusActive)

	const workers = 50
	var wg sync.WaitGroup
	donationIDs := make([]uuid.UUID, workers)
	for i := range donationIDs {
		donationIDs[i] = uuid.New()
	}
	for i := 0; i < workers; i++ {
		wg.Add(2)
		id := donationIDs[i]
		// Each donation is applied twice concurrently; only one application may count.
		for j := 0; j < 2; j++ {
			go func() {
				defer wg.Done()
				if _, err := repo.IncrementCampaignTotal(ctx, c.ID, id, decimal.RequireFromString("1.50")); err != nil {
					t.Errorf("increment: %v", err)
				}
			}()
		}
	}
	wg.Wait()

	got, err := repo.FindCampaignByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("find campaign: %v", err)
	}
	want := decimal.RequireFromString("75")
	if !got.TotalDonations.Equal(want) {
		t.Fatalf("expected total %s, got %s", want, got.TotalDonations)
	}
}

func TestMemoryRepository_TransitionCampaignStatusIsCompareAndSet(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	c := seedCampaign(t, repo, "100", domain.CampaignStatusActive)
	at := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)

	won, err := repo.TransitionCampaignStatus(ctx, c.ID, domain.CampaignStatusActive, domain.CampaignStatusFailed, at)
	if err != nil || !won {
		t.Fatalf("expected first transition to win, won=%t err=%v", won, err)
	}
	won, err = repo.TransitionCampaignStatus(ctx, c.ID, domain.CampaignStatusActive, domain.CampaignStatusSuccessful, at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if won {
		t.Fatal("expected second transition to lose")
	}
	got, _ := repo.FindCampaignByID(ctx, c.ID)
	if got.Status != domain.CampaignStatusFailed {
		t.Fatalf("expected failed status to stick, got %s", got.Status)
	}
	if got.ClosedAt == nil || !got.ClosedAt.Equal(at) {
		t.Fatalf("expected closed_at %s, got %v", at, got.ClosedAt)
	}
}

func TestMemoryRepository_MarkDonationRefunded(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	c := seedCampaign(t, repo, "100", domain.CampaignStatusActive)
	d, _, err := repo.InsertDonation(ctx, newDonation(c.ID, "donor_a", "k1", "40"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	at := time.Date(2026, 5, 3, 9, 0, 0, 0, time.UTC)

	if _, err := repo.MarkDonationRefunded(ctx, d.DonorID, d.ID, at); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state while campaign is active, got %v", err)
	}

	if _, err := repo.TransitionCampaignStatus(ctx, c.ID, domain.CampaignStatusActive, domain.CampaignStatusFailed, at); err != nil {
		t.Fatalf("transition: %v", err)
	}
	changed, err := repo.MarkDonationRefunded(ctx, d.DonorID, d.ID, at)
	if err != nil || !changed {
		t.Fatalf("expected refund to apply, changed=%t err=%v", changed, err)
	}
	changed, err = repo.MarkDonationRefunded(ctx, d.DonorID, d.ID, at)
	if err != nil || changed {
		t.Fatalf("expected second refund to no-op, changed=%t err=%v", changed, err)
	}
	if _, err := repo.MarkDonationRefunded(ctx, d.DonorID, uuid.New(), at); !errors.Is(err, ErrDonationNotFound) {
		t.Fatalf("expected ErrDonationNotFound, got %v", err)
	}

	count, err := repo.CountUnrefundedDonations(ctx, c.ID)
	if err != nil || count != 0 {
		t.Fatalf("expected no unrefunded donations, count=%d err=%v", count, err)
	}
	stored, _ := repo.FindDonation(ctx, d.DonorID, d.ID)
	if !stored.Refunded || stored.RefundedAt == nil {
		t.Fatal("expected stored donation to be refunded with timestamp")
	}
}

func TestMemoryRepository_ListFailedCampaignsWithUnrefundedDonations(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	at := time.Date(2026, 5, 3, 9, 0, 0, 0, time.UTC)

	pending := seedCampaign(t, repo, "100", domain.CampaignStatusActive)
	done := seedCampaign(t, repo, "100", domain.CampaignStatusActive)
	active := seedCampaign(t, repo, "100", domain.CampaignStatusActive)

	_, _, _ = repo.InsertDonation(ctx, newDonation(pending.ID, "donor_a", "k1", "10"))
	d2, _, _ := repo.InsertDonation(ctx, newDonation(done.ID, "donor_a", "k2", "10"))
	_, _, _ = repo.InsertDonation(ctx, newDonation(active.ID, "donor_a", "k3", "10"))

	for _, id := range []uuid.UUID{pending.ID, done.ID} {
		if _, err := repo.TransitionCampaignStatus(ctx, id, domain.CampaignStatusActive, domain.CampaignStatusFailed, at); err != nil {
			t.Fatalf("transition: %v", err)
		}
	}
	if _, err := repo.MarkDonationRefunded(ctx, d2.DonorID, d2.ID, at); err != nil {
		t.Fatalf("refund: %v", err)
	}

	ids, err := repo.ListFailedCampaignsWithUnrefundedDonations(ctx, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != pending.ID {
		t.Fatalf("expected only %s, got %v", pending.ID, ids)
	}
}

func TestMemoryRepository_UpsertDonorAggregateAppliesOnce(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	first := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)
	d1, d2 := uuid.New(), uuid.New()

	for _, step := range []struct {
		id     uuid.UUID
		amount string
		at     time.Time
		want   bool
	}{
		{id: d1, amount: "20", at: first, want: true},
		{id: d1, amount: "20", at: first, want: false},
		{id: d2, amount: "5.25", at: second, want: true},
	} {
		applied, err := repo.UpsertDonorAggregate(ctx, step.id, "donor_a", "Ada", decimal.RequireFromString(step.amount), step.at)
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
		if applied != step.want {
			t.Fatalf("expected applied=%t, got %t", step.want, applied)
		}
	}

	agg, err := repo.FindDonorAggregate(ctx, "donor_a")
	if err != nil {
		t.Fatalf("find aggregate: %v", err)
	}
	if !agg.TotalDonatedAmount.Equal(decimal.RequireFromString("25.25")) {
		t.Fatalf("expected total 25.25, got %s", agg.TotalDonatedAmount)
	}
	if agg.DonationCount != 2 {
		t.Fatalf("expected 2 donations, got %d", agg.DonationCount)
	}
	if !agg.FirstDonationAt.Equal(first) || !agg.LastDonationAt.Equal(second) {
		t.Fatalf("unexpected donation window %s - %s", agg.FirstDonationAt, agg.LastDonationAt)
	}
}

func TestMemoryRepository_ListUnappliedDonations(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	c := seedCampaign(t, repo, "100", domain.CampaignStatusActive)

	applied, _, _ := repo.InsertDonation(ctx, newDonation(c.ID, "donor_a", "k1", "10"))
	halfApplied, _, _ := repo.InsertDonation(ctx, newDonation(c.ID, "donor_b", "k1", "10"))
	_, _, _ = repo.InsertDonation(ctx, newDonation(c.ID, "donor_c", "k1", "10"))

	_, _ = repo.IncrementCampaignTotal(ctx, c.ID, applied.ID, applied.Amount)
	_, _ = repo.UpsertDonorAggregate(ctx, applied.ID, applied.DonorID, applied.DonorName, applied.Amount, applied.Timestamp)
	_, _ = repo.IncrementCampaignTotal(ctx, c.ID, halfApplied.ID, halfApplied.Amount)

	got, err := repo.ListUnappliedDonations(ctx, applied.Timestamp, 10)
	if err != nil {
		t.Fatalf("list unapplied: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 unapplied donations, got %d", len(got))
	}
	for _, d := range got {
		if d.ID == applied.ID {
			t.Fatal("fully applied donation should not be listed")
		}
	}

	none, err := repo.ListUnappliedDonations(ctx, applied.Timestamp.Add(-time.Minute), 10)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected donations newer than cutoff to be skipped, got %d err=%v", len(none), err)
	}
}

func TestMemoryRepository_AppendDistributionUpdate(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	c := seedCampaign(t, repo, "0", domain.CampaignStatusActive)
	d, _, _ := repo.InsertDonation(ctx, newDonation(c.ID, "donor_a", "k1", "35"))
	_, _ = repo.IncrementCampaignTotal(ctx, c.ID, d.ID, d.Amount)

	update := domain.DistributionUpdate{Message: "Served lunch", Timestamp: time.Now().UTC(), ImageRefs: []string{"img-1"}}
	if _, err := repo.AppendDistributionUpdate(ctx, c.ID, "someone_else", update); !errors.Is(err, ErrCampaignNotUpdatable) {
		t.Fatalf("expected non-owner to be rejected, got %v", err)
	}
	got, err := repo.AppendDistributionUpdate(ctx, c.ID, c.ProviderID, update)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(got.DistributionUpdates) != 1 || got.DistributionUpdates[0].Message != "Served lunch" {
		t.Fatalf("unexpected updates %+v", got.DistributionUpdates)
	}
	if got.TotalMealsProvided != 3 {
		t.Fatalf("expected 3 meals provided, got %d", got.TotalMealsProvided)
	}

	_, _ = repo.TransitionCampaignStatus(ctx, c.ID, domain.CampaignStatusActive, domain.CampaignStatusFailed, time.Now().UTC())
	if _, err := repo.AppendDistributionUpdate(ctx, c.ID, c.ProviderID, update); !errors.Is(err, ErrCampaignNotUpdatable) {
		t.Fatalf("expected failed campaign to reject updates, got %v", err)
	}
}

func TestMemoryRepository_ListTopDonorsOrdering(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	at := time.Now().UTC()
	for i, entry := range []struct {
		id, name, amount string
	}{
		{"d1", "Zed", "50"},
		{"d2", "Amy", "50"},
		{"d3", "Bob", "70"},
		{"d4", "Cat", "5"},
	} {
		if _, err := repo.UpsertDonorAggregate(ctx, uuid.New(), entry.id, entry.name, decimal.RequireFromString(entry.amount), at.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	top, err := repo.ListTopDonors(ctx, 3)
	if err != nil {
		t.Fatalf("list top donors: %v", err)
	}
	var got []string
	for _, a := range top {
		got = append(got, a.DonorID)
	}
	if fmt.Sprint(got) != "[d3 d2 d1]" {
		t.Fatalf("unexpected ordering %v", got)
	}
}
