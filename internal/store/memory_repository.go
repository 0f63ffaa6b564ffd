package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bonafide-ptnguyen/Mealathon/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryRepository is an in-process Repository used for local runs and tests.
// Every campaign, donor partition and campaign index has its own mutex. The
// map lock is held only to look up or insert an entry. Entry locks nest only
// as donor partition then campaign index (InsertDonation) or donor partition
// then campaign (ListUnappliedDonations).
type MemoryRepository struct {
	mu        sync.RWMutex
	campaigns map[uuid.UUID]*campaignEntry
	donors    map[string]*donorEntry
	indexes   map[uuid.UUID]*indexEntry
}

type campaignEntry struct {
	mu       sync.Mutex
	campaign domain.Campaign
	applied  map[uuid.UUID]struct{}
}

type donorEntry struct {
	mu        sync.Mutex
	donations map[uuid.UUID]*domain.Donation
	byKey     map[string]uuid.UUID
	order     []uuid.UUID
	aggregate *domain.DonorAggregate
	applied   map[uuid.UUID]struct{}
}

type indexEntry struct {
	mu   sync.Mutex
	refs []indexRef
}

type indexRef struct {
	donorID    string
	donationID uuid.UUID
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		campaigns: make(map[uuid.UUID]*campaignEntry),
		donors:    make(map[string]*donorEntry),
		indexes:   make(map[uuid.UUID]*indexEntry),
	}
}

func (r *MemoryRepository) campaign(id uuid.UUID) (*campaignEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.campaigns[id]
	return entry, ok
}

func (r *MemoryRepository) donor(donorID string, create bool) *donorEntry {
	r.mu.RLock()
	entry, ok := r.donors[donorID]
	r.mu.RUnlock()
	if ok || !create {
		return entry
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok = r.donors[donorID]; ok {
		return entry
	}
	entry = &donorEntry{
		donations: make(map[uuid.UUID]*domain.Donation),
		byKey:     make(map[string]uuid.UUID),
		applied:   make(map[uuid.UUID]struct{}),
	}
	r.donors[donorID] = entry
	return entry
}

func (r *MemoryRepository) index(campaignID uuid.UUID, create bool) *indexEntry {
	r.mu.RLock()
	entry, ok := r.indexes[campaignID]
	r.mu.RUnlock()
	if ok || !create {
		return entry
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok = r.indexes[campaignID]; ok {
		return entry
	}
	entry = &indexEntry{}
	r.indexes[campaignID] = entry
	return entry
}

func (r *MemoryRepository) campaignSnapshot() []*campaignEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]*campaignEntry, 0, len(r.campaigns))
	for _, entry := range r.campaigns {
		entries = append(entries, entry)
	}
	return entries
}

func (r *MemoryRepository) donorSnapshot() []*donorEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]*donorEntry, 0, len(r.donors))
	for _, entry := range r.donors {
		entries = append(entries, entry)
	}
	return entries
}

func (r *MemoryRepository) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.campaigns[c.ID]; exists {
		return fmt.Errorf("create campaign: duplicate id %s", c.ID)
	}
	stored := cloneCampaign(*c)
	stored.DistributionUpdates = nonNilUpdates(stored.DistributionUpdates)
	stored.UpdatedAt = stored.CreatedAt
	r.campaigns[c.ID] = &campaignEntry{campaign: stored, applied: make(map[uuid.UUID]struct{})}
	c.UpdatedAt = c.CreatedAt
	return nil
}

func (r *MemoryRepository) FindCampaignByID(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry, ok := r.campaign(campaignID)
	if !ok {
		return nil, ErrCampaignNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	c := cloneCampaign(entry.campaign)
	return &c, nil
}

func (r *MemoryRepository) ListCampaigns(ctx context.Context, filter domain.CampaignFilter) ([]domain.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	campaigns := make([]domain.Campaign, 0)
	for _, entry := range r.campaignSnapshot() {
		entry.mu.Lock()
		c := entry.campaign
		match := (filter.Status == "" || c.Status == filter.Status) &&
			(filter.ProviderID == "" || c.ProviderID == filter.ProviderID) &&
			(filter.EndingAtOrBefore == nil || !c.EndDate.After(*filter.EndingAtOrBefore))
		if match {
			campaigns = append(campaigns, cloneCampaign(c))
		}
		entry.mu.Unlock()
	}

	if filter.EndingAtOrBefore != nil {
		sort.Slice(campaigns, func(i, j int) bool {
			if !campaigns[i].EndDate.Equal(campaigns[j].EndDate) {
				return campaigns[i].EndDate.Before(campaigns[j].EndDate)
			}
			return campaigns[i].ID.String() < campaigns[j].ID.String()
		})
	} else {
		sort.Slice(campaigns, func(i, j int) bool {
			if !campaigns[i].CreatedAt.Equal(campaigns[j].CreatedAt) {
				return campaigns[i].CreatedAt.After(campaigns[j].CreatedAt)
			}
			return campaigns[i].ID.String() < campaigns[j].ID.String()
		})
	}
	return truncate(campaigns, filter.Limit), nil
}

func (r *MemoryRepository) ListTopCampaigns(ctx context.Context, limit int) ([]domain.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	campaigns := make([]domain.Campaign, 0)
	for _, entry := range r.campaignSnapshot() {
		entry.mu.Lock()
		campaigns = append(campaigns, cloneCampaign(entry.campaign))
		entry.mu.Unlock()
	}
	sort.Slice(campaigns, func(i, j int) bool {
		a, b := campaigns[i], campaigns[j]
		if cmp := a.TotalDonations.Cmp(b.TotalDonations); cmp != 0 {
			return cmp > 0
		}
		if a.CampaignName != b.CampaignName {
			return a.CampaignName < b.CampaignName
		}
		return a.ID.String() < b.ID.String()
	})
	return truncate(campaigns, limit), nil
}

func (r *MemoryRepository) IncrementCampaignTotal(ctx context.Context, campaignID, donationID uuid.UUID, amount decimal.Decimal) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	entry, ok := r.campaign(campaignID)
	if !ok {
		return false, ErrCampaignNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if _, done := entry.applied[donationID]; done {
		return false, nil
	}
	entry.applied[donationID] = struct{}{}
	entry.campaign.TotalDonations = entry.campaign.TotalDonations.Add(amount)
	entry.campaign.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryRepository) TransitionCampaignStatus(ctx context.Context, campaignID uuid.UUID, from, to domain.CampaignStatus, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	entry, ok := r.campaign(campaignID)
	if !ok {
		return false, ErrCampaignNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.campaign.Status != from {
		return false, nil
	}
	closedAt := at
	entry.campaign.Status = to
	entry.campaign.ClosedAt = &closedAt
	entry.campaign.UpdatedAt = at
	return true, nil
}

func (r *MemoryRepository) AppendDistributionUpdate(ctx context.Context, campaignID uuid.UUID, providerID string, update domain.DistributionUpdate) (*domain.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry, ok := r.campaign(campaignID)
	if !ok {
		return nil, ErrCampaignNotUpdatable
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.campaign.ProviderID != providerID || entry.campaign.Status == domain.CampaignStatusFailed {
		return nil, ErrCampaignNotUpdatable
	}
	update.ImageRefs = append([]string(nil), update.ImageRefs...)
	entry.campaign.DistributionUpdates = append(entry.campaign.DistributionUpdates, update)
	entry.campaign.TotalMealsProvided = entry.campaign.MealsPossible()
	entry.campaign.UpdatedAt = update.Timestamp
	c := cloneCampaign(entry.campaign)
	return &c, nil
}

func (r *MemoryRepository) InsertDonation(ctx context.Context, d *domain.Donation) (*domain.Donation, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if _, ok := r.campaign(d.CampaignID); !ok {
		return nil, false, ErrCampaignNotFound
	}

	donor := r.donor(d.DonorID, true)
	donor.mu.Lock()
	defer donor.mu.Unlock()

	if existingID, ok := donor.byKey[d.IdempotencyKey]; ok {
		existing := *donor.donations[existingID]
		return &existing, false, nil
	}

	stored := *d
	stored.Refunded = false
	stored.RefundedAt = nil
	donor.donations[stored.ID] = &stored
	donor.byKey[stored.IdempotencyKey] = stored.ID
	donor.order = append(donor.order, stored.ID)

	idx := r.index(stored.CampaignID, true)
	idx.mu.Lock()
	idx.refs = append(idx.refs, indexRef{donorID: stored.DonorID, donationID: stored.ID})
	idx.mu.Unlock()

	out := stored
	return &out, true, nil
}

func (r *MemoryRepository) FindDonation(ctx context.Context, donorID string, donationID uuid.UUID) (*domain.Donation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	donor := r.donor(donorID, false)
	if donor == nil {
		return nil, ErrDonationNotFound
	}
	donor.mu.Lock()
	defer donor.mu.Unlock()
	d, ok := donor.donations[donationID]
	if !ok {
		return nil, ErrDonationNotFound
	}
	out := *d
	return &out, nil
}

func (r *MemoryRepository) FindDonationByIdempotencyKey(ctx context.Context, donorID, idempotencyKey string) (*domain.Donation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	donor := r.donor(donorID, false)
	if donor == nil {
		return nil, ErrDonationNotFound
	}
	donor.mu.Lock()
	defer donor.mu.Unlock()
	id, ok := donor.byKey[idempotencyKey]
	if !ok {
		return nil, ErrDonationNotFound
	}
	out := *donor.donations[id]
	return &out, nil
}

func (r *MemoryRepository) ListDonationsByDonor(ctx context.Context, donorID string, limit int) ([]domain.Donation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	donations := make([]domain.Donation, 0)
	donor := r.donor(donorID, false)
	if donor == nil {
		return donations, nil
	}
	donor.mu.Lock()
	for i := len(donor.order) - 1; i >= 0; i-- {
		donations = append(donations, *donor.donations[donor.order[i]])
	}
	donor.mu.Unlock()
	sort.SliceStable(donations, func(i, j int) bool {
		return donations[i].Timestamp.After(donations[j].Timestamp)
	})
	return truncate(donations, limit), nil
}

func (r *MemoryRepository) ListCampaignDonationRefs(ctx context.Context, campaignID uuid.UUID, unrefundedOnly bool, limit int) ([]domain.DonationRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.collectRefs(campaignID, unrefundedOnly, normalizeLimit(limit)), nil
}

func (r *MemoryRepository) collectRefs(campaignID uuid.UUID, unrefundedOnly bool, capacity int) []domain.DonationRef {
	refs := make([]domain.DonationRef, 0)
	idx := r.index(campaignID, false)
	if idx == nil {
		return refs
	}
	idx.mu.Lock()
	entries := append([]indexRef(nil), idx.refs...)
	idx.mu.Unlock()

	for _, entry := range entries {
		if len(refs) >= capacity {
			break
		}
		donor := r.donor(entry.donorID, false)
		if donor == nil {
			continue
		}
		donor.mu.Lock()
		d, ok := donor.donations[entry.donationID]
		var ref domain.DonationRef
		if ok {
			ref = domain.DonationRef{DonorID: d.DonorID, DonationID: d.ID, Amount: d.Amount, Refunded: d.Refunded}
		}
		donor.mu.Unlock()
		if !ok || (unrefundedOnly && ref.Refunded) {
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

func (r *MemoryRepository) MarkDonationRefunded(ctx context.Context, donorID string, donationID uuid.UUID, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	donor := r.donor(donorID, false)
	if donor == nil {
		return false, ErrDonationNotFound
	}

	donor.mu.Lock()
	d, ok := donor.donations[donationID]
	var campaignID uuid.UUID
	if ok {
		campaignID = d.CampaignID
	}
	donor.mu.Unlock()
	if !ok {
		return false, ErrDonationNotFound
	}

	// Failed is terminal, so the status read cannot go stale before the CAS below.
	failed := false
	if entry, exists := r.campaign(campaignID); exists {
		entry.mu.Lock()
		failed = entry.campaign.Status == domain.CampaignStatusFailed
		entry.mu.Unlock()
	}

	donor.mu.Lock()
	defer donor.mu.Unlock()
	if d.Refunded {
		return false, nil
	}
	if !failed {
		return false, fmt.Errorf("refund donation %s: campaign is not failed: %w", donationID, domain.ErrInvalidState)
	}
	refundedAt := at
	d.Refunded = true
	d.RefundedAt = &refundedAt
	return true, nil
}

func (r *MemoryRepository) CountUnrefundedDonations(ctx context.Context, campaignID uuid.UUID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return len(r.collectRefs(campaignID, true, math.MaxInt)), nil
}

func (r *MemoryRepository) ListFailedCampaignsWithUnrefundedDonations(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0)
	for _, entry := range r.campaignSnapshot() {
		entry.mu.Lock()
		id, failed := entry.campaign.ID, entry.campaign.Status == domain.CampaignStatusFailed
		entry.mu.Unlock()
		if !failed {
			continue
		}
		if len(r.collectRefs(id, true, 1)) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return truncate(ids, limit), nil
}

func (r *MemoryRepository) ListUnappliedDonations(ctx context.Context, olderThan time.Time, limit int) ([]domain.Donation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	candidates := make([]domain.Donation, 0)
	for _, donor := range r.donorSnapshot() {
		donor.mu.Lock()
		for _, id := range donor.order {
			d := donor.donations[id]
			if d.Timestamp.After(olderThan) {
				continue
			}
			_, donorApplied := donor.applied[id]
			if !donorApplied || !r.campaignApplied(d.CampaignID, id) {
				candidates = append(candidates, *d)
			}
		}
		donor.mu.Unlock()
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].Timestamp.Equal(candidates[j].Timestamp) {
			return candidates[i].Timestamp.Before(candidates[j].Timestamp)
		}
		return candidates[i].ID.String() < candidates[j].ID.String()
	})
	return truncate(candidates, limit), nil
}

// campaignApplied is called with a donor lock held; donor then campaign is the
// only order used for this pair.
func (r *MemoryRepository) campaignApplied(campaignID, donationID uuid.UUID) bool {
	entry, ok := r.campaign(campaignID)
	if !ok {
		return false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	_, done := entry.applied[donationID]
	return done
}

func (r *MemoryRepository) UpsertDonorAggregate(ctx context.Context, donationID uuid.UUID, donorID, donorName string, amount decimal.Decimal, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	donor := r.donor(donorID, true)
	donor.mu.Lock()
	defer donor.mu.Unlock()
	if _, done := donor.applied[donationID]; done {
		return false, nil
	}
	donor.applied[donationID] = struct{}{}

	agg := donor.aggregate
	if agg == nil {
		donor.aggregate = &domain.DonorAggregate{
			DonorID:            donorID,
			DonorName:          donorName,
			TotalDonatedAmount: amount,
			DonationCount:      1,
			FirstDonationAt:    at,
			LastDonationAt:     at,
		}
		return true, nil
	}
	if strings.TrimSpace(donorName) != "" {
		agg.DonorName = donorName
	}
	agg.TotalDonatedAmount = agg.TotalDonatedAmount.Add(amount)
	agg.DonationCount++
	if at.Before(agg.FirstDonationAt) {
		agg.FirstDonationAt = at
	}
	if at.After(agg.LastDonationAt) {
		agg.LastDonationAt = at
	}
	return true, nil
}

func (r *MemoryRepository) FindDonorAggregate(ctx context.Context, donorID string) (*domain.DonorAggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	donor := r.donor(donorID, false)
	if donor == nil {
		return nil, ErrDonorAggregateNotFound
	}
	donor.mu.Lock()
	defer donor.mu.Unlock()
	if donor.aggregate == nil {
		return nil, ErrDonorAggregateNotFound
	}
	out := *donor.aggregate
	return &out, nil
}

func (r *MemoryRepository) ListTopDonors(ctx context.Context, limit int) ([]domain.DonorAggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	aggregates := make([]domain.DonorAggregate, 0)
	for _, donor := range r.donorSnapshot() {
		donor.mu.Lock()
		if donor.aggregate != nil {
			aggregates = append(aggregates, *donor.aggregate)
		}
		donor.mu.Unlock()
	}
	sort.Slice(aggregates, func(i, j int) bool {
		a, b := aggregates[i], aggregates[j]
		if cmp := a.TotalDonatedAmount.Cmp(b.TotalDonatedAmount); cmp != 0 {
			return cmp > 0
		}
		if a.DonorName != b.DonorName {
			return a.DonorName < b.DonorName
		}
		return a.DonorID < b.DonorID
	})
	return truncate(aggregates, limit), nil
}

func cloneCampaign(c domain.Campaign) domain.Campaign {
	if c.DistributionUpdates != nil {
		updates := make([]domain.DistributionUpdate, len(c.DistributionUpdates))
		for i, u := range c.DistributionUpdates {
			u.ImageRefs = append([]string(nil), u.ImageRefs...)
			updates[i] = u
		}
		c.DistributionUpdates = updates
	}
	if c.ClosedAt != nil {
		closedAt := *c.ClosedAt
		c.ClosedAt = &closedAt
	}
	return c
}

func truncate[T any](items []T, limit int) []T {
	n := normalizeLimit(limit)
	if len(items) > n {
		return items[:n]
	}
	return items
}
