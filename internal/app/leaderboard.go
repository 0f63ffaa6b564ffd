package app

import (
	"context"
	"sort"

	"github.com/bonafide-ptnguyen/Mealathon/internal/domain"
)

// GetLeaderboard ranks campaigns by total raised or donors by total donated.
// Results may come from the leaderboard cache and can be slightly stale.
func (s *Service) GetLeaderboard(ctx context.Context, kind domain.LeaderboardKind, limit int) (*domain.Leaderboard, error) {
	if _, err := domain.ParseLeaderboardKind(string(kind)); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.opts.LeaderboardDefaultLimit
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}

	if s.cache != nil {
		board, ok, err := s.cache.Get(ctx, kind, limit)
		if err != nil {
			s.logger.Warn("leaderboard cache read failed", "kind", kind, "error", err)
		} else if ok {
			return board, nil
		}
	}

	var entries []domain.LeaderboardEntry
	switch kind {
	case domain.LeaderboardCampaigns:
		campaigns, err := withRetry(ctx, s.opts.Retry, func() ([]domain.Campaign, error) {
			return s.repo.ListTopCampaigns(ctx, limit)
		})
		if err != nil {
			return nil, err
		}
		entries = make([]domain.LeaderboardEntry, 0, len(campaigns))
		for _, c := range campaigns {
			entries = append(entries, domain.LeaderboardEntry{
				ID:     c.ID.String(),
				Name:   c.CampaignName,
				Total:  c.TotalDonations,
				Detail: c.RestaurantName,
			})
		}
	case domain.LeaderboardDonors:
		aggregates, err := withRetry(ctx, s.opts.Retry, func() ([]domain.DonorAggregate, error) {
			return s.repo.ListTopDonors(ctx, limit)
		})
		if err != nil {
			return nil, err
		}
		entries = make([]domain.LeaderboardEntry, 0, len(aggregates))
		for _, a := range aggregates {
			entries = append(entries, domain.LeaderboardEntry{
				ID:    a.DonorID,
				Name:  a.DonorName,
				Total: a.TotalDonatedAmount,
			})
		}
	}

	board := &domain.Leaderboard{
		Kind:        kind,
		Entries:     rankEntries(entries, limit),
		GeneratedAt: s.now(),
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, board, limit); err != nil {
			s.logger.Warn("leaderboard cache write failed", "kind", kind, "error", err)
		}
	}
	return board, nil
}

// rankEntries sorts by total descending, then name, then id, and assigns
// ranks 1..n with medals for the top three.
func rankEntries(entries []domain.LeaderboardEntry, limit int) []domain.LeaderboardEntry {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if cmp := a.Total.Cmp(b.Total); cmp != 0 {
			return cmp > 0
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
		entries[i].Badge = domain.BadgeForRank(i + 1)
	}
	return entries
}
