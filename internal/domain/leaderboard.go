package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LeaderboardKind selects which projection a leaderboard ranks.
type LeaderboardKind string

const (
	LeaderboardCampaigns LeaderboardKind = "campaigns"
	LeaderboardDonors    LeaderboardKind = "donors"
)

// ParseLeaderboardKind accepts "campaigns" or "donors" in any case.
func ParseLeaderboardKind(raw string) (LeaderboardKind, error) {
	switch kind := LeaderboardKind(strings.ToLower(strings.TrimSpace(raw))); kind {
	case LeaderboardCampaigns, LeaderboardDonors:
		return kind, nil
	default:
		return "", NewValidationError("kind", "leaderboard kind must be campaigns or donors")
	}
}

// Badge is the medal shown next to the top three entries.
type Badge string

const (
	BadgeNone   Badge = ""
	BadgeGold   Badge = "gold"
	BadgeSilver Badge = "silver"
	BadgeBronze Badge = "bronze"
)

// BadgeForRank maps ranks 1-3 to medals.
func BadgeForRank(rank int) Badge {
	switch rank {
	case 1:
		return BadgeGold
	case 2:
		return BadgeSilver
	case 3:
		return BadgeBronze
	default:
		return BadgeNone
	}
}

// LeaderboardEntry is one ranked row. ID is a campaign id or a donor id.
type LeaderboardEntry struct {
	Rank   int             `json:"rank"`
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Total  decimal.Decimal `json:"total"`
	Badge  Badge           `json:"badge,omitempty"`
	Detail string          `json:"detail,omitempty"`
}

// Leaderboard is a ranked snapshot, possibly served from cache.
type Leaderboard struct {
	Kind        LeaderboardKind    `json:"kind"`
	Entries     []LeaderboardEntry `json:"entries"`
	GeneratedAt time.Time          `json:"generated_at"`
}
