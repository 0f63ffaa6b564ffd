package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bonafide-ptnguyen/Mealathon/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisLeaderboardCache keeps rendered leaderboards as JSON with a short TTL.
type RedisLeaderboardCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisLeaderboardCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisLeaderboardCache {
	trimmed := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmed == "" {
		trimmed = "mealathon"
	}
	return &RedisLeaderboardCache{client: client, prefix: trimmed + ":leaderboard", ttl: ttl}
}

func (c *RedisLeaderboardCache) key(kind domain.LeaderboardKind, limit int) string {
	return fmt.Sprintf("%s:%s:%d", c.prefix, kind, limit)
}

func (c *RedisLeaderboardCache) Get(ctx context.Context, kind domain.LeaderboardKind, limit int) (*domain.Leaderboard, bool, error) {
	if c == nil || c.client == nil || c.ttl <= 0 {
		return nil, false, nil
	}
	raw, err := c.client.Get(ctx, c.key(kind, limit)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var board domain.Leaderboard
	if err := json.Unmarshal(raw, &board); err != nil {
		return nil, false, fmt.Errorf("decode cached leaderboard: %w", err)
	}
	return &board, true, nil
}

func (c *RedisLeaderboardCache) Set(ctx context.Context, board *domain.Leaderboard, limit int) error {
	if c == nil || c.client == nil || c.ttl <= 0 || board == nil {
		return nil
	}
	payload, err := json.Marshal(board)
	if err != nil {
		return fmt.Errorf("encode leaderboard: %w", err)
	}
	return c.client.Set(ctx, c.key(board.Kind, limit), payload, c.ttl).Err()
}
