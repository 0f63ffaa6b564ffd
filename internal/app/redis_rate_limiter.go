package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bonafide-ptnguyen/Mealathon/internal/domain"
	"github.com/redis/go-redis/v9"
)

// donationWindowScript counts a donation attempt and returns the count and the
// remaining window in milliseconds. The window starts at the first attempt.
var donationWindowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

// RedisRateLimiter throttles donation attempts per donor across API replicas.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "mealathon"
	}
	return &RedisRateLimiter{client: client, prefix: prefix}
}

func (r *RedisRateLimiter) key(donorID string, window time.Duration) string {
	return fmt.Sprintf("%s:donations:%s:%ds", r.prefix, donorID, int64(window/time.Second))
}

// AllowDonation counts one attempt for donorID. It returns a
// *domain.RateLimitError once more than limit attempts land in the window, and
// the raw Redis error when the counter could not be read.
func (r *RedisRateLimiter) AllowDonation(ctx context.Context, donorID string, limit int, window time.Duration) error {
	donorID = strings.TrimSpace(donorID)
	if r == nil || r.client == nil || limit <= 0 || donorID == "" {
		return nil
	}
	if window < time.Second {
		window = time.Second
	}

	raw, err := donationWindowScript.Run(ctx, r.client, []string{r.key(donorID, window)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return fmt.Errorf("donation rate limiter: %w", err)
	}
	count, remaining, err := windowState(raw, window)
	if err != nil {
		return err
	}
	if count > int64(limit) {
		return &domain.RateLimitError{DonorID: donorID, Limit: limit, RetryAfter: remaining}
	}
	return nil
}

// windowState decodes the script reply. A key without a TTL is treated as a
// fresh window.
func windowState(raw []int64, window time.Duration) (int64, time.Duration, error) {
	if len(raw) != 2 {
		return 0, 0, fmt.Errorf("donation rate limiter: unexpected reply %v", raw)
	}
	remaining := time.Duration(raw[1]) * time.Millisecond
	if raw[1] < 0 {
		remaining = window
	}
	return raw[0], remaining, nil
}
