// Package admission guards dispatch against the global rate cap and
// per-number cooldowns. State lives in Redis so horizontally scaled
// scheduler instances share one budget, and every check-and-record runs as
// a single Lua script to keep it atomic per key.
package admission

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	apperrors "github.com/acme/outbound-call-scheduler/pkg/errors"
)

// RateLimiter enforces a per-minute dispatch cap over a fixed window
// aligned to the minute boundary. A burst straddling the boundary can see
// up to 2x the cap across two adjacent windows; that is the accepted
// contract, not a bug.
type RateLimiter struct {
	client    *redis.Client
	keyPrefix string
	cap       int
}

// NewRateLimiter constructs a limiter with the given per-minute cap.
func NewRateLimiter(client *redis.Client, keyPrefix string, callsPerMinute int) *RateLimiter {
	if keyPrefix == "" {
		keyPrefix = "outbound"
	}
	return &RateLimiter{client: client, keyPrefix: keyPrefix, cap: callsPerMinute}
}

var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local cap = tonumber(ARGV[1])
local count = redis.call('INCR', key)
if count == 1 then
  redis.call('EXPIRE', key, 60)
end
if count > cap then
  return 0
end
return 1
`)

// Allow consumes one slot in the current minute bucket. Returns
// ErrRateLimited once the post-increment count exceeds the cap.
func (l *RateLimiter) Allow(ctx context.Context, now time.Time) error {
	if l.cap <= 0 {
		return nil
	}

	key := l.bucketKey(now)
	res, err := rateLimitScript.Run(ctx, l.client, []string{key}, l.cap).Int()
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	if res == 0 {
		return fmt.Errorf("%w: minute bucket %s is full", apperrors.ErrRateLimited, key)
	}
	return nil
}

func (l *RateLimiter) bucketKey(now time.Time) string {
	return fmt.Sprintf("%s:rate:%d", l.keyPrefix, now.Unix()/60)
}
