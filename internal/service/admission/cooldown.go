package admission

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	apperrors "github.com/acme/outbound-call-scheduler/pkg/errors"
)

// CooldownGuard enforces minimum spacing between successive calls to the
// same number. The last-dispatch timestamp per number is kept in Redis with
// a TTL equal to the cooldown period.
type CooldownGuard struct {
	client    *redis.Client
	keyPrefix string
	period    time.Duration
}

// NewCooldownGuard constructs a guard with the given cooldown period.
func NewCooldownGuard(client *redis.Client, keyPrefix string, period time.Duration) *CooldownGuard {
	if keyPrefix == "" {
		keyPrefix = "outbound"
	}
	return &CooldownGuard{client: client, keyPrefix: keyPrefix, period: period}
}

var reserveScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local period = tonumber(ARGV[2])
local last = tonumber(redis.call('GET', key) or '0')
if last > 0 and (now - last) < period then
  return last
end
redis.call('SET', key, now, 'EX', period)
return 0
`)

// Reserve records `now` as the number's last-dispatch time unless a prior
// dispatch happened inside the cooldown window, in which case the existing
// timestamp wins and ErrCooldownViolation is returned. Check and record are
// one atomic step so two instances cannot both admit the same number.
func (g *CooldownGuard) Reserve(ctx context.Context, phone string, now time.Time) error {
	if g.period <= 0 {
		return nil
	}

	key := g.key(phone)
	last, err := reserveScript.Run(ctx, g.client, []string{key},
		now.Unix(), int64(g.period/time.Second)).Int64()
	if err != nil {
		return fmt.Errorf("cooldown guard: %w", err)
	}
	if last > 0 {
		wait := g.period - now.Sub(time.Unix(last, 0))
		return fmt.Errorf("%w: %s dispatched %s ago, retry in %s",
			apperrors.ErrCooldownViolation, phone, now.Sub(time.Unix(last, 0)).Round(time.Second), wait.Round(time.Second))
	}
	return nil
}

// Release drops a reservation taken by Reserve, used when scheduling fails
// after the reservation was made.
func (g *CooldownGuard) Release(ctx context.Context, phone string) error {
	if err := g.client.Del(ctx, g.key(phone)).Err(); err != nil {
		return fmt.Errorf("cooldown guard: release: %w", err)
	}
	return nil
}

// Mark unconditionally records a dispatch to the number at `now`.
func (g *CooldownGuard) Mark(ctx context.Context, phone string, now time.Time) error {
	if g.period <= 0 {
		return nil
	}
	if err := g.client.Set(ctx, g.key(phone), now.Unix(), g.period).Err(); err != nil {
		return fmt.Errorf("cooldown guard: mark: %w", err)
	}
	return nil
}

func (g *CooldownGuard) key(phone string) string {
	return g.keyPrefix + ":cooldown:" + phone
}
