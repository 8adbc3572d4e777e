package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-pipeline/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 100
	window                   = time.Second
	minWait                  = 5 * time.Millisecond
)

// reserveScript counts a hit in the current window and returns 0 when it fits
// under the limit, otherwise the milliseconds left until the window expires.
var reserveScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current <= tonumber(ARGV[1]) then
  return 0
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  return tonumber(ARGV[2])
end
return ttl
`)

var _ ratelimit.RateLimiter = (*DeliveryThrottle)(nil)

// DeliveryThrottle is a fixed-window limiter shared by every worker of a
// channel. A rejected caller learns how long the window has left and sleeps
// exactly that long instead of polling.
type DeliveryThrottle struct {
	client      goredis.UniversalClient
	limitPerSec int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewDeliveryThrottle(client goredis.UniversalClient, limitPerSec int) (*DeliveryThrottle, error) {
	return newDeliveryThrottle(client, int64(limitPerSec), time.Now, sleepWithContext)
}

func newDeliveryThrottle(
	client goredis.UniversalClient,
	limitPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*DeliveryThrottle, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}

	return &DeliveryThrottle{
		client:      client,
		limitPerSec: limitPerSec,
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

// Allow takes one slot if the current window has room.
func (t *DeliveryThrottle) Allow(ctx context.Context, channel string) (bool, error) {
	wait, err := t.reserve(ctx, channel)
	if err != nil {
		return false, err
	}
	return wait == 0, nil
}

// Wait blocks until a slot is taken or ctx ends.
func (t *DeliveryThrottle) Wait(ctx context.Context, channel string) error {
	for {
		wait, err := t.reserve(ctx, channel)
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}
		if err := t.sleep(ctx, max(wait, minWait)); err != nil {
			return err
		}
	}
}

func (t *DeliveryThrottle) reserve(ctx context.Context, channel string) (time.Duration, error) {
	channel = strings.ToLower(strings.TrimSpace(channel))
	if channel == "" {
		return 0, fmt.Errorf("channel is required")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	key := fmt.Sprintf("throttle:%s:%d", channel, t.now().UTC().Unix())
	ms, err := reserveScript.Run(ctx, t.client, []string{key}, t.limitPerSec, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate delivery throttle: %w", err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
