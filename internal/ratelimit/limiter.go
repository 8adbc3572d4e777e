package ratelimit

import "context"

// RateLimiter throttles deliveries per channel across every worker process.
type RateLimiter interface {
	Allow(ctx context.Context, channel string) (bool, error)
	Wait(ctx context.Context, channel string) error
}

// Unlimited never throttles. Workers use it when RATE_LIMIT_PER_SEC is 0.
type Unlimited struct{}

func (Unlimited) Allow(ctx context.Context, channel string) (bool, error) {
	return ctx.Err() == nil, ctx.Err()
}

func (Unlimited) Wait(ctx context.Context, channel string) error {
	return ctx.Err()
}
