package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	defaultBreakerFailures = 5
	defaultBreakerInterval = time.Minute
	defaultBreakerTimeout  = 30 * time.Second
)

// BreakerConfig controls when a provider is considered down. The circuit opens
// after FailureThreshold consecutive transient failures and admits MaxRequests
// trial sends once Timeout has passed.
type BreakerConfig struct {
	MaxRequests      uint32
	FailureThreshold uint32
	Interval         time.Duration
	Timeout          time.Duration
}

// BreakerTransport stops calling a provider that keeps failing. Permanent
// errors are the caller's fault and do not count against the provider.
type BreakerTransport struct {
	next    Transport
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerTransport(name string, next Transport, cfg BreakerConfig, logger *zap.Logger) (*BreakerTransport, error) {
	if next == nil {
		return nil, fmt.Errorf("%w: transport is required", domain.ErrValidation)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = defaultBreakerFailures
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultBreakerInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultBreakerTimeout
	}

	threshold := cfg.FailureThreshold
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &BreakerTransport{next: next, breaker: breaker}, nil
}

// Send returns a retryable TransportError without calling the provider while
// the circuit is open.
func (b *BreakerTransport) Send(ctx context.Context, req Request, attachments []domain.ResolvedAttachment) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.next.Send(ctx, req, attachments)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &TransportError{Message: "provider circuit open", Cause: err}
	}
	return err
}

func (b *BreakerTransport) State() gobreaker.State {
	return b.breaker.State()
}
