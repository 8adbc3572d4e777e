package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-pipeline/internal/domain"
	"github.com/kursadbilgin/notification-pipeline/internal/observability"
	"go.uber.org/zap"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffUnit = time.Second
	defaultBackoffCap  = 5 * time.Second
	defaultTimeout     = 30 * time.Second
)

// Outcome is the terminal result of one Deliver call.
type Outcome int

const (
	OutcomeDelivered Outcome = iota
	OutcomeFailed
)

func (o Outcome) String() string {
	if o == OutcomeDelivered {
		return "delivered"
	}
	return "failed"
}

// Result is returned instead of an error so callers can switch on the outcome.
// Retryable is set when the delivery was interrupted before it could spend its
// attempt budget; no terminal status has been reported in that case. Status is
// the terminal record that was reported, if any.
type Result struct {
	ID        string
	Outcome   Outcome
	Retryable bool
	Attempts  int
	Err       error
	Status    *domain.DeliveryStatus
}

func (r Result) Delivered() bool {
	return r.Outcome == OutcomeDelivered
}

// Reporter receives the terminal status of each delivery.
type Reporter interface {
	Report(ctx context.Context, status domain.DeliveryStatus)
}

type Resolver interface {
	Resolve(ctx context.Context, attachments []domain.Attachment) ([]domain.ResolvedAttachment, error)
}

type Config struct {
	MaxAttempts int
	BackoffUnit time.Duration
	BackoffCap  time.Duration
	// Timeout bounds each attempt separately from the backoff between attempts.
	Timeout time.Duration
}

// Executor performs a delivery with bounded retries. It does no broker I/O.
type Executor struct {
	transport Transport
	resolver  Resolver
	reporter  Reporter
	cfg       Config
	logger    *zap.Logger
	metrics   *observability.Metrics

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

func NewExecutor(transport Transport, resolver Resolver, reporter Reporter, cfg Config, logger *zap.Logger) (*Executor, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if resolver == nil {
		resolver = NewAttachmentResolver(cfg.Timeout)
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = defaultBackoffUnit
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = defaultBackoffCap
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Executor{
		transport: transport,
		resolver:  resolver,
		reporter:  reporter,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepContext,
		newID:     uuid.NewString,
	}, nil
}

func (e *Executor) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

// attempt tracks one in-memory delivery. It is discarded when Deliver returns.
type attempt struct {
	number  int
	max     int
	lastErr error
}

func (a attempt) exhausted() bool {
	return a.number >= a.max
}

// Deliver resolves attachments and sends req, retrying transient failures with
// capped exponential backoff. At most one terminal status is reported: none
// when the result is Retryable.
func (e *Executor) Deliver(ctx context.Context, req Request) Result {
	if strings.TrimSpace(req.ID) == "" {
		req.ID = e.newID()
	}
	logger := observability.WithContextLogger(e.logger, ctx).With(
		zap.String("deliveryId", req.ID),
		zap.String("notificationId", req.NotificationID),
		zap.String("channel", req.Channel.String()),
	)

	if err := req.Validate(); err != nil {
		logger.Warn("delivery rejected: invalid request", zap.Error(err))
		return e.finish(ctx, req, Result{ID: req.ID, Outcome: OutcomeFailed, Err: e.failure(req, 0, err)}, err)
	}

	attachments, err := e.resolver.Resolve(ctx, req.Attachments)
	if err != nil {
		retryable := !IsPermanent(err)
		logger.Warn("delivery rejected: attachment resolution failed", zap.Error(err), zap.Bool("retryable", retryable))
		return e.finish(ctx, req, Result{ID: req.ID, Outcome: OutcomeFailed, Retryable: retryable, Err: e.failure(req, 0, err)}, err)
	}

	state := attempt{max: e.cfg.MaxAttempts}
	for {
		state.number++
		err := e.send(ctx, req, attachments)
		if err == nil {
			logger.Info("delivery succeeded", zap.Int("attempt", state.number))
			return e.finish(ctx, req, Result{ID: req.ID, Outcome: OutcomeDelivered, Attempts: state.number}, nil)
		}

		state.lastErr = err
		logger.Warn("delivery attempt failed",
			zap.Int("attempt", state.number),
			zap.Int("maxAttempts", state.max),
			zap.Error(err),
		)

		if IsPermanent(err) {
			return e.finish(ctx, req, Result{ID: req.ID, Outcome: OutcomeFailed, Attempts: state.number, Err: e.failure(req, state.number, err)}, err)
		}
		if state.exhausted() || ctx.Err() != nil {
			break
		}
		if e.sleep(ctx, e.backoff(state.number)) != nil {
			break
		}
	}

	if !state.exhausted() {
		logger.Warn("delivery interrupted", zap.Int("attempts", state.number), zap.Error(state.lastErr))
		return e.finish(ctx, req, Result{
			ID:        req.ID,
			Outcome:   OutcomeFailed,
			Retryable: true,
			Attempts:  state.number,
			Err:       e.failure(req, state.number, state.lastErr),
		}, state.lastErr)
	}

	logger.Error("delivery failed", zap.Int("attempts", state.number), zap.Error(state.lastErr))
	return e.finish(ctx, req, Result{
		ID:       req.ID,
		Outcome:  OutcomeFailed,
		Attempts: state.number,
		Err:      e.failure(req, state.number, state.lastErr),
	}, state.lastErr)
}

func (e *Executor) send(ctx context.Context, req Request, attachments []domain.ResolvedAttachment) error {
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	start := e.now()
	err := e.transport.Send(attemptCtx, req, attachments)
	e.metrics.ObserveDeliveryAttempt(req.Channel.String(), err, e.now().Sub(start))
	return err
}

// backoff returns min(2^(n-1) * unit, cap) for the wait after attempt n.
func (e *Executor) backoff(n int) time.Duration {
	delay := e.cfg.BackoffUnit
	for i := 1; i < n; i++ {
		if delay >= e.cfg.BackoffCap {
			break
		}
		delay *= 2
	}
	if delay > e.cfg.BackoffCap {
		delay = e.cfg.BackoffCap
	}
	return delay
}

func (e *Executor) failure(req Request, attempts int, cause error) error {
	return fmt.Errorf("%w: %s after %d attempt(s): %v", domain.ErrDeliveryFailed, req.ID, attempts, cause)
}

func (e *Executor) finish(ctx context.Context, req Request, result Result, cause error) Result {
	if result.Retryable {
		return result
	}
	e.metrics.IncDelivery(req.Channel.String(), result.Outcome.String())

	status := domain.DeliveryStatus{
		NotificationID: req.NotificationID,
		Status:         domain.StatusDelivered,
		UpdatedAt:      e.now().UTC(),
		Attempts:       result.Attempts,
		Channel:        req.Channel,
		RequestID:      req.RequestID,
	}
	if result.Outcome == OutcomeFailed {
		status.Status = domain.StatusFailed
		msg := "unknown error"
		if cause != nil {
			msg = cause.Error()
		}
		status.Error = &msg
	}
	result.Status = &status

	if e.reporter != nil {
		// Reporting must not be canceled with the delivery it describes.
		e.reporter.Report(context.WithoutCancel(ctx), status)
	}
	return result
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
