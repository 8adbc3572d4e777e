package status

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/notification-pipeline/internal/delivery"
	"github.com/kursadbilgin/notification-pipeline/internal/domain"
	"github.com/kursadbilgin/notification-pipeline/internal/observability"
	"github.com/kursadbilgin/notification-pipeline/internal/queue"
	"go.uber.org/zap"
)

const (
	targetStatusQueue = "status_queue"
	targetFailedQueue = "failed_queue"
)

// Publisher is satisfied by *queue.Publisher.
type Publisher interface {
	Publish(ctx context.Context, payload any, routingKeys ...string) queue.PublishResult
}

var _ delivery.Reporter = (*Reporter)(nil)

// Reporter publishes delivery outcomes to the status queue and copies dropped
// notifications to the failed queue. Publish errors are logged and never returned.
type Reporter struct {
	statuses    Publisher
	failures    Publisher
	statusQueue string
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// NewReporter takes a publisher on the default exchange for the status queue
// and one on the notifications exchange for the failed routing key.
func NewReporter(statuses, failures Publisher, statusQueue string, logger *zap.Logger) (*Reporter, error) {
	if statuses == nil {
		return nil, fmt.Errorf("status publisher is required")
	}
	if failures == nil {
		return nil, fmt.Errorf("failure publisher is required")
	}
	if strings.TrimSpace(statusQueue) == "" {
		return nil, fmt.Errorf("status queue name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reporter{
		statuses:    statuses,
		failures:    failures,
		statusQueue: statusQueue,
		logger:      logger,
	}, nil
}

func (r *Reporter) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

func (r *Reporter) Report(ctx context.Context, s domain.DeliveryStatus) {
	logger, ok := r.prepare(ctx, s)
	if !ok {
		return
	}
	r.observe(logger, targetStatusQueue, r.statuses.Publish(ctx, s, r.statusQueue))
}

// ReportDropped copies the final failed status of a message that will not be
// redelivered to the failed queue for triage.
func (r *Reporter) ReportDropped(ctx context.Context, s domain.DeliveryStatus) {
	logger, ok := r.prepare(ctx, s)
	if !ok {
		return
	}
	if s.Status != domain.StatusFailed {
		logger.Error("dropped status not reported: status is not failed")
		return
	}
	r.observe(logger, targetFailedQueue, r.failures.Publish(ctx, s, queue.RoutingKeyFailed))
}

func (r *Reporter) prepare(ctx context.Context, s domain.DeliveryStatus) (*zap.Logger, bool) {
	logger := observability.WithContextLogger(r.logger, ctx).With(
		zap.String("notificationId", s.NotificationID),
		zap.String("status", s.Status.String()),
	)
	if err := s.Validate(); err != nil {
		logger.Error("status not reported: invalid record", zap.Error(err))
		return logger, false
	}
	return logger, true
}

func (r *Reporter) observe(logger *zap.Logger, target string, result queue.PublishResult) {
	err := result.Failure()
	r.metrics.ObserveStatusWrite(target, err)
	if err != nil {
		logger.Error("failed to publish status", zap.String("target", target), zap.Error(err))
		return
	}
	logger.Debug("status published", zap.String("target", target), zap.String("messageId", result.MessageID))
}
