package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-pipeline/internal/domain"
	"github.com/kursadbilgin/notification-pipeline/internal/observability"
	"github.com/kursadbilgin/notification-pipeline/internal/queue"
	"github.com/kursadbilgin/notification-pipeline/internal/repository"
	"go.uber.org/zap"
)

// Publisher is satisfied by *queue.Publisher.
type Publisher interface {
	Publish(ctx context.Context, payload any, routingKeys ...string) queue.PublishResult
}

// StatusCache is satisfied by *redis.StatusCache.
type StatusCache interface {
	Get(ctx context.Context, notificationID string) (domain.DeliveryStatus, error)
	Set(ctx context.Context, s domain.DeliveryStatus) error
}

// NotificationService is the gateway's entry point: it publishes accepted
// notifications and answers status queries.
type NotificationService struct {
	publisher Publisher
	statuses  repository.StatusRepository
	cache     StatusCache
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

func NewNotificationService(
	publisher Publisher,
	statuses repository.StatusRepository,
	cache StatusCache,
	logger *zap.Logger,
) (*NotificationService, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if statuses == nil {
		return nil, fmt.Errorf("status repository is required")
	}
	if cache == nil {
		return nil, fmt.Errorf("status cache is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationService{
		publisher: publisher,
		statuses:  statuses,
		cache:     cache,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

// Submit assigns an id, validates msg, and publishes it with its type as the
// routing key. Delivery happens later; its outcome is only visible through GetStatus.
func (s *NotificationService) Submit(ctx context.Context, msg domain.NotificationMessage) (domain.NotificationMessage, error) {
	notificationType, err := domain.ParseNotificationType(msg.Type.String())
	if err != nil {
		return domain.NotificationMessage{}, err
	}
	msg.Type = notificationType
	msg.ID = s.newID()
	msg.CreatedAt = s.now().UTC()
	if strings.TrimSpace(msg.RequestID) == "" {
		_, msg.RequestID = observability.EnsureCorrelationID(ctx, "")
	}

	if err := msg.Validate(); err != nil {
		return domain.NotificationMessage{}, err
	}

	ctx, _ = observability.EnsureCorrelationID(ctx, msg.RequestID)
	logger := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("notificationId", msg.ID),
		zap.String("routingKey", msg.RoutingKey()),
	)

	result := s.publisher.Publish(ctx, msg, msg.RoutingKey())
	if err := result.Failure(); err != nil {
		logger.Error("failed to publish notification", zap.Error(err))
		if !errors.Is(err, domain.ErrBrokerUnavailable) && !errors.Is(err, domain.ErrValidation) {
			err = fmt.Errorf("%w: %v", domain.ErrBrokerUnavailable, err)
		}
		return domain.NotificationMessage{}, err
	}

	logger.Info("notification published", zap.String("messageId", result.MessageID))
	return msg, nil
}

// GetStatus reads through the cache: a hit is returned as is, a miss falls
// back to the store and refills the cache.
func (s *NotificationService) GetStatus(ctx context.Context, notificationID string) (domain.DeliveryStatus, error) {
	notificationID = strings.TrimSpace(notificationID)
	if notificationID == "" {
		return domain.DeliveryStatus{}, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	logger := observability.WithContextLogger(s.logger, ctx).With(zap.String("notificationId", notificationID))

	cached, err := s.cache.Get(ctx, notificationID)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		logger.Warn("status cache read failed, falling back to store", zap.Error(err))
	}

	status, err := s.statuses.GetByID(ctx, notificationID)
	if err != nil {
		return domain.DeliveryStatus{}, err
	}

	if err := s.cache.Set(ctx, status); err != nil {
		logger.Warn("failed to refill status cache", zap.Error(err))
	}
	return status, nil
}
