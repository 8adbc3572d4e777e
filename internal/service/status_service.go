package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
	"github.com/kursadbilgin/notification-pipeline/internal/observability"
	"github.com/kursadbilgin/notification-pipeline/internal/queue"
	"github.com/kursadbilgin/notification-pipeline/internal/repository"
	"go.uber.org/zap"
)

const (
	targetStore = "store"
	targetCache = "cache"
)

// StatusService applies status messages from the status queue to the store
// and the cache. The store is the source of truth.
type StatusService struct {
	statuses repository.StatusRepository
	cache    StatusCache
	logger   *zap.Logger
	metrics  *observability.Metrics
}

func NewStatusService(statuses repository.StatusRepository, cache StatusCache, logger *zap.Logger) (*StatusService, error) {
	if statuses == nil {
		return nil, fmt.Errorf("status repository is required")
	}
	if cache == nil {
		return nil, fmt.Errorf("status cache is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StatusService{
		statuses: statuses,
		cache:    cache,
		logger:   logger,
	}, nil
}

func (s *StatusService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Handler decodes status messages and always acknowledges decoded ones;
// malformed bodies are dropped by the JSON decoder.
func (s *StatusService) Handler() queue.HandlerFunc {
	return queue.JSONHandler(s.logger, func(ctx context.Context, msg queue.Message, st domain.DeliveryStatus) queue.Outcome {
		_ = s.Apply(ctx, st)
		return queue.Ack
	})
}

// Apply upserts st and then caches whichever record won. The two writes are
// independent; failures are logged and returned joined.
func (s *StatusService) Apply(ctx context.Context, st domain.DeliveryStatus) error {
	logger := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("notificationId", st.NotificationID),
		zap.String("status", st.Status.String()),
	)

	var errs []error
	current := st

	applied, err := s.statuses.Upsert(ctx, st)
	s.metrics.ObserveStatusWrite(targetStore, err)
	switch {
	case err != nil:
		logger.Error("failed to persist status", zap.Error(err))
		errs = append(errs, err)
	case !applied:
		logger.Info("ignoring stale status update", zap.Time("updatedAt", st.UpdatedAt))
		winner, err := s.statuses.GetByID(ctx, st.NotificationID)
		if err != nil {
			logger.Warn("failed to load winning status, cache left unchanged", zap.Error(err))
			return errors.Join(append(errs, err)...)
		}
		current = winner
	}

	err = s.cache.Set(ctx, current)
	s.metrics.ObserveStatusWrite(targetCache, err)
	if err != nil {
		logger.Warn("failed to cache status", zap.Error(err))
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		logger.Debug("status applied")
	}
	return errors.Join(errs...)
}
