package delivery

import (
	"context"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
	"go.uber.org/zap"
)

// LogTransport records deliveries in the log instead of sending them. It backs
// local development when no provider credentials are configured.
type LogTransport struct {
	logger *zap.Logger
}

func NewLogTransport(logger *zap.Logger) *LogTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Send(ctx context.Context, req Request, attachments []domain.ResolvedAttachment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.logger.Info("notification delivered to log transport",
		zap.String("deliveryId", req.ID),
		zap.String("notificationId", req.NotificationID),
		zap.String("channel", req.Channel.String()),
		zap.Strings("recipients", req.Recipients),
		zap.String("subject", req.Subject),
		zap.Int("attachments", len(attachments)),
	)
	return nil
}
