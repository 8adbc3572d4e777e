package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/kursadbilgin/notification-pipeline/internal/domain"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// MulticastSender is the part of *messaging.Client used for push delivery.
type MulticastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMTransport delivers push notifications through Firebase Cloud Messaging.
type FCMTransport struct {
	client MulticastSender
	logger *zap.Logger
}

func NewFCMTransport(ctx context.Context, projectID, credentialsFile string, logger *zap.Logger) (*FCMTransport, error) {
	var opts []option.ClientOption
	if strings.TrimSpace(credentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize fcm client: %w", err)
	}
	return NewFCMTransportWithClient(client, logger), nil
}

func NewFCMTransportWithClient(client MulticastSender, logger *zap.Logger) *FCMTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FCMTransport{client: client, logger: logger}
}

// Send succeeds when at least one device accepted the message. When every
// device fails, the error is permanent only if every failure is.
func (t *FCMTransport) Send(ctx context.Context, req Request, _ []domain.ResolvedAttachment) error {
	body := req.BodyText
	if body == "" {
		body = req.BodyHTML
	}

	message := &messaging.MulticastMessage{
		Tokens: req.Recipients,
		Notification: &messaging.Notification{
			Title: req.Subject,
			Body:  body,
		},
		Data: req.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: "default"},
			},
		},
	}

	resp, err := t.client.SendEachForMulticast(ctx, message)
	if err != nil {
		return RequestError("fcm request failed", err)
	}
	if resp.SuccessCount > 0 {
		if resp.FailureCount > 0 {
			t.logger.Warn("push delivered to a subset of devices",
				zap.String("notificationId", req.NotificationID),
				zap.Int("successCount", resp.SuccessCount),
				zap.Int("failureCount", resp.FailureCount),
			)
		}
		return nil
	}

	var errs []error
	permanent := true
	for _, r := range resp.Responses {
		if r == nil || r.Error == nil {
			continue
		}
		errs = append(errs, r.Error)
		if !messaging.IsUnregistered(r.Error) && !messaging.IsInvalidArgument(r.Error) {
			permanent = false
		}
	}
	if len(errs) == 0 {
		return &TransportError{Message: "fcm accepted no devices"}
	}
	return &TransportError{
		Message:   fmt.Sprintf("fcm rejected all %d device(s)", len(errs)),
		Permanent: permanent,
		Cause:     errors.Join(errs...),
	}
}
