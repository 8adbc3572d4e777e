package delivery

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
)

// Request is a fully formed delivery: who, what, and with which attachments.
type Request struct {
	// ID correlates attempts and status reports. Generated when empty.
	ID             string
	NotificationID string
	Channel        domain.NotificationType
	RequestID      string
	Recipients     []string
	Cc             []string
	Subject        string
	BodyText       string
	BodyHTML       string
	Headers        map[string]string
	Data           map[string]string
	Attachments    []domain.Attachment
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.NotificationID) == "" {
		return fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	if !r.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, r.Channel)
	}
	if len(r.Recipients) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", domain.ErrValidation)
	}
	for _, recipient := range r.Recipients {
		if strings.TrimSpace(recipient) == "" {
			return fmt.Errorf("%w: recipient must not be empty", domain.ErrValidation)
		}
	}
	if strings.TrimSpace(r.BodyText) == "" && strings.TrimSpace(r.BodyHTML) == "" {
		return fmt.Errorf("%w: body is required", domain.ErrValidation)
	}
	return nil
}

// Transport performs one delivery attempt.
type Transport interface {
	Send(ctx context.Context, req Request, attachments []domain.ResolvedAttachment) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req Request, attachments []domain.ResolvedAttachment) error

func (f TransportFunc) Send(ctx context.Context, req Request, attachments []domain.ResolvedAttachment) error {
	return f(ctx, req, attachments)
}
