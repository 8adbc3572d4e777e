package delivery

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
	"github.com/mrz1836/postmark"
)

const (
	postmarkErrMaintenance = 100
	postmarkErrRateLimited = 429
)

// PostmarkSender is the part of *postmark.Client used for delivery.
type PostmarkSender interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// PostmarkTransport delivers email through the Postmark API.
type PostmarkTransport struct {
	client PostmarkSender
	from   string
}

func NewPostmarkTransport(serverToken, accountToken, from string) (*PostmarkTransport, error) {
	if strings.TrimSpace(serverToken) == "" {
		return nil, fmt.Errorf("%w: postmark server token is required", domain.ErrValidation)
	}
	return NewPostmarkTransportWithClient(postmark.NewClient(serverToken, accountToken), from)
}

func NewPostmarkTransportWithClient(client PostmarkSender, from string) (*PostmarkTransport, error) {
	if client == nil {
		return nil, fmt.Errorf("postmark client is required")
	}
	if strings.TrimSpace(from) == "" {
		return nil, fmt.Errorf("%w: sender address is required", domain.ErrValidation)
	}
	return &PostmarkTransport{client: client, from: from}, nil
}

func (t *PostmarkTransport) Send(ctx context.Context, req Request, attachments []domain.ResolvedAttachment) error {
	email := postmark.Email{
		From:     t.from,
		To:       strings.Join(req.Recipients, ","),
		Cc:       strings.Join(req.Cc, ","),
		Subject:  req.Subject,
		HTMLBody: req.BodyHTML,
		TextBody: req.BodyText,
		Tag:      req.Channel.String(),
		Metadata: map[string]string{
			"notification_id": req.NotificationID,
			"delivery_id":     req.ID,
		},
	}

	headerNames := make([]string, 0, len(req.Headers))
	for name := range req.Headers {
		headerNames = append(headerNames, name)
	}
	sort.Strings(headerNames)
	for _, name := range headerNames {
		email.Headers = append(email.Headers, postmark.Header{Name: name, Value: req.Headers[name]})
	}

	for _, a := range attachments {
		email.Attachments = append(email.Attachments, postmark.Attachment{
			Name:        a.Filename,
			Content:     base64.StdEncoding.EncodeToString(a.Data),
			ContentType: a.ContentType,
		})
	}

	resp, err := t.client.SendEmail(ctx, email)
	if err != nil {
		return RequestError("postmark request failed", err)
	}
	if resp.ErrorCode > 0 {
		return &TransportError{
			StatusCode: int(resp.ErrorCode),
			Message:    fmt.Sprintf("postmark error %d: %s", resp.ErrorCode, resp.Message),
			Permanent:  resp.ErrorCode != postmarkErrMaintenance && resp.ErrorCode != postmarkErrRateLimited,
		}
	}
	return nil
}
