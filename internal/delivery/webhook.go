package delivery

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-pipeline/internal/domain"
)

const defaultWebhookTimeout = 10 * time.Second

type webhookAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

type webhookPayload struct {
	DeliveryID     string              `json:"delivery_id"`
	NotificationID string              `json:"notification_id"`
	RequestID      string              `json:"request_id,omitempty"`
	Channel        string              `json:"channel"`
	To             []string            `json:"to"`
	Cc             []string            `json:"cc,omitempty"`
	Subject        string              `json:"subject,omitempty"`
	Text           string              `json:"text,omitempty"`
	HTML           string              `json:"html,omitempty"`
	Data           map[string]string   `json:"data,omitempty"`
	Attachments    []webhookAttachment `json:"attachments,omitempty"`
}

// WebhookTransport posts each delivery as JSON to a fixed endpoint. It is used
// for local runs against webhook.site style receivers.
type WebhookTransport struct {
	client   *resty.Client
	endpoint string
}

func NewWebhookTransport(endpoint string, client *resty.Client) (*WebhookTransport, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: webhook endpoint is required", domain.ErrValidation)
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("%w: invalid webhook endpoint: %v", domain.ErrValidation, err)
	}
	if client == nil {
		client = resty.New().SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookTransport{client: client, endpoint: endpoint}, nil
}

func (t *WebhookTransport) Send(ctx context.Context, req Request, attachments []domain.ResolvedAttachment) error {
	payload := webhookPayload{
		DeliveryID:     req.ID,
		NotificationID: req.NotificationID,
		RequestID:      req.RequestID,
		Channel:        req.Channel.String(),
		To:             req.Recipients,
		Cc:             req.Cc,
		Subject:        req.Subject,
		Text:           req.BodyText,
		HTML:           req.BodyHTML,
		Data:           req.Data,
	}
	for _, a := range attachments {
		payload.Attachments = append(payload.Attachments, webhookAttachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        len(a.Data),
		})
	}

	r := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload)
	for name, value := range req.Headers {
		r.SetHeader(name, value)
	}
	if req.RequestID != "" {
		r.SetHeader("X-Request-ID", req.RequestID)
	}

	resp, err := r.Post(t.endpoint)
	if err != nil {
		return RequestError("webhook request failed", err)
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return HTTPStatusError(resp.StatusCode(), resp.String())
	}
	return nil
}
