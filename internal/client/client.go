package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-pipeline/internal/delivery"
	"github.com/kursadbilgin/notification-pipeline/internal/observability"
)

const (
	defaultTimeout    = 10 * time.Second
	requestIDHeader   = "X-Request-ID"
	contentTypeJSON   = "application/json"
	contentTypeHeader = "Content-Type"
)

// service is the shared resty plumbing for the downstream collaborators.
type service struct {
	client  *resty.Client
	baseURL string
	name    string
}

func newService(name, baseURL string, client *resty.Client) (service, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return service{}, fmt.Errorf("%s url is required", name)
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return service{}, fmt.Errorf("invalid %s url: %w", name, err)
	}
	if client == nil {
		client = resty.New()
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultTimeout)
	}
	client.SetRetryCount(0)

	return service{client: client, baseURL: trimmed, name: name}, nil
}

// post sends body as JSON and decodes a 2xx response into out. Failures are
// *delivery.TransportError so callers can tell retryable from permanent.
func (s service) post(ctx context.Context, path string, body any, out any) error {
	req := s.client.R().
		SetContext(ctx).
		SetHeader(contentTypeHeader, contentTypeJSON).
		SetBody(body).
		SetResult(out)
	if correlationID, ok := observability.CorrelationIDFromContext(ctx); ok {
		req.SetHeader(requestIDHeader, correlationID)
	}

	response, err := req.Post(s.baseURL + path)
	if err != nil {
		return delivery.RequestError(s.name+" request failed", err)
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		transportErr := delivery.HTTPStatusError(statusCode, response.String())
		transportErr.Message = s.name + ": " + transportErr.Message
		return transportErr
	}
	return nil
}
