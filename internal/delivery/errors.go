package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
)

// TransportError classifies outbound call failures. Permanent errors are not
// retried: the same request would fail the same way.
type TransportError struct {
	StatusCode int
	Message    string
	Permanent  bool
	Cause      error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "transport error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsPermanent reports whether retrying err is pointless.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, domain.ErrValidation) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return transportErr.Permanent
	}

	return false
}

// HTTPStatusError builds a TransportError for a non-2xx response. 429 and 5xx
// are retryable, every other status is permanent.
func HTTPStatusError(statusCode int, body string) *TransportError {
	return &TransportError{
		StatusCode: statusCode,
		Message:    statusMessage(statusCode, body),
		Permanent:  !isRetryableHTTPStatus(statusCode),
	}
}

// RequestError wraps a failure to complete an HTTP exchange. These are retryable
// unless the caller canceled.
func RequestError(message string, err error) *TransportError {
	return &TransportError{
		Message:   message,
		Permanent: errors.Is(err, context.Canceled),
		Cause:     err,
	}
}

func isRetryableHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func statusMessage(statusCode int, body string) string {
	base := fmt.Sprintf("remote returned status %d", statusCode)
	body = strings.TrimSpace(body)
	if body == "" {
		return base
	}
	if len(body) > 256 {
		body = body[:256]
	}
	return fmt.Sprintf("%s: %s", base, body)
}
