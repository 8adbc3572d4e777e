package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state recorded for a notification.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusDelivered, StatusFailed:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// DeliveryStatus is the durable outcome record, keyed by NotificationID.
// The most recent record by UpdatedAt wins.
type DeliveryStatus struct {
	NotificationID string           `json:"notification_id"`
	Status         Status           `json:"status"`
	Error          *string          `json:"error,omitempty"`
	UpdatedAt      time.Time        `json:"updated_at"`
	Attempts       int              `json:"attempts"`
	Channel        NotificationType `json:"channel,omitempty"`
	RequestID      string           `json:"request_id,omitempty"`
}

func (s DeliveryStatus) Validate() error {
	if strings.TrimSpace(s.NotificationID) == "" {
		return fmt.Errorf("%w: notification_id is required", ErrValidation)
	}
	if !s.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, s.Status)
	}
	if s.Attempts < 0 {
		return fmt.Errorf("%w: attempts must be >= 0", ErrValidation)
	}
	return nil
}

// ErrorText returns the error message or an empty string.
func (s DeliveryStatus) ErrorText() string {
	if s.Error == nil {
		return ""
	}
	return *s.Error
}
