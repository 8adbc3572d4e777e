package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// NotificationType selects the delivery channel and therefore the routing key.
type NotificationType string

const (
	TypeEmail NotificationType = "email"
	TypePush  NotificationType = "push"
)

func (t NotificationType) String() string { return string(t) }

func (t NotificationType) IsValid() bool {
	switch t {
	case TypeEmail, TypePush:
		return true
	}
	return false
}

func ParseNotificationType(s string) (NotificationType, error) {
	t := NotificationType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: invalid notification type %q, must be email or push", ErrValidation, s)
	}
	return t, nil
}

// Priority is an optional hint carried on the message.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case "", PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Variables are the template fields supplied by the producer.
type Variables struct {
	Name string         `json:"name" validate:"required"`
	Link string         `json:"link" validate:"required,url"`
	Meta map[string]any `json:"meta,omitempty"`
}

// NotificationMessage is the unit published to the broker. It is immutable once published.
type NotificationMessage struct {
	ID           string            `json:"id" validate:"required"`
	Type         NotificationType  `json:"notification_type" validate:"required,oneof=email push"`
	UserID       string            `json:"user_id" validate:"required"`
	TemplateCode string            `json:"template_code" validate:"required"`
	Variables    Variables         `json:"variables"`
	RequestID    string            `json:"request_id" validate:"required"`
	Priority     Priority          `json:"priority,omitempty" validate:"omitempty,oneof=high normal low"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Attachments  []Attachment      `json:"attachments,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the message schema. Consumers drop messages that fail it.
func (m NotificationMessage) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	for _, a := range m.Attachments {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// RoutingKey returns the exchange routing key for the message type.
func (m NotificationMessage) RoutingKey() string {
	return m.Type.String()
}

// UserProfile is returned by the user service.
type UserProfile struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Email       string           `json:"email"`
	PushToken   string           `json:"push_token,omitempty"`
	Preferences *UserPreferences `json:"preferences,omitempty"`
}

type UserPreferences struct {
	Email bool `json:"email"`
	Push  bool `json:"push"`
}

// Accepts reports whether the user opted in to the given channel. Missing preferences mean yes.
func (p UserProfile) Accepts(t NotificationType) bool {
	if p.Preferences == nil {
		return true
	}
	switch t {
	case TypeEmail:
		return p.Preferences.Email
	case TypePush:
		return p.Preferences.Push
	}
	return false
}

// RenderedTemplate is returned by the template service.
type RenderedTemplate struct {
	TemplateKey string `json:"template_key"`
	Format      string `json:"format"`
	Subject     string `json:"subject"`
	Content     string `json:"content"`
}
