package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-pipeline/internal/domain"
	"github.com/kursadbilgin/notification-pipeline/internal/observability"
)

type NotificationService interface {
	Submit(ctx context.Context, msg domain.NotificationMessage) (domain.NotificationMessage, error)
	GetStatus(ctx context.Context, notificationID string) (domain.DeliveryStatus, error)
}

type NotificationHandler struct {
	service NotificationService
}

var requestValidator = validator.New(validator.WithRequiredStructEnabled())

func NewNotificationHandler(service NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	return &NotificationHandler{service: service}, nil
}

func RegisterNotificationRoutes(router fiber.Router, service NotificationService) error {
	h, err := NewNotificationHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.CreateNotification)
	v1.Get("/notifications/:id/status", h.GetStatus)

	return nil
}

type createNotificationRequest struct {
	NotificationType string              `json:"notification_type" validate:"required"`
	UserID           string              `json:"user_id" validate:"required"`
	TemplateCode     string              `json:"template_code" validate:"required"`
	Variables        domain.Variables    `json:"variables"`
	RequestID        string              `json:"request_id"`
	Priority         string              `json:"priority"`
	Metadata         map[string]string   `json:"metadata"`
	Attachments      []domain.Attachment `json:"attachments"`
}

type acceptedResponse struct {
	ID               string    `json:"id"`
	NotificationType string    `json:"notification_type"`
	RequestID        string    `json:"request_id"`
	CreatedAt        time.Time `json:"created_at"`
}

type statusResponse struct {
	NotificationID string    `json:"notification_id"`
	Status         string    `json:"status"`
	Error          *string   `json:"error"`
	Attempts       int       `json:"attempts"`
	Channel        string    `json:"channel,omitempty"`
	RequestID      string    `json:"request_id,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (h *NotificationHandler) CreateNotification(c *fiber.Ctx) error {
	var req createNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := requestValidator.Struct(req); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrValidation, err.Error())
	}

	requestID := strings.TrimSpace(req.RequestID)
	if requestID == "" {
		requestID = requestCorrelationID(c)
	}
	ctx, requestID := observability.EnsureCorrelationID(c.UserContext(), requestID)

	accepted, err := h.service.Submit(ctx, domain.NotificationMessage{
		Type:         domain.NotificationType(req.NotificationType),
		UserID:       req.UserID,
		TemplateCode: req.TemplateCode,
		Variables:    req.Variables,
		RequestID:    requestID,
		Priority:     domain.Priority(strings.ToLower(strings.TrimSpace(req.Priority))),
		Metadata:     req.Metadata,
		Attachments:  req.Attachments,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(acceptedResponse{
		ID:               accepted.ID,
		NotificationType: accepted.Type.String(),
		RequestID:        accepted.RequestID,
		CreatedAt:        accepted.CreatedAt,
	})
}

func (h *NotificationHandler) GetStatus(c *fiber.Ctx) error {
	status, err := h.service.GetStatus(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(statusResponse{
		NotificationID: status.NotificationID,
		Status:         status.Status.String(),
		Error:          status.Error,
		Attempts:       status.Attempts,
		Channel:        status.Channel.String(),
		RequestID:      status.RequestID,
		UpdatedAt:      status.UpdatedAt,
	})
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}
