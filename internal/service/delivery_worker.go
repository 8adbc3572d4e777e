package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-pipeline/internal/client"
	"github.com/kursadbilgin/notification-pipeline/internal/delivery"
	"github.com/kursadbilgin/notification-pipeline/internal/domain"
	"github.com/kursadbilgin/notification-pipeline/internal/observability"
	"github.com/kursadbilgin/notification-pipeline/internal/queue"
	"github.com/kursadbilgin/notification-pipeline/internal/ratelimit"
	"go.uber.org/zap"
)

type ProfileFetcher interface {
	GetProfile(ctx context.Context, userID string) (domain.UserProfile, error)
}

type Renderer interface {
	Render(ctx context.Context, templateKey string, vars map[string]any, format string) (domain.RenderedTemplate, error)
}

// Deliverer is satisfied by *delivery.Executor.
type Deliverer interface {
	Deliver(ctx context.Context, req delivery.Request) delivery.Result
}

// StatusReporter is satisfied by *status.Reporter.
type StatusReporter interface {
	Report(ctx context.Context, s domain.DeliveryStatus)
	ReportDropped(ctx context.Context, s domain.DeliveryStatus)
}

const defaultRequeueDelay = time.Second

// DeliveryWorker turns notification messages from one channel's queue into
// delivery requests and settles each message from the executor's outcome.
type DeliveryWorker struct {
	channel   domain.NotificationType
	users     ProfileFetcher
	templates Renderer
	executor  Deliverer
	reporter  StatusReporter
	limiter   ratelimit.RateLimiter
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time

	requeueDelay time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
}

func NewDeliveryWorker(
	channel domain.NotificationType,
	users ProfileFetcher,
	templates Renderer,
	executor Deliverer,
	reporter StatusReporter,
	limiter ratelimit.RateLimiter,
	logger *zap.Logger,
) (*DeliveryWorker, error) {
	if !channel.IsValid() {
		return nil, fmt.Errorf("%w: invalid worker channel %q", domain.ErrValidation, channel)
	}
	if users == nil {
		return nil, fmt.Errorf("user client is required")
	}
	if templates == nil {
		return nil, fmt.Errorf("template client is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if reporter == nil {
		return nil, fmt.Errorf("status reporter is required")
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryWorker{
		channel:   channel,
		users:     users,
		templates: templates,
		executor:  executor,
		reporter:  reporter,
		limiter:   limiter,
		logger:    logger.With(zap.String("channel", channel.String())),
		now:       time.Now,

		requeueDelay: defaultRequeueDelay,
		sleep:        sleepContext,
	}, nil
}

func (w *DeliveryWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

func (w *DeliveryWorker) Handler() queue.HandlerFunc {
	return queue.JSONHandler(w.logger, w.process)
}

// process settles each message exactly once. Transient failures are requeued
// at most once, after a short pause; a redelivered message that fails again is
// dropped with a failed status and a copy on the failed queue.
func (w *DeliveryWorker) process(ctx context.Context, msg queue.Message, n domain.NotificationMessage) queue.Outcome {
	ctx, _ = observability.EnsureCorrelationID(ctx, n.RequestID)
	logger := observability.WithContextLogger(w.logger, ctx).With(
		zap.String("notificationId", n.ID),
		zap.Bool("redelivered", msg.Redelivered),
	)

	if n.Type != w.channel {
		logger.Error("dropping message for another channel", zap.String("type", n.Type.String()))
		return w.drop(ctx, n, fmt.Sprintf("routed to the %s worker", w.channel), 0)
	}

	w.metrics.IncWorkerInFlight(w.channel.String())
	defer w.metrics.DecWorkerInFlight(w.channel.String())

	if !msg.Redelivered {
		w.report(ctx, n, domain.StatusPending, nil, 0)
	}

	if err := w.limiter.Wait(ctx, w.channel.String()); err != nil {
		return w.retryLater(ctx, logger, msg, n, "throttle unavailable", err, 0)
	}

	profile, err := w.users.GetProfile(ctx, n.UserID)
	if err != nil {
		return w.collaboratorFailure(ctx, logger, msg, n, "user profile lookup failed", err)
	}
	if !profile.Accepts(n.Type) {
		reason := fmt.Sprintf("user opted out of %s notifications", n.Type)
		w.report(ctx, n, domain.StatusFailed, &reason, 0)
		logger.Info("skipping notification: user opted out")
		return queue.Ack
	}

	recipient := profile.Email
	format := client.FormatHTML
	if n.Type == domain.TypePush {
		recipient = profile.PushToken
		format = client.FormatText
	}
	if strings.TrimSpace(recipient) == "" {
		logger.Warn("dropping notification: no recipient address")
		return w.drop(ctx, n, fmt.Sprintf("user has no %s address", n.Type), 0)
	}

	rendered, err := w.templates.Render(ctx, n.TemplateCode, templateVars(n), format)
	if err != nil {
		return w.collaboratorFailure(ctx, logger, msg, n, "template render failed", err)
	}

	result := w.executor.Deliver(ctx, w.buildRequest(msg, n, recipient, rendered))
	switch {
	case result.Delivered():
		return queue.Ack
	case result.Retryable:
		return w.retryLater(ctx, logger, msg, n, "delivery interrupted", result.Err, result.Attempts)
	case result.Status != nil:
		logger.Error("delivery failed, dropping", zap.Int("attempts", result.Attempts), zap.Error(result.Err))
		w.reporter.ReportDropped(context.WithoutCancel(ctx), *result.Status)
		return queue.Drop
	default:
		logger.Error("delivery failed, dropping", zap.Int("attempts", result.Attempts), zap.Error(result.Err))
		return w.drop(ctx, n, errorText(result.Err), result.Attempts)
	}
}

func (w *DeliveryWorker) buildRequest(msg queue.Message, n domain.NotificationMessage, recipient string, rendered domain.RenderedTemplate) delivery.Request {
	req := delivery.Request{
		ID:             msg.MessageID,
		NotificationID: n.ID,
		Channel:        n.Type,
		RequestID:      n.RequestID,
		Recipients:     []string{recipient},
		Subject:        rendered.Subject,
		Attachments:    n.Attachments,
	}

	switch n.Type {
	case domain.TypeEmail:
		req.BodyHTML = rendered.Content
		req.Headers = n.Metadata
	case domain.TypePush:
		req.BodyText = rendered.Content
		data := make(map[string]string, len(n.Metadata)+2)
		for k, v := range n.Metadata {
			data[k] = v
		}
		data["notification_id"] = n.ID
		data["link"] = n.Variables.Link
		req.Data = data
	}
	return req
}

// collaboratorFailure retries transient lookup failures later and drops permanent ones.
func (w *DeliveryWorker) collaboratorFailure(ctx context.Context, logger *zap.Logger, msg queue.Message, n domain.NotificationMessage, what string, err error) queue.Outcome {
	if !delivery.IsPermanent(err) {
		return w.retryLater(ctx, logger, msg, n, what, err, 0)
	}
	logger.Error(what+", dropping", zap.Error(err))
	return w.drop(ctx, n, fmt.Sprintf("%s: %v", what, err), 0)
}

func (w *DeliveryWorker) retryLater(ctx context.Context, logger *zap.Logger, msg queue.Message, n domain.NotificationMessage, what string, err error, attempts int) queue.Outcome {
	if msg.Redelivered {
		logger.Error(what+", dropping redelivered message", zap.Error(err))
		return w.drop(ctx, n, fmt.Sprintf("%s: %v", what, err), attempts)
	}

	logger.Warn(what+", requeueing", zap.Error(err), zap.Duration("delay", w.requeueDelay))
	_ = w.sleep(ctx, w.requeueDelay)
	return queue.Requeue
}

// drop records a terminal failure for a message that will not be redelivered.
func (w *DeliveryWorker) drop(ctx context.Context, n domain.NotificationMessage, reason string, attempts int) queue.Outcome {
	s := w.report(ctx, n, domain.StatusFailed, &reason, attempts)
	w.reporter.ReportDropped(context.WithoutCancel(ctx), s)
	return queue.Drop
}

func (w *DeliveryWorker) report(ctx context.Context, n domain.NotificationMessage, status domain.Status, reason *string, attempts int) domain.DeliveryStatus {
	s := domain.DeliveryStatus{
		NotificationID: n.ID,
		Status:         status,
		Error:          reason,
		UpdatedAt:      w.now().UTC(),
		Attempts:       attempts,
		Channel:        n.Type,
		RequestID:      n.RequestID,
	}
	w.reporter.Report(context.WithoutCancel(ctx), s)
	return s
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func templateVars(n domain.NotificationMessage) map[string]any {
	vars := map[string]any{
		"name": n.Variables.Name,
		"link": n.Variables.Link,
	}
	if len(n.Variables.Meta) > 0 {
		vars["meta"] = n.Variables.Meta
	}
	return vars
}
