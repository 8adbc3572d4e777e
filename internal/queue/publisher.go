package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-pipeline/internal/domain"
	"github.com/kursadbilgin/notification-pipeline/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	contentTypeJSON       = "application/json"
	defaultConfirmTimeout = 5 * time.Second
)

var errPublishNacked = errors.New("broker nacked the message")

// KeyResult is the outcome of publishing to one routing key.
type KeyResult struct {
	RoutingKey string
	Err        error
}

// PublishResult itemizes a multi-key publish. Keys are published independently
// and the broker offers no transaction across them, so a result may be partial.
type PublishResult struct {
	MessageID string
	Keys      []KeyResult
	// Err is set when nothing could be published (encoding or channel failure).
	Err error
}

// Succeeded is true only when every routing key was published.
func (r PublishResult) Succeeded() bool {
	if r.Err != nil || len(r.Keys) == 0 {
		return false
	}
	for _, key := range r.Keys {
		if key.Err != nil {
			return false
		}
	}
	return true
}

// FailedKeys lists routing keys whose publish failed.
func (r PublishResult) FailedKeys() []string {
	var failed []string
	for _, key := range r.Keys {
		if key.Err != nil {
			failed = append(failed, key.RoutingKey)
		}
	}
	return failed
}

// Failure summarizes why the publish did not fully succeed, or returns nil.
func (r PublishResult) Failure() error {
	if r.Err != nil {
		return r.Err
	}
	if len(r.Keys) == 0 {
		return fmt.Errorf("%w: no routing keys", domain.ErrValidation)
	}

	var errs []error
	for _, key := range r.Keys {
		if key.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key.RoutingKey, key.Err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: publish failed for routing keys [%s] of %d: %w",
		domain.ErrBrokerUnavailable, strings.Join(r.FailedKeys(), ", "), len(r.Keys), errors.Join(errs...))
}

// Publisher writes persistent JSON messages to one exchange.
type Publisher struct {
	broker         ChannelProvider
	exchange       string
	logger         *zap.Logger
	metrics        *observability.Metrics
	now            func() time.Time
	confirmTimeout time.Duration
}

// NewPublisher returns a publisher for exchange. An empty exchange targets the
// default exchange, where the routing key is the queue name.
func NewPublisher(broker ChannelProvider, exchange string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		broker:   broker,
		exchange: exchange,
		logger:   logger,
		now:      time.Now,

		confirmTimeout: defaultConfirmTimeout,
	}
}

func (p *Publisher) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

// Publish sends payload once per routing key on a confirm-mode channel. A key
// counts as published only after the broker acks it. Publish never panics or
// returns an error directly; callers inspect the returned result.
func (p *Publisher) Publish(ctx context.Context, payload any, routingKeys ...string) PublishResult {
	result := PublishResult{MessageID: uuid.NewString()}

	if p == nil || p.broker == nil {
		result.Err = fmt.Errorf("%w: publisher is not initialized", domain.ErrBrokerUnavailable)
		return result
	}
	if len(routingKeys) == 0 {
		result.Err = fmt.Errorf("%w: at least one routing key is required", domain.ErrValidation)
		return result
	}

	ctx, span := tracer.Start(ctx, "queue.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", p.exchange),
			attribute.StringSlice("messaging.rabbitmq.routing_keys", routingKeys),
		),
	)
	defer span.End()

	body, err := json.Marshal(payload)
	if err != nil {
		result.Err = fmt.Errorf("%w: failed to encode message: %v", domain.ErrValidation, err)
		span.SetStatus(codes.Error, result.Err.Error())
		return result
	}

	ch, err := p.broker.Channel(ctx)
	if err != nil {
		result.Err = err
		for _, key := range routingKeys {
			p.metrics.ObservePublish(key, err)
		}
		p.logger.Error("publish failed: broker unavailable",
			zap.Strings("routingKeys", routingKeys),
			zap.Error(err),
		)
		span.SetStatus(codes.Error, err.Error())
		return result
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Confirm(false); err != nil {
		result.Err = fmt.Errorf("%w: failed to enable publisher confirms: %v", domain.ErrBrokerUnavailable, err)
		for _, key := range routingKeys {
			p.metrics.ObservePublish(key, result.Err)
		}
		p.logger.Error("publish failed: confirm mode unavailable",
			zap.Strings("routingKeys", routingKeys),
			zap.Error(err),
		)
		span.SetStatus(codes.Error, result.Err.Error())
		return result
	}

	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	publishing := amqp.Publishing{
		ContentType:   contentTypeJSON,
		DeliveryMode:  amqp.Persistent,
		Timestamp:     p.now().UTC(),
		MessageId:     result.MessageID,
		CorrelationId: correlationID,
		Headers:       injectTraceContext(ctx, nil),
		Body:          body,
	}

	result.Keys = make([]KeyResult, 0, len(routingKeys))
	for _, key := range routingKeys {
		err := p.publishConfirmed(ctx, ch, key, publishing)
		if err != nil {
			err = fmt.Errorf("failed to publish to %q with key %q: %w", p.exchange, key, err)
			p.logger.Warn("publish failed for routing key",
				zap.String("exchange", p.exchange),
				zap.String("routingKey", key),
				zap.String("messageId", result.MessageID),
				zap.Error(err),
			)
		}
		p.metrics.ObservePublish(key, err)
		result.Keys = append(result.Keys, KeyResult{RoutingKey: key, Err: err})
	}

	if failure := result.Failure(); failure != nil {
		span.SetStatus(codes.Error, failure.Error())
	}
	return result
}

func (p *Publisher) publishConfirmed(ctx context.Context, ch Channel, key string, msg amqp.Publishing) error {
	confirmation, err := ch.PublishWithConfirm(ctx, p.exchange, key, false, false, msg)
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()

	acked, err := confirmation.WaitContext(waitCtx)
	if err != nil {
		return fmt.Errorf("no publisher confirm: %w", err)
	}
	if !acked {
		return errPublishNacked
	}
	return nil
}
