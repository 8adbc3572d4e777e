package queue

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Outcome tells the consumer how to settle a delivery.
type Outcome int

const (
	// Ack removes the message from the queue.
	Ack Outcome = iota
	// Requeue negatively acknowledges and returns the message to the queue.
	Requeue
	// Drop negatively acknowledges without requeue.
	Drop
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	case Drop:
		return "drop"
	}
	return "unknown"
}

// Message is a consumed broker delivery stripped of its acknowledger.
type Message struct {
	Body          []byte
	RoutingKey    string
	MessageID     string
	CorrelationID string
	Redelivered   bool
	Headers       amqp.Table
}

func newMessage(d amqp.Delivery) Message {
	return Message{
		Body:          d.Body,
		RoutingKey:    d.RoutingKey,
		MessageID:     d.MessageId,
		CorrelationID: d.CorrelationId,
		Redelivered:   d.Redelivered,
		Headers:       d.Headers,
	}
}

// HandlerFunc processes one message and decides its settlement.
type HandlerFunc func(ctx context.Context, msg Message) Outcome

type validatable interface {
	Validate() error
}

// JSONHandler decodes and validates the body as T before calling next.
// Bodies that fail either step are dropped since redelivery cannot fix them.
func JSONHandler[T validatable](logger *zap.Logger, next func(ctx context.Context, msg Message, payload T) Outcome) HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(ctx context.Context, msg Message) Outcome {
		var payload T
		if err := json.Unmarshal(msg.Body, &payload); err != nil {
			logger.Warn("rejecting message: invalid JSON",
				zap.Error(err),
				zap.String("routingKey", msg.RoutingKey),
				zap.String("messageId", msg.MessageID),
			)
			return Drop
		}

		if err := payload.Validate(); err != nil {
			logger.Warn("rejecting message: validation failed",
				zap.Error(err),
				zap.String("routingKey", msg.RoutingKey),
				zap.String("messageId", msg.MessageID),
			)
			return Drop
		}

		return next(ctx, msg, payload)
	}
}
