package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-pipeline/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultReconnectDelay = 5 * time.Second

// State is the lifecycle position of a DurableConsumer.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConsuming
	StateCleanup
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConsuming:
		return "consuming"
	case StateCleanup:
		return "cleanup"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

type ConsumerConfig struct {
	Binding        Binding
	Prefetch       int
	Concurrency    int
	ReconnectDelay time.Duration
}

// DurableConsumer keeps a subscription to one durable queue alive across
// broker failures until Stop is called.
type DurableConsumer struct {
	broker  ChannelProvider
	cfg     ConsumerConfig
	handler HandlerFunc
	logger  *zap.Logger
	metrics *observability.Metrics
	wait    func(ctx context.Context, d time.Duration) error

	state atomic.Int32

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewDurableConsumer(broker ChannelProvider, cfg ConsumerConfig, handler HandlerFunc, logger *zap.Logger) (*DurableConsumer, error) {
	if broker == nil {
		return nil, fmt.Errorf("broker is required")
	}
	if strings.TrimSpace(cfg.Binding.Queue) == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("message handler is required")
	}
	if cfg.Prefetch < 1 {
		cfg.Prefetch = 1
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Concurrency > cfg.Prefetch {
		cfg.Concurrency = cfg.Prefetch
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DurableConsumer{
		broker:  broker,
		cfg:     cfg,
		handler: handler,
		logger:  logger.With(zap.String("queue", cfg.Binding.Queue)),
		wait:    sleepContext,
	}, nil
}

func (c *DurableConsumer) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
}

func (c *DurableConsumer) State() State {
	return State(c.state.Load())
}

// Start launches the supervising loop. Calling Start on a running consumer is a no-op.
func (c *DurableConsumer) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	c.setState(StateConnecting)

	go c.supervise(runCtx, c.done)
}

// Stop signals the loop, waits for it to finish its cleanup and in-flight
// handlers, or for ctx to expire. It is safe to call before Start.
func (c *DurableConsumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.setState(StateStopped)
		c.mu.Unlock()
		return nil
	}
	cancel, done := c.cancel, c.done
	c.running = false
	c.mu.Unlock()

	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("consumer stop timed out: %w", ctx.Err())
	}
}

func (c *DurableConsumer) supervise(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer c.setState(StateStopped)

	for {
		c.setState(StateConnecting)
		err := c.consumeOnce(ctx)
		if ctx.Err() != nil {
			c.logger.Info("consumer stopped")
			return
		}

		c.metrics.IncConsumerReconnect(c.cfg.Binding.Queue)
		c.logger.Warn("consumer interrupted, reconnecting",
			zap.Error(err),
			zap.Duration("delay", c.cfg.ReconnectDelay),
		)

		if c.wait(ctx, c.cfg.ReconnectDelay) != nil {
			c.logger.Info("consumer stopped")
			return
		}
	}
}

func (c *DurableConsumer) consumeOnce(ctx context.Context) error {
	ch, err := c.broker.Channel(ctx)
	if err != nil {
		return err
	}

	tag := fmt.Sprintf("%s-%s", c.cfg.Binding.Queue, uuid.NewString())
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	var handlers errgroup.Group
	handlers.SetLimit(c.cfg.Concurrency)

	consuming := false
	defer func() {
		c.setState(StateCleanup)
		// Settling needs the channel, so in-flight handlers finish first.
		_ = handlers.Wait()
		if consuming {
			_ = ch.Cancel(tag, false)
		}
		_ = ch.Close()
	}()

	if err := c.cfg.Binding.declare(ch); err != nil {
		return err
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		c.cfg.Binding.Queue,
		tag,
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", c.cfg.Binding.Queue, err)
	}
	consuming = true

	c.setState(StateConsuming)
	c.logger.Info("consumer started",
		zap.String("consumerTag", tag),
		zap.Int("prefetch", c.cfg.Prefetch),
		zap.Int("concurrency", c.cfg.Concurrency),
	)

	// In-flight handlers outlive a stop request so their messages are settled.
	handlerCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr, ok := <-closed:
			if !ok || amqpErr == nil {
				return errors.New("channel closed")
			}
			return fmt.Errorf("channel closed: %w", amqpErr)
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			handlers.Go(func() error {
				c.handleDelivery(handlerCtx, d)
				return nil
			})
		}
	}
}

func (c *DurableConsumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	msg := newMessage(d)
	outcome := Drop

	ctx = extractTraceContext(ctx, d.Headers)
	ctx, span := tracer.Start(ctx, "queue.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.source.name", c.cfg.Binding.Queue),
			attribute.String("messaging.message.id", msg.MessageID),
		),
	)
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			c.logger.Error("message handler panicked, dropping message",
				zap.Any("panic", recovered),
				zap.String("messageId", msg.MessageID),
			)
			outcome = Drop
		}
		span.SetAttributes(attribute.String("messaging.outcome", outcome.String()))
		span.End()
		c.settle(d, outcome)
	}()

	outcome = c.handler(ctx, msg)
}

func (c *DurableConsumer) settle(d amqp.Delivery, outcome Outcome) {
	var err error
	switch outcome {
	case Ack:
		err = d.Ack(false)
	case Requeue:
		err = d.Nack(false, true)
	default:
		outcome = Drop
		err = d.Reject(false)
	}

	c.metrics.IncMessageHandled(c.cfg.Binding.Queue, outcome.String())
	if err != nil {
		c.logger.Warn("failed to settle delivery",
			zap.String("outcome", outcome.String()),
			zap.String("messageId", d.MessageId),
			zap.Error(err),
		)
	}
}

func (c *DurableConsumer) setState(s State) {
	c.state.Store(int32(s))
}
