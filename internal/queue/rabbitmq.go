package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultConnectRetries = 5
	defaultConnectDelay   = 5 * time.Second
	connectFlightKey      = "connect"
)

var errManagerClosed = errors.New("connection manager closed")

// Channel is the subset of *amqp.Channel used by publishers and consumers.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Confirm(noWait bool) error
	PublishWithConfirm(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (Confirmation, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Confirmation is the broker's pending ack or nack for one publish.
type Confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// Connection is a live broker connection that hands out channels.
type Connection interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

// Dialer opens a new broker connection.
type Dialer func(url string) (Connection, error)

// ChannelProvider is implemented by RabbitMQ and faked in tests.
type ChannelProvider interface {
	Channel(ctx context.Context) (Channel, error)
}

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return amqpChannel{Channel: ch}, nil
}

type amqpChannel struct {
	*amqp.Channel
}

// PublishWithConfirm requires confirm mode; without it the broker never acks.
func (c amqpChannel) PublishWithConfirm(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (Confirmation, error) {
	dc, err := c.Channel.PublishWithDeferredConfirmWithContext(ctx, exchange, key, mandatory, immediate, msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, errors.New("channel is not in confirm mode")
	}
	return dc, nil
}

func dialAMQP(url string) (Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConnection{Connection: conn}, nil
}

// RabbitMQ owns the process-wide broker connection. It connects lazily on first
// use and reconnects when the cached connection is closed. At most one dial
// sequence runs at a time; concurrent callers share its result.
type RabbitMQ struct {
	url     string
	retries int
	delay   time.Duration
	logger  *zap.Logger

	dial  Dialer
	sleep func(ctx context.Context, d time.Duration) error

	flight singleflight.Group

	mu     sync.RWMutex
	conn   Connection
	closed bool
}

func NewRabbitMQ(url string, retries int, delay time.Duration, logger *zap.Logger) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	if retries < 1 {
		retries = defaultConnectRetries
	}
	if delay <= 0 {
		delay = defaultConnectDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQ{
		url:     url,
		retries: retries,
		delay:   delay,
		logger:  logger,
		dial:    dialAMQP,
		sleep:   sleepContext,
	}, nil
}

// Connection returns the live connection, dialing if none exists or the cached
// one is closed. Exhausting the retry budget returns domain.ErrBrokerUnavailable.
func (r *RabbitMQ) Connection(ctx context.Context) (Connection, error) {
	if conn, err := r.current(); err != nil || conn != nil {
		return conn, err
	}

	v, err, _ := r.flight.Do(connectFlightKey, func() (any, error) {
		return r.connect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(Connection), nil
}

// Channel opens a new channel on the live connection. A failure to open a
// channel discards the connection and tries once more on a fresh one.
func (r *RabbitMQ) Channel(ctx context.Context) (Channel, error) {
	conn, err := r.Connection(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err == nil {
		return ch, nil
	}

	r.logger.Warn("failed to open rabbitmq channel, reconnecting", zap.Error(err))
	r.discard(conn)

	conn, err = r.Connection(ctx)
	if err != nil {
		return nil, err
	}
	ch, err = conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open channel after reconnect: %v", domain.ErrBrokerUnavailable, err)
	}
	return ch, nil
}

// DeclareTopology declares the notifications exchange and every queue in t.
func (r *RabbitMQ) DeclareTopology(ctx context.Context, t Topology) error {
	ch, err := r.Channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	return declareTopology(ch, t)
}

// Ping reports whether the broker is reachable, dialing if needed.
func (r *RabbitMQ) Ping(ctx context.Context) error {
	_, err := r.Connection(ctx)
	return err
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.closed = true
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	return conn.Close()
}

func (r *RabbitMQ) current() (Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("%w: %v", domain.ErrBrokerUnavailable, errManagerClosed)
	}
	if r.conn != nil && !r.conn.IsClosed() {
		return r.conn, nil
	}
	return nil, nil
}

func (r *RabbitMQ) connect(ctx context.Context) (Connection, error) {
	// A caller that lost the race to an earlier flight sees its connection here.
	if conn, err := r.current(); err != nil || conn != nil {
		return conn, err
	}

	var lastErr error
	for attempt := 1; attempt <= r.retries; attempt++ {
		conn, err := r.dial(r.url)
		if err == nil {
			return r.install(conn, attempt)
		}

		lastErr = err
		r.logger.Warn("rabbitmq connection attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", r.retries),
			zap.Error(err),
		)

		if attempt == r.retries {
			break
		}
		if err := r.sleep(ctx, r.delay); err != nil {
			return nil, fmt.Errorf("%w: connect canceled: %v", domain.ErrBrokerUnavailable, err)
		}
	}

	r.logger.Error("rabbitmq connection attempts exhausted",
		zap.Int("attempts", r.retries),
		zap.Error(lastErr),
	)
	return nil, fmt.Errorf("%w: %d connection attempts failed: %v", domain.ErrBrokerUnavailable, r.retries, lastErr)
}

func (r *RabbitMQ) install(conn Connection, attempt int) (Connection, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrBrokerUnavailable, errManagerClosed)
	}
	old := r.conn
	r.conn = conn
	r.mu.Unlock()

	if old != nil && !old.IsClosed() {
		_ = old.Close()
	}

	r.logger.Info("rabbitmq connected", zap.Int("attempt", attempt))
	return conn, nil
}

func (r *RabbitMQ) discard(conn Connection) {
	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.mu.Unlock()

	if !conn.IsClosed() {
		_ = conn.Close()
	}
}

func declareTopology(ch Channel, t Topology) error {
	if strings.TrimSpace(t.Exchange) == "" {
		return fmt.Errorf("exchange name is required")
	}
	for _, binding := range t.Bindings() {
		if err := binding.declare(ch); err != nil {
			return err
		}
	}
	return nil
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
