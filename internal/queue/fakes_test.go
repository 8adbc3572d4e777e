package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"
)

type publishedMessage struct {
	exchange   string
	routingKey string
	msg        amqp.Publishing
}

type fakeChannel struct {
	mu sync.Mutex

	deliveries  chan amqp.Delivery
	closeNotify chan *amqp.Error

	publishFn  func(key string) error
	confirmFn  func(key string) (bool, error)
	confirmErr error
	consumeErr error

	exchanges []string
	queues    []string
	bindings  []string
	prefetch  int
	confirm   bool
	published []publishedMessage
	cancelled []string
	closed    bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 16)}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges = append(f.exchanges, name+":"+kind)
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !durable {
		return amqp.Queue{}, errors.New("queue must be durable")
	}
	f.queues = append(f.queues, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindings = append(f.bindings, exchange+"/"+key+"->"+name)
	return nil
}

func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefetch = prefetchCount
	return nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	return f.deliveries, nil
}

func (f *fakeChannel) Cancel(consumer string, noWait bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, consumer)
	return nil
}

func (f *fakeChannel) Confirm(noWait bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.confirmErr != nil {
		return f.confirmErr
	}
	f.confirm = true
	return nil
}

func (f *fakeChannel) PublishWithConfirm(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (Confirmation, error) {
	if f.publishFn != nil {
		if err := f.publishFn(key); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.confirm {
		return nil, errors.New("channel is not in confirm mode")
	}
	f.published = append(f.published, publishedMessage{exchange: exchange, routingKey: key, msg: msg})

	c := fakeConfirmation{acked: true}
	if f.confirmFn != nil {
		c.acked, c.err = f.confirmFn(key)
	}
	return c, nil
}

func (f *fakeChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeNotify = receiver
	return receiver
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// breakConnection simulates a broker-initiated channel closure.
func (f *fakeChannel) breakConnection() {
	f.mu.Lock()
	notify := f.closeNotify
	f.mu.Unlock()
	notify <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "broker shutdown"}
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeConfirmation struct {
	acked bool
	err   error
}

func (c fakeConfirmation) WaitContext(ctx context.Context) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	return c.acked, nil
}

type fakeConnection struct {
	channelFn func() (Channel, error)
	closed    atomic.Bool
	closes    atomic.Int32
}

func (f *fakeConnection) Channel() (Channel, error) {
	return f.channelFn()
}

func (f *fakeConnection) IsClosed() bool {
	return f.closed.Load()
}

func (f *fakeConnection) Close() error {
	f.closes.Add(1)
	f.closed.Store(true)
	return nil
}

// fakeBroker hands out channels from a queue of results.
type fakeBroker struct {
	mu      sync.Mutex
	results []func() (Channel, error)
	calls   int
}

func (f *fakeBroker) Channel(ctx context.Context) (Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) == 0 {
		return nil, errors.New("no channel scripted")
	}
	next := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return next()
}

type settlement struct {
	tag     uint64
	outcome Outcome
}

type fakeAcknowledger struct {
	settled chan settlement
}

func newFakeAcknowledger() *fakeAcknowledger {
	return &fakeAcknowledger{settled: make(chan settlement, 16)}
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.settled <- settlement{tag: tag, outcome: Ack}
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	outcome := Drop
	if requeue {
		outcome = Requeue
	}
	f.settled <- settlement{tag: tag, outcome: outcome}
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}
