package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const testTimeout = 2 * time.Second

func waitSettlement(t *testing.T, ack *fakeAcknowledger) settlement {
	t.Helper()
	select {
	case s := <-ack.settled:
		return s
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for settlement")
	}
	return settlement{}
}

func waitState(t *testing.T, c *DurableConsumer, want State) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", c.State(), want)
}

func newTestConsumer(t *testing.T, broker ChannelProvider, handler HandlerFunc) *DurableConsumer {
	t.Helper()

	c, err := NewDurableConsumer(broker, ConsumerConfig{
		Binding:        Binding{Queue: "email.queue", Exchange: "notifications.direct", RoutingKey: "email"},
		Prefetch:       4,
		Concurrency:    2,
		ReconnectDelay: time.Millisecond,
	}, handler, nil)
	if err != nil {
		t.Fatalf("NewDurableConsumer() error = %v", err)
	}
	c.wait = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return c
}

func TestNewDurableConsumerValidation(t *testing.T) {
	t.Parallel()

	handler := func(ctx context.Context, msg Message) Outcome { return Ack }
	broker := &fakeBroker{}

	if _, err := NewDurableConsumer(nil, ConsumerConfig{Binding: Binding{Queue: "q"}}, handler, nil); err == nil {
		t.Fatal("expected error for nil broker")
	}
	if _, err := NewDurableConsumer(broker, ConsumerConfig{}, handler, nil); err == nil {
		t.Fatal("expected error for empty queue")
	}
	if _, err := NewDurableConsumer(broker, ConsumerConfig{Binding: Binding{Queue: "q"}}, nil, nil); err == nil {
		t.Fatal("expected error for nil handler")
	}
}

func TestDurableConsumerSettlesByOutcome(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	broker := &fakeBroker{results: []func() (Channel, error){func() (Channel, error) { return ch, nil }}}

	outcomes := map[string]Outcome{"ok": Ack, "retry": Requeue, "bad": Drop}
	consumer := newTestConsumer(t, broker, func(ctx context.Context, msg Message) Outcome {
		if string(msg.Body) == "panic" {
			panic("boom")
		}
		return outcomes[string(msg.Body)]
	})

	consumer.Start(context.Background())
	waitState(t, consumer, StateConsuming)

	if ch.prefetch != 4 {
		t.Fatalf("prefetch = %d, want 4", ch.prefetch)
	}
	if len(ch.bindings) != 1 || ch.bindings[0] != "notifications.direct/email->email.queue" {
		t.Fatalf("bindings = %v", ch.bindings)
	}

	tests := []struct {
		body string
		want Outcome
	}{
		{body: "ok", want: Ack},
		{body: "retry", want: Requeue},
		{body: "bad", want: Drop},
		{body: "panic", want: Drop},
	}
	for i, tt := range tests {
		ack := newFakeAcknowledger()
		ch.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: uint64(i + 1), Body: []byte(tt.body)}

		got := waitSettlement(t, ack)
		if got.outcome != tt.want {
			t.Fatalf("%s settled as %s, want %s", tt.body, got.outcome, tt.want)
		}
		if got.tag != uint64(i+1) {
			t.Fatalf("%s settled tag %d, want %d", tt.body, got.tag, i+1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := consumer.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if consumer.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", consumer.State())
	}
	if !ch.isClosed() {
		t.Fatal("channel should be closed after stop")
	}
	if len(ch.cancelled) != 1 {
		t.Fatalf("cancelled consumers = %v, want 1", ch.cancelled)
	}
}

func TestDurableConsumerReconnectsAfterFailures(t *testing.T) {
	t.Parallel()

	broken := newFakeChannel()
	healthy := newFakeChannel()
	broker := &fakeBroker{results: []func() (Channel, error){
		func() (Channel, error) { return nil, errors.New("connection refused") },
		func() (Channel, error) { return broken, nil },
		func() (Channel, error) { return healthy, nil },
	}}

	handled := make(chan string, 1)
	consumer := newTestConsumer(t, broker, func(ctx context.Context, msg Message) Outcome {
		handled <- string(msg.Body)
		return Ack
	})

	consumer.Start(context.Background())

	// Wait for the consumer to subscribe on the first channel, then kill it.
	deadline := time.Now().Add(testTimeout)
	for {
		broken.mu.Lock()
		subscribed := broken.closeNotify != nil && broken.prefetch > 0
		broken.mu.Unlock()
		if subscribed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("consumer never subscribed to the first channel")
		}
		time.Sleep(5 * time.Millisecond)
	}
	waitState(t, consumer, StateConsuming)
	broken.breakConnection()

	ack := newFakeAcknowledger()
	healthy.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte("hello")}

	select {
	case body := <-handled:
		if body != "hello" {
			t.Fatalf("handled body = %q, want hello", body)
		}
	case <-time.After(testTimeout):
		t.Fatal("message on the reconnected channel was not handled")
	}
	if got := waitSettlement(t, ack); got.outcome != Ack {
		t.Fatalf("outcome = %s, want ack", got.outcome)
	}
	if !broken.isClosed() {
		t.Fatal("broken channel should be cleaned up")
	}

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := consumer.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestDurableConsumerStopBeforeStart(t *testing.T) {
	t.Parallel()

	consumer := newTestConsumer(t, &fakeBroker{}, func(ctx context.Context, msg Message) Outcome { return Ack })
	if consumer.State() != StateIdle {
		t.Fatalf("state = %s, want idle", consumer.State())
	}
	if err := consumer.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if consumer.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", consumer.State())
	}
}

func TestDurableConsumerStopWhileReconnecting(t *testing.T) {
	t.Parallel()

	broker := &fakeBroker{results: []func() (Channel, error){
		func() (Channel, error) { return nil, errors.New("connection refused") },
	}}
	consumer := newTestConsumer(t, broker, func(ctx context.Context, msg Message) Outcome { return Ack })
	consumer.wait = sleepContext

	consumer.Start(context.Background())
	consumer.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := consumer.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if consumer.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", consumer.State())
	}
}
