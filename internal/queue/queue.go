package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
)

const (
	RoutingKeyEmail  = "email"
	RoutingKeyPush   = "push"
	RoutingKeyFailed = "failed"

	exchangeKind = "direct"
)

var boundRoutingKeys = []string{
	RoutingKeyEmail,
	RoutingKeyPush,
	RoutingKeyFailed,
}

// Topology names the exchange and the status queue shared by every process.
type Topology struct {
	Exchange    string
	StatusQueue string
}

// Binding is one durable queue and the key it receives. An empty Exchange
// means the default exchange, where the queue name is the routing key.
type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
}

// QueueName returns the work queue name for a routing key, e.g. email.queue.
func QueueName(routingKey string) string {
	return strings.ToLower(strings.TrimSpace(routingKey)) + ".queue"
}

// WorkBinding returns the binding a delivery worker consumes for a notification type.
func (t Topology) WorkBinding(notificationType domain.NotificationType) Binding {
	key := notificationType.String()
	return Binding{Queue: QueueName(key), Exchange: t.Exchange, RoutingKey: key}
}

// StatusBinding returns the status queue, addressed through the default exchange.
func (t Topology) StatusBinding() Binding {
	return Binding{Queue: t.StatusQueue, RoutingKey: t.StatusQueue}
}

// Bindings lists every queue declared at startup.
func (t Topology) Bindings() []Binding {
	bindings := make([]Binding, 0, len(boundRoutingKeys)+1)
	for _, key := range boundRoutingKeys {
		bindings = append(bindings, Binding{Queue: QueueName(key), Exchange: t.Exchange, RoutingKey: key})
	}
	return append(bindings, t.StatusBinding())
}

// declare creates the queue and, for non-default exchanges, the exchange and
// the binding. Every call is idempotent.
func (b Binding) declare(ch Channel) error {
	if b.Exchange != "" {
		if err := declareExchange(ch, b.Exchange); err != nil {
			return err
		}
	}
	if _, err := ch.QueueDeclare(b.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", b.Queue, err)
	}
	if b.Exchange == "" {
		return nil
	}
	if err := ch.QueueBind(b.Queue, b.RoutingKey, b.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %q to %q with key %q: %w", b.Queue, b.Exchange, b.RoutingKey, err)
	}
	return nil
}

func declareExchange(ch Channel, name string) error {
	if err := ch.ExchangeDeclare(name, exchangeKind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", name, err)
	}
	return nil
}
