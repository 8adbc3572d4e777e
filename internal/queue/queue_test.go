package queue

import (
	"testing"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
)

func TestQueueName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"email":  "email.queue",
		" PUSH ": "push.queue",
		"failed": "failed.queue",
	}
	for key, want := range tests {
		if got := QueueName(key); got != want {
			t.Fatalf("QueueName(%q) = %s, want %s", key, got, want)
		}
	}
}

func TestTopologyBindings(t *testing.T) {
	t.Parallel()

	topology := Topology{Exchange: "notifications.direct", StatusQueue: "status.queue"}

	work := topology.WorkBinding(domain.TypePush)
	if work.Queue != "push.queue" || work.RoutingKey != "push" || work.Exchange != "notifications.direct" {
		t.Fatalf("WorkBinding() = %+v", work)
	}

	status := topology.StatusBinding()
	if status.Exchange != "" || status.RoutingKey != "status.queue" {
		t.Fatalf("StatusBinding() = %+v, want default exchange", status)
	}

	if got := len(topology.Bindings()); got != 4 {
		t.Fatalf("Bindings() len = %d, want 4", got)
	}
}
