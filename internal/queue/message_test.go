package queue

import (
	"context"
	"testing"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
)

func TestJSONHandler(t *testing.T) {
	t.Parallel()

	valid := []byte(`{"id":"n1","notification_type":"email","user_id":"u1","template_code":"welcome","variables":{"name":"Ada","link":"https://example.com"},"request_id":"r1"}`)

	tests := []struct {
		name       string
		body       []byte
		want       Outcome
		wantCalled bool
	}{
		{name: "valid message", body: valid, want: Ack, wantCalled: true},
		{name: "invalid json", body: []byte(`{"id":`), want: Drop},
		{name: "schema violation", body: []byte(`{"id":"n1","notification_type":"sms"}`), want: Drop},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			called := false
			handler := JSONHandler(nil, func(ctx context.Context, msg Message, payload domain.NotificationMessage) Outcome {
				called = true
				if payload.ID != "n1" || payload.Type != domain.TypeEmail {
					t.Errorf("payload = %+v", payload)
				}
				return Ack
			})

			got := handler(context.Background(), Message{Body: tt.body})
			if got != tt.want {
				t.Fatalf("outcome = %s, want %s", got, tt.want)
			}
			if called != tt.wantCalled {
				t.Fatalf("called = %v, want %v", called, tt.wantCalled)
			}
		})
	}
}
