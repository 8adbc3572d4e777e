package domain

import (
	"errors"
	"testing"
)

func TestParseStatusFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Status
		wantErr bool
	}{
		{name: "valid lowercase", input: "delivered", want: StatusDelivered},
		{name: "valid uppercase with spaces", input: " PENDING ", want: StatusPending},
		{name: "invalid", input: "sent", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseStatusFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseStatusFromString() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseStatusFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseStatusFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseNotificationType(t *testing.T) {
	t.Parallel()

	got, err := ParseNotificationType(" EMAIL ")
	if err != nil {
		t.Fatalf("ParseNotificationType() unexpected error = %v", err)
	}
	if got != TypeEmail {
		t.Fatalf("ParseNotificationType() = %s, want %s", got, TypeEmail)
	}

	_, err = ParseNotificationType("sms")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseNotificationType() error = %v, want ErrValidation", err)
	}
}

func TestNotificationMessageValidate(t *testing.T) {
	t.Parallel()

	base := NotificationMessage{
		ID:           "n1",
		Type:         TypeEmail,
		UserID:       "u1",
		TemplateCode: "welcome_email",
		Variables: Variables{
			Name: "Ada",
			Link: "https://example.com/verify",
		},
		RequestID: "req-1",
	}

	tests := []struct {
		name    string
		mutate  func(*NotificationMessage)
		wantErr bool
	}{
		{
			name:   "valid message",
			mutate: func(m *NotificationMessage) {},
		},
		{
			name: "missing id",
			mutate: func(m *NotificationMessage) {
				m.ID = ""
			},
			wantErr: true,
		},
		{
			name: "unknown type",
			mutate: func(m *NotificationMessage) {
				m.Type = NotificationType("sms")
			},
			wantErr: true,
		},
		{
			name: "missing variables name",
			mutate: func(m *NotificationMessage) {
				m.Variables.Name = ""
			},
			wantErr: true,
		},
		{
			name: "link is not a url",
			mutate: func(m *NotificationMessage) {
				m.Variables.Link = "not a link"
			},
			wantErr: true,
		},
		{
			name: "invalid priority",
			mutate: func(m *NotificationMessage) {
				m.Priority = Priority("urgent")
			},
			wantErr: true,
		},
		{
			name: "known priority",
			mutate: func(m *NotificationMessage) {
				m.Priority = PriorityHigh
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			current := base
			tt.mutate(&current)

			err := current.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Validate() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestUserProfileAccepts(t *testing.T) {
	t.Parallel()

	noPrefs := UserProfile{ID: "u1"}
	if !noPrefs.Accepts(TypeEmail) || !noPrefs.Accepts(TypePush) {
		t.Fatal("missing preferences should accept every channel")
	}

	emailOnly := UserProfile{ID: "u2", Preferences: &UserPreferences{Email: true}}
	if !emailOnly.Accepts(TypeEmail) {
		t.Fatal("email should be accepted")
	}
	if emailOnly.Accepts(TypePush) {
		t.Fatal("push should be rejected")
	}
}

func TestAttachmentValidate(t *testing.T) {
	t.Parallel()

	if err := (Attachment{Filename: "a.txt", DataBase64: "aGk="}).Validate(); err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}
	if err := (Attachment{Filename: "a.txt"}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation", err)
	}
	if got := (Attachment{Filename: "a.bin"}).MediaType(); got != "application/octet-stream" {
		t.Fatalf("MediaType() = %q, want application/octet-stream", got)
	}
}
