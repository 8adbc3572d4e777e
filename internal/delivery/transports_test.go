package delivery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-pipeline/internal/domain"
	"github.com/mrz1836/postmark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePostmark struct {
	sent     []postmark.Email
	response postmark.EmailResponse
	err      error
}

func (f *fakePostmark) SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error) {
	f.sent = append(f.sent, email)
	return f.response, f.err
}

func TestPostmarkTransportBuildsEmail(t *testing.T) {
	t.Parallel()

	client := &fakePostmark{}
	transport, err := NewPostmarkTransportWithClient(client, "noreply@example.com")
	require.NoError(t, err)

	req := validRequest()
	req.Recipients = []string{"ada@example.com", "bob@example.com"}
	req.BodyHTML = "<p>Hello</p>"
	req.Headers = map[string]string{"X-Source": "signup", "X-Campaign": "welcome"}

	err = transport.Send(context.Background(), req, []domain.ResolvedAttachment{
		{Filename: "a.txt", ContentType: "text/plain", Data: []byte("hi")},
	})
	require.NoError(t, err)
	require.Len(t, client.sent, 1)

	email := client.sent[0]
	assert.Equal(t, "noreply@example.com", email.From)
	assert.Equal(t, "ada@example.com,bob@example.com", email.To)
	assert.Equal(t, "Welcome", email.Subject)
	assert.Equal(t, "<p>Hello</p>", email.HTMLBody)
	assert.Equal(t, "Hello Ada", email.TextBody)
	assert.Equal(t, []postmark.Header{{Name: "X-Campaign", Value: "welcome"}, {Name: "X-Source", Value: "signup"}}, email.Headers)
	require.Len(t, email.Attachments, 1)
	assert.Equal(t, "aGk=", email.Attachments[0].Content)
	assert.Equal(t, "n1", email.Metadata["notification_id"])
}

func TestPostmarkTransportClassifiesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		response      postmark.EmailResponse
		err           error
		wantPermanent bool
	}{
		{name: "network failure", err: errors.New("dial tcp: i/o timeout"), wantPermanent: false},
		{name: "inactive recipient", response: postmark.EmailResponse{ErrorCode: 406, Message: "inactive"}, wantPermanent: true},
		{name: "rate limited", response: postmark.EmailResponse{ErrorCode: 429, Message: "slow down"}, wantPermanent: false},
		{name: "maintenance", response: postmark.EmailResponse{ErrorCode: 100, Message: "maintenance"}, wantPermanent: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			transport, err := NewPostmarkTransportWithClient(&fakePostmark{response: tt.response, err: tt.err}, "noreply@example.com")
			require.NoError(t, err)

			err = transport.Send(context.Background(), validRequest(), nil)
			require.Error(t, err)
			assert.Equal(t, tt.wantPermanent, IsPermanent(err))
		})
	}
}

type fakeMulticast struct {
	message  *messaging.MulticastMessage
	response *messaging.BatchResponse
	err      error
}

func (f *fakeMulticast) SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	f.message = message
	return f.response, f.err
}

func pushRequest() Request {
	req := validRequest()
	req.Channel = domain.TypePush
	req.Recipients = []string{"token-1", "token-2"}
	req.Data = map[string]string{"link": "https://example.com"}
	return req
}

func TestFCMTransportPartialSuccess(t *testing.T) {
	t.Parallel()

	client := &fakeMulticast{response: &messaging.BatchResponse{
		SuccessCount: 1,
		FailureCount: 1,
		Responses: []*messaging.SendResponse{
			{Success: true, MessageID: "m1"},
			{Error: errors.New("unavailable")},
		},
	}}
	transport := NewFCMTransportWithClient(client, nil)

	require.NoError(t, transport.Send(context.Background(), pushRequest(), nil))
	require.NotNil(t, client.message)
	assert.Equal(t, []string{"token-1", "token-2"}, client.message.Tokens)
	assert.Equal(t, "Welcome", client.message.Notification.Title)
	assert.Equal(t, "Hello Ada", client.message.Notification.Body)
	assert.Equal(t, "https://example.com", client.message.Data["link"])
}

func TestFCMTransportAllFailedIsRetryable(t *testing.T) {
	t.Parallel()

	client := &fakeMulticast{response: &messaging.BatchResponse{
		FailureCount: 2,
		Responses: []*messaging.SendResponse{
			{Error: errors.New("unavailable")},
			{Error: errors.New("internal")},
		},
	}}
	transport := NewFCMTransportWithClient(client, nil)

	err := transport.Send(context.Background(), pushRequest(), nil)
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestHTTPFetcher(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.txt":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("payload"))
		case "/missing.txt":
			w.WriteHeader(http.StatusNotFound)
		case "/large.bin":
			_, _ = w.Write(bytes.Repeat([]byte("x"), 4096))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(nil)

	data, contentType, err := fetcher.Fetch(context.Background(), server.URL+"/ok.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	assert.Equal(t, "text/plain", contentType)

	_, _, err = fetcher.Fetch(context.Background(), server.URL+"/missing.txt")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	_, _, err = fetcher.Fetch(context.Background(), server.URL+"/flaky.txt")
	require.Error(t, err)
	assert.False(t, IsPermanent(err))

	fetcher.maxBytes = 1024
	_, _, err = fetcher.Fetch(context.Background(), server.URL+"/large.bin")
	require.ErrorIs(t, err, resty.ErrResponseBodyTooLarge)
	assert.True(t, IsPermanent(err))

	data, _, err = fetcher.Fetch(context.Background(), server.URL+"/ok.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

type fakeS3 struct {
	input *s3.GetObjectInput
	body  string
	err   error
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{
		Body:        io.NopCloser(strings.NewReader(f.body)),
		ContentType: aws.String("application/pdf"),
	}, nil
}

func TestS3Fetcher(t *testing.T) {
	t.Parallel()

	client := &fakeS3{body: "%PDF"}
	fetcher := NewS3Fetcher(client)

	data, contentType, err := fetcher.Fetch(context.Background(), "s3://reports/2026/q1.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), data)
	assert.Equal(t, "application/pdf", contentType)
	assert.Equal(t, "reports", aws.ToString(client.input.Bucket))
	assert.Equal(t, "2026/q1.pdf", aws.ToString(client.input.Key))

	missing := NewS3Fetcher(&fakeS3{err: &types.NoSuchKey{}})
	_, _, err = missing.Fetch(context.Background(), "s3://reports/none.pdf")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	_, _, err = fetcher.Fetch(context.Background(), "s3://reports")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestHTTPStatusErrorClassification(t *testing.T) {
	t.Parallel()

	assert.False(t, IsPermanent(HTTPStatusError(http.StatusTooManyRequests, "")))
	assert.False(t, IsPermanent(HTTPStatusError(http.StatusBadGateway, "")))
	assert.True(t, IsPermanent(HTTPStatusError(http.StatusBadRequest, "bad")))
	assert.True(t, IsPermanent(RequestError("canceled", context.Canceled)))
	assert.False(t, IsPermanent(context.DeadlineExceeded))
	assert.True(t, IsPermanent(domain.ErrValidation))
	assert.False(t, IsPermanent(nil))
}
