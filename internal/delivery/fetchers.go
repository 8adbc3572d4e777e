package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/go-resty/resty/v2"
)

const (
	defaultFetchTimeout = 30 * time.Second
	maxAttachmentBytes  = 25 << 20
)

// HTTPFetcher downloads http(s) attachments. Bodies over maxBytes are rejected
// while streaming, before they are fully buffered.
type HTTPFetcher struct {
	client   *resty.Client
	maxBytes int
}

func NewHTTPFetcher(client *resty.Client) *HTTPFetcher {
	if client == nil {
		client = resty.New()
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultFetchTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPFetcher{client: client, maxBytes: maxAttachmentBytes}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	response, err := f.client.R().
		SetContext(ctx).
		SetResponseBodyLimit(f.maxBytes).
		Get(rawURL)
	if errors.Is(err, resty.ErrResponseBodyTooLarge) {
		return nil, "", &TransportError{
			Message:   fmt.Sprintf("attachment exceeds %d bytes", f.maxBytes),
			Permanent: true,
			Cause:     err,
		}
	}
	if err != nil {
		return nil, "", RequestError("attachment download failed", err)
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, "", HTTPStatusError(statusCode, response.String())
	}

	return response.Body(), response.Header().Get("Content-Type"), nil
}

// S3API is the subset of the S3 client used to fetch attachments.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher downloads s3://bucket/key attachments.
type S3Fetcher struct {
	client S3API
}

func NewS3Fetcher(client S3API) *S3Fetcher {
	return &S3Fetcher{client: client}
}

// NewS3FetcherFromConfig builds an S3 client from the default AWS credential
// chain. A non-empty endpoint selects an S3-compatible service with path-style addressing.
func NewS3FetcherFromConfig(ctx context.Context, region, endpoint string) (*S3Fetcher, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3Fetcher(client), nil
}

func (f *S3Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	bucket, key, err := parseS3URL(rawURL)
	if err != nil {
		return nil, "", err
	}

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		var noSuchBucket *types.NoSuchBucket
		permanent := errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket) || errors.Is(err, context.Canceled)
		return nil, "", &TransportError{
			Message:   fmt.Sprintf("s3 get %s/%s failed", bucket, key),
			Permanent: permanent,
			Cause:     err,
		}
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxAttachmentBytes+1))
	if err != nil {
		return nil, "", RequestError("s3 body read failed", err)
	}
	if len(data) > maxAttachmentBytes {
		return nil, "", &TransportError{
			Message:   fmt.Sprintf("attachment exceeds %d bytes", maxAttachmentBytes),
			Permanent: true,
		}
	}
	return data, aws.ToString(out.ContentType), nil
}

func parseS3URL(rawURL string) (string, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", &TransportError{Message: "invalid s3 url", Permanent: true, Cause: err}
	}
	bucket := parsed.Host
	key := strings.TrimPrefix(parsed.Path, "/")
	if parsed.Scheme != "s3" || bucket == "" || key == "" {
		return "", "", &TransportError{Message: fmt.Sprintf("invalid s3 url %q", rawURL), Permanent: true}
	}
	return bucket, key, nil
}
