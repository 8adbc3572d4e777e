package delivery

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Fetcher downloads a remote attachment.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (data []byte, contentType string, err error)
}

// AttachmentResolver turns attachment references into bytes. Remote fetchers
// are selected by URL scheme.
type AttachmentResolver struct {
	fetchers map[string]Fetcher
	timeout  time.Duration
}

func NewAttachmentResolver(timeout time.Duration) *AttachmentResolver {
	return &AttachmentResolver{
		fetchers: make(map[string]Fetcher),
		timeout:  timeout,
	}
}

// Register serves the given URL schemes with f.
func (r *AttachmentResolver) Register(f Fetcher, schemes ...string) *AttachmentResolver {
	for _, scheme := range schemes {
		r.fetchers[strings.ToLower(scheme)] = f
	}
	return r
}

// Resolve validates every attachment up front, then decodes and fetches them
// concurrently. Malformed attachments return domain.ErrValidation.
func (r *AttachmentResolver) Resolve(ctx context.Context, attachments []domain.Attachment) ([]domain.ResolvedAttachment, error) {
	if len(attachments) == 0 {
		return nil, nil
	}

	fetchers := make([]Fetcher, len(attachments))
	for i, a := range attachments {
		if err := a.Validate(); err != nil {
			return nil, err
		}
		if strings.TrimSpace(a.DataBase64) != "" {
			continue
		}
		f, err := r.fetcherFor(a.RemoteURL)
		if err != nil {
			return nil, err
		}
		fetchers[i] = f
	}

	resolved := make([]domain.ResolvedAttachment, len(attachments))
	g, gctx := errgroup.WithContext(ctx)
	for i, a := range attachments {
		g.Go(func() error {
			out, err := r.resolveOne(gctx, a, fetchers[i])
			if err != nil {
				return err
			}
			resolved[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return resolved, nil
}

func (r *AttachmentResolver) resolveOne(ctx context.Context, a domain.Attachment, f Fetcher) (domain.ResolvedAttachment, error) {
	out := domain.ResolvedAttachment{Filename: a.Filename, ContentType: a.MediaType()}

	if f == nil {
		data, err := base64.StdEncoding.Strict().DecodeString(strings.TrimSpace(a.DataBase64))
		if err != nil {
			return out, fmt.Errorf("%w: attachment %q has invalid base64: %v", domain.ErrValidation, a.Filename, err)
		}
		out.Data = data
		return out, nil
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	data, contentType, err := f.Fetch(ctx, a.RemoteURL)
	if err != nil {
		return out, fmt.Errorf("fetch attachment %q: %w", a.Filename, err)
	}
	out.Data = data
	if strings.TrimSpace(a.ContentType) == "" && contentType != "" {
		out.ContentType = contentType
	}
	return out, nil
}

func (r *AttachmentResolver) fetcherFor(rawURL string) (Fetcher, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("%w: invalid attachment url %q", domain.ErrValidation, rawURL)
	}
	f, ok := r.fetchers[strings.ToLower(parsed.Scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported attachment url scheme %q", domain.ErrValidation, parsed.Scheme)
	}
	return f, nil
}
