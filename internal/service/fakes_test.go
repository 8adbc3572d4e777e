package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/kursadbilgin/notification-pipeline/internal/delivery"
	"github.com/kursadbilgin/notification-pipeline/internal/domain"
	"github.com/kursadbilgin/notification-pipeline/internal/queue"
)

type fakePublisher struct {
	publishFn func(ctx context.Context, payload any, routingKeys ...string) queue.PublishResult
}

func (f *fakePublisher) Publish(ctx context.Context, payload any, routingKeys ...string) queue.PublishResult {
	if f.publishFn != nil {
		return f.publishFn(ctx, payload, routingKeys...)
	}
	keys := make([]queue.KeyResult, 0, len(routingKeys))
	for _, k := range routingKeys {
		keys = append(keys, queue.KeyResult{RoutingKey: k})
	}
	return queue.PublishResult{MessageID: "msg-1", Keys: keys}
}

// memoryStatusRepo mimics the timestamp-guarded upsert of the gorm repository.
type memoryStatusRepo struct {
	mu        sync.Mutex
	rows      map[string]domain.DeliveryStatus
	upsertErr error
	getErr    error
	upserts   int
}

func newMemoryStatusRepo() *memoryStatusRepo {
	return &memoryStatusRepo{rows: make(map[string]domain.DeliveryStatus)}
}

func (r *memoryStatusRepo) Upsert(ctx context.Context, s domain.DeliveryStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.upserts++
	if r.upsertErr != nil {
		return false, r.upsertErr
	}
	if existing, ok := r.rows[s.NotificationID]; ok && s.UpdatedAt.Before(existing.UpdatedAt) {
		return false, nil
	}
	r.rows[s.NotificationID] = s
	return true, nil
}

func (r *memoryStatusRepo) GetByID(ctx context.Context, id string) (domain.DeliveryStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.getErr != nil {
		return domain.DeliveryStatus{}, r.getErr
	}
	s, ok := r.rows[id]
	if !ok {
		return domain.DeliveryStatus{}, fmt.Errorf("%w: notification status %s", domain.ErrNotFound, id)
	}
	return s, nil
}

func (r *memoryStatusRepo) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

type fakeStatusCache struct {
	mu     sync.Mutex
	items  map[string]domain.DeliveryStatus
	getErr error
	setErr error
	sets   int
}

func newFakeStatusCache() *fakeStatusCache {
	return &fakeStatusCache{items: make(map[string]domain.DeliveryStatus)}
}

func (c *fakeStatusCache) Get(ctx context.Context, id string) (domain.DeliveryStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.getErr != nil {
		return domain.DeliveryStatus{}, c.getErr
	}
	s, ok := c.items[id]
	if !ok {
		return domain.DeliveryStatus{}, fmt.Errorf("%w: cached status %s", domain.ErrNotFound, id)
	}
	return s, nil
}

func (c *fakeStatusCache) Set(ctx context.Context, s domain.DeliveryStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sets++
	if c.setErr != nil {
		return c.setErr
	}
	c.items[s.NotificationID] = s
	return nil
}

type fakeProfiles struct {
	getFn func(ctx context.Context, userID string) (domain.UserProfile, error)
}

func (f *fakeProfiles) GetProfile(ctx context.Context, userID string) (domain.UserProfile, error) {
	return f.getFn(ctx, userID)
}

type renderCall struct {
	key    string
	vars   map[string]any
	format string
}

type fakeRenderer struct {
	calls    []renderCall
	renderFn func(key string) (domain.RenderedTemplate, error)
}

func (f *fakeRenderer) Render(ctx context.Context, key string, vars map[string]any, format string) (domain.RenderedTemplate, error) {
	f.calls = append(f.calls, renderCall{key: key, vars: vars, format: format})
	if f.renderFn != nil {
		return f.renderFn(key)
	}
	return domain.RenderedTemplate{TemplateKey: key, Format: format, Subject: "Welcome", Content: "Hello Ada"}, nil
}

type fakeDeliverer struct {
	requests  []delivery.Request
	deliverFn func(req delivery.Request) delivery.Result
}

func (f *fakeDeliverer) Deliver(ctx context.Context, req delivery.Request) delivery.Result {
	f.requests = append(f.requests, req)
	if f.deliverFn != nil {
		return f.deliverFn(req)
	}
	return delivery.Result{ID: req.ID, Outcome: delivery.OutcomeDelivered, Attempts: 1}
}

type fakeReporter struct {
	mu       sync.Mutex
	statuses []domain.DeliveryStatus
	dropped  []domain.DeliveryStatus
	reportFn func(ctx context.Context, s domain.DeliveryStatus)
}

func (f *fakeReporter) ReportDropped(ctx context.Context, s domain.DeliveryStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, s)
}

func (f *fakeReporter) Report(ctx context.Context, s domain.DeliveryStatus) {
	f.mu.Lock()
	f.statuses = append(f.statuses, s)
	f.mu.Unlock()

	if f.reportFn != nil {
		f.reportFn(ctx, s)
	}
}

func (f *fakeReporter) count(status domain.Status) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, s := range f.statuses {
		if s.Status == status {
			n++
		}
	}
	return n
}

func (f *fakeReporter) last() domain.DeliveryStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[len(f.statuses)-1]
}

type fakeLimiter struct {
	waitErr error
	waits   int
}

func (f *fakeLimiter) Allow(ctx context.Context, channel string) (bool, error) {
	return f.waitErr == nil, f.waitErr
}

func (f *fakeLimiter) Wait(ctx context.Context, channel string) error {
	f.waits++
	return f.waitErr
}
