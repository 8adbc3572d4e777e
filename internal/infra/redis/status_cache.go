package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	statusKeyPrefix       = "notification_status:"
	defaultStatusCacheTTL = time.Hour

	fieldStatus    = "status"
	fieldError     = "error"
	fieldUpdatedAt = "updated_at"
	fieldAttempts  = "attempts"
	fieldChannel   = "channel"
	fieldRequestID = "request_id"

	// Fixed-width UTC timestamps compare correctly as strings inside the script.
	updatedAtLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// setStatusScript replaces the hash unless the cached record is strictly newer.
// Equal timestamps overwrite so a replayed status converges.
var setStatusScript = goredis.NewScript(`
local current = redis.call("HGET", KEYS[1], "updated_at")
if current and current > ARGV[1] then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("HSET", KEYS[1], unpack(ARGV, 3))
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1
`)

// StatusCache keeps the latest DeliveryStatus per notification as a redis hash
// that expires after ttl.
type StatusCache struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

func NewStatusCache(client goredis.UniversalClient, ttl time.Duration) (*StatusCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultStatusCacheTTL
	}
	return &StatusCache{client: client, ttl: ttl}, nil
}

func statusKey(notificationID string) string {
	return statusKeyPrefix + notificationID
}

// Set replaces the cached hash and its expiry atomically. A status older than
// the cached one is ignored.
func (c *StatusCache) Set(ctx context.Context, s domain.DeliveryStatus) error {
	if strings.TrimSpace(s.NotificationID) == "" {
		return fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}

	updatedAt := s.UpdatedAt.UTC().Format(updatedAtLayout)
	err := setStatusScript.Run(ctx, c.client, []string{statusKey(s.NotificationID)},
		updatedAt,
		c.ttl.Milliseconds(),
		fieldStatus, s.Status.String(),
		fieldError, s.ErrorText(),
		fieldUpdatedAt, updatedAt,
		fieldAttempts, s.Attempts,
		fieldChannel, s.Channel.String(),
		fieldRequestID, s.RequestID,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to cache status %s: %w", s.NotificationID, err)
	}
	return nil
}

// Get returns domain.ErrNotFound on a miss or an expired entry.
func (c *StatusCache) Get(ctx context.Context, notificationID string) (domain.DeliveryStatus, error) {
	fields, err := c.client.HGetAll(ctx, statusKey(notificationID)).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return domain.DeliveryStatus{}, fmt.Errorf("failed to read cached status %s: %w", notificationID, err)
	}
	if len(fields) == 0 {
		return domain.DeliveryStatus{}, fmt.Errorf("%w: cached status %s", domain.ErrNotFound, notificationID)
	}

	return decodeStatus(notificationID, fields)
}

func decodeStatus(notificationID string, fields map[string]string) (domain.DeliveryStatus, error) {
	status, err := domain.ParseStatusFromString(fields[fieldStatus])
	if err != nil {
		return domain.DeliveryStatus{}, fmt.Errorf("corrupt cached status %s: %w", notificationID, err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, fields[fieldUpdatedAt])
	if err != nil {
		return domain.DeliveryStatus{}, fmt.Errorf("corrupt cached status %s: %w", notificationID, err)
	}
	attempts, err := strconv.Atoi(fields[fieldAttempts])
	if err != nil {
		return domain.DeliveryStatus{}, fmt.Errorf("corrupt cached status %s: %w", notificationID, err)
	}

	out := domain.DeliveryStatus{
		NotificationID: notificationID,
		Status:         status,
		UpdatedAt:      updatedAt.UTC(),
		Attempts:       attempts,
		Channel:        domain.NotificationType(fields[fieldChannel]),
		RequestID:      fields[fieldRequestID],
	}
	if msg := fields[fieldError]; msg != "" {
		out.Error = &msg
	}
	return out, nil
}
