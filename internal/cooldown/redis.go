package cooldown

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	defaultKeyPrefix = "healthbridge:cooldown:"
	defaultTTL       = 24 * time.Hour
)

// Redis keeps last-notification times as epoch milliseconds so several
// service replicas share one cooldown view.
type Redis struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedis(client redis.Cmdable, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) key(userID string) string {
	return r.prefix + userID
}

func (r *Redis) Last(ctx context.Context, userID string) (time.Time, bool, error) {
	ms, err := r.client.Get(ctx, r.key(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("get cooldown: %w", err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

func (r *Redis) Mark(ctx context.Context, userID string, at time.Time) error {
	if err := r.client.Set(ctx, r.key(userID), at.UnixMilli(), r.ttl).Err(); err != nil {
		return fmt.Errorf("set cooldown: %w", err)
	}
	return nil
}
