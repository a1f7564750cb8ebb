// Package cooldown tracks when each user was last notified so repeated
// threshold breaches do not fan out duplicate emergency notifications.
//
// The window is per user, not per metric: a breach on any vital resets it
// for all of them.
package cooldown

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"healthbridge/internal/config"
)

type Store interface {
	Last(ctx context.Context, userID string) (time.Time, bool, error)
	Mark(ctx context.Context, userID string, at time.Time) error
}

type Gate struct {
	store Store
}

func NewGate(store Store) *Gate {
	if store == nil {
		store = NewMemory()
	}
	return &Gate{store: store}
}

// Allow reports whether a notification may be sent now. Allow and Mark are
// separate calls, so two concurrent breaches for one user can both pass.
func (g *Gate) Allow(ctx context.Context, userID string, window time.Duration, now time.Time) (bool, error) {
	if window <= 0 {
		return true, nil
	}
	last, ok, err := g.store.Last(ctx, userID)
	if err != nil {
		return false, err
	}
	return Elapsed(last, ok, now, window), nil
}

func (g *Gate) Mark(ctx context.Context, userID string, now time.Time) error {
	return g.store.Mark(ctx, userID, now)
}

func (g *Gate) Last(ctx context.Context, userID string) (time.Time, bool, error) {
	return g.store.Last(ctx, userID)
}

func Elapsed(last time.Time, ok bool, now time.Time, window time.Duration) bool {
	if !ok || last.IsZero() {
		return true
	}
	return now.Sub(last) >= window
}

// NewStore builds the configured backend. The returned close func releases
// the backend's connections and is never nil.
func NewStore(cfg config.CooldownConfig) (Store, func() error, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return NewMemory(), func() error { return nil }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return NewRedis(client, cfg.Redis.KeyPrefix, cfg.Redis.TTL), client.Close, nil
	default:
		return nil, nil, errors.New("unsupported cooldown backend")
	}
}
