package monitor

import (
	"sync"
	"time"

	"healthbridge/internal/model"
)

type readingKey struct {
	user  string
	typ   model.VitalType
	value string
	at    int64
}

func keyOf(userID string, r model.VitalReading) readingKey {
	return readingKey{user: userID, typ: r.Type, value: r.Value.String(), at: r.Timestamp.UnixMilli()}
}

// dedupeCache remembers recently seen readings so a device retrying the same
// payload over several transports is recorded once.
type dedupeCache struct {
	mu    sync.Mutex
	items map[readingKey]time.Time
	max   int
}

func newDedupeCache(max int) *dedupeCache {
	if max <= 0 {
		max = 10000
	}
	return &dedupeCache{items: make(map[readingKey]time.Time), max: max}
}

func (d *dedupeCache) Seen(key readingKey, now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[key]; ok && now.Sub(ts) <= ttl {
		return true
	}
	d.items[key] = now
	if len(d.items) > d.max {
		for k, ts := range d.items {
			if now.Sub(ts) > ttl {
				delete(d.items, k)
			}
		}
	}
	return false
}
