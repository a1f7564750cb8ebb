package alerts

import (
	"context"
	"sort"
	"sync"
	"time"

	"healthbridge/internal/model"
)

// Store is the in-memory health alert history. It keeps the newest limit
// alerts and evicts the oldest first.
type Store struct {
	mu    sync.RWMutex
	buf   []model.HealthAlert
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) AddAlert(_ context.Context, alert model.HealthAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, alert)
		return nil
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = alert
	return nil
}

// ListAlerts returns matching alerts newest first.
func (s *Store) ListAlerts(_ context.Context, filter model.AlertFilter) ([]model.HealthAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.HealthAlert, 0)
	for i := len(s.buf) - 1; i >= 0; i-- {
		if filter.Match(s.buf[i]) {
			out = append(out, s.buf[i])
		}
	}
	// Appends can land out of timestamp order, so the limit applies after sorting.
	sortNewestFirst(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) AcknowledgeAlert(_ context.Context, id string, acknowledged bool, at time.Time) (model.HealthAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.buf {
		if s.buf[i].ID != id {
			continue
		}
		a := &s.buf[i]
		switch {
		case acknowledged && !a.Acknowledged:
			ts := at.UTC()
			a.Acknowledged = true
			a.AcknowledgedAt = &ts
		case !acknowledged:
			a.Acknowledged = false
			a.AcknowledgedAt = nil
		}
		return *a, nil
	}
	return model.HealthAlert{}, model.ErrNotFound
}

func (s *Store) Since(ts time.Time) []model.HealthAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.HealthAlert, 0)
	for _, a := range s.buf {
		if !a.Timestamp.Before(ts) {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func sortNewestFirst(list []model.HealthAlert) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Timestamp.After(list[j].Timestamp)
	})
}
