package cooldown

import (
	"context"
	"sync"
	"time"
)

type Memory struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewMemory() *Memory {
	return &Memory{last: make(map[string]time.Time)}
}

func (m *Memory) Last(_ context.Context, userID string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.last[userID]
	return ts, ok, nil
}

func (m *Memory) Mark(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[userID] = at.UTC()
	return nil
}
