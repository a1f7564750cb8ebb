package storage

import (
	"context"
	"sort"
	"sync"

	"healthbridge/internal/alerts"
	"healthbridge/internal/model"
)

// Memory keeps everything for the process lifetime only.
type Memory struct {
	*alerts.Store

	mu           sync.RWMutex
	readingLimit int
	readings     map[string][]model.VitalReading
	thresholds   map[string][]model.Threshold
	profiles     map[string]model.Profile
	emergencies  []model.EmergencyAlert
}

func NewMemory(readingLimit int, alertStore *alerts.Store) *Memory {
	if readingLimit <= 0 {
		readingLimit = 1000
	}
	if alertStore == nil {
		alertStore = alerts.NewStore(0)
	}
	return &Memory{
		Store:        alertStore,
		readingLimit: readingLimit,
		readings:     make(map[string][]model.VitalReading),
		thresholds:   make(map[string][]model.Threshold),
		profiles:     make(map[string]model.Profile),
	}
}

func (m *Memory) Init(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }

func (m *Memory) AppendReading(_ context.Context, userID string, r model.VitalReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := m.readings[userID]
	if len(log) < m.readingLimit {
		m.readings[userID] = append(log, r)
		return nil
	}
	copy(log, log[1:])
	log[len(log)-1] = r
	return nil
}

func (m *Memory) RecentReadings(_ context.Context, userID string, t model.VitalType, n int) ([]model.VitalReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	log := m.readings[userID]
	out := make([]model.VitalReading, 0)
	for i := len(log) - 1; i >= 0; i-- {
		if t != "" && log[i].Type != t {
			continue
		}
		out = append(out, log[i])
		if n > 0 && len(out) >= n {
			break
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (m *Memory) LatestReadings(_ context.Context, userID string) ([]model.VitalReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	log := m.readings[userID]
	seen := make(map[model.VitalType]bool)
	out := make([]model.VitalReading, 0)
	for i := len(log) - 1; i >= 0; i-- {
		if seen[log[i].Type] {
			continue
		}
		seen[log[i].Type] = true
		out = append(out, log[i])
	}
	sortByType(out)
	return out, nil
}

func (m *Memory) GetThresholds(_ context.Context, userID string) ([]model.Threshold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list, ok := m.thresholds[userID]
	if !ok {
		return nil, nil
	}
	return append([]model.Threshold(nil), list...), nil
}

func (m *Memory) PutThresholds(_ context.Context, userID string, thresholds []model.Threshold) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds[userID] = append([]model.Threshold(nil), thresholds...)
	return nil
}

func (m *Memory) GetProfile(_ context.Context, userID string) (model.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return model.Profile{}, model.ErrNotFound
	}
	p.Contacts = append([]model.Contact(nil), p.Contacts...)
	return p, nil
}

func (m *Memory) PutProfile(_ context.Context, p model.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Contacts = append([]model.Contact(nil), p.Contacts...)
	m.profiles[p.UserID] = p
	return nil
}

func (m *Memory) AddEmergency(_ context.Context, alert model.EmergencyAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emergencies = append(m.emergencies, alert)
	return nil
}

// ListEmergencies returns newest first; an empty userID lists everyone.
func (m *Memory) ListEmergencies(_ context.Context, userID string, limit int) ([]model.EmergencyAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.EmergencyAlert, 0)
	for i := len(m.emergencies) - 1; i >= 0; i-- {
		e := m.emergencies[i]
		if userID != "" && e.UserID != userID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func sortByType(list []model.VitalReading) {
	sort.Slice(list, func(i, j int) bool { return list[i].Type < list[j].Type })
}
