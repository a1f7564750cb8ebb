package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"healthbridge/internal/alerts"
	"healthbridge/internal/config"
	"healthbridge/internal/model"
)

type ReadingStore interface {
	AppendReading(ctx context.Context, userID string, r model.VitalReading) error
	// RecentReadings returns up to n readings in chronological order. An
	// empty type matches every vital type.
	RecentReadings(ctx context.Context, userID string, t model.VitalType, n int) ([]model.VitalReading, error)
	LatestReadings(ctx context.Context, userID string) ([]model.VitalReading, error)
}

type ThresholdStore interface {
	// GetThresholds returns nil without error when the user has none configured.
	GetThresholds(ctx context.Context, userID string) ([]model.Threshold, error)
	PutThresholds(ctx context.Context, userID string, thresholds []model.Threshold) error
}

type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (model.Profile, error)
	PutProfile(ctx context.Context, p model.Profile) error
}

type AlertStore interface {
	AddAlert(ctx context.Context, alert model.HealthAlert) error
	ListAlerts(ctx context.Context, filter model.AlertFilter) ([]model.HealthAlert, error)
	AcknowledgeAlert(ctx context.Context, id string, acknowledged bool, at time.Time) (model.HealthAlert, error)
}

type EmergencyStore interface {
	AddEmergency(ctx context.Context, alert model.EmergencyAlert) error
	ListEmergencies(ctx context.Context, userID string, limit int) ([]model.EmergencyAlert, error)
}

type Store interface {
	ReadingStore
	ThresholdStore
	ProfileStore
	AlertStore
	EmergencyStore
	Init(ctx context.Context) error
	Close() error
}

type Options struct {
	ReadingLogLimit int
	AlertLimit      int
}

func NewStore(cfg config.StorageConfig, opts Options) (Store, error) {
	if opts.ReadingLogLimit <= 0 {
		opts.ReadingLogLimit = 1000
	}
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return NewMemory(opts.ReadingLogLimit, alerts.NewStore(opts.AlertLimit)), nil
	case "sqlite":
		return NewSQLite(cfg.DSN, opts.ReadingLogLimit)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN, opts.ReadingLogLimit)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func decodeJSON(data string, dest any) error {
	if data == "" || data == "null" {
		return nil
	}
	return json.Unmarshal([]byte(data), dest)
}
