package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func NewPostgres(dsn string, readingLimit int) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/healthbridge?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return newPostgresStore(db, readingLimit), nil
}

func newPostgresStore(db *sql.DB, readingLimit int) *sqlStore {
	return &sqlStore{
		baseStore:    baseStore{db: db},
		readingLimit: readingLimit,
		rebind:       dollarPlaceholders,
		schema:       postgresSchema,
	}
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS readings (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		value TEXT NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		ts BIGINT NOT NULL,
		device_id TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_user_type ON readings(user_id, type, id)`,
	`CREATE TABLE IF NOT EXISTS thresholds (
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		threshold_json TEXT NOT NULL,
		PRIMARY KEY (user_id, type)
	)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		user_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		phone_number TEXT NOT NULL DEFAULT '',
		cooldown_ms BIGINT NOT NULL DEFAULT 0,
		contacts_json TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE TABLE IF NOT EXISTS health_alerts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		phone_number TEXT NOT NULL,
		emergency_id TEXT NOT NULL DEFAULT '',
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		ts BIGINT NOT NULL,
		vitals_json TEXT NOT NULL,
		location_json TEXT NOT NULL,
		contacts_json TEXT NOT NULL,
		acknowledged INTEGER NOT NULL DEFAULT 0,
		acknowledged_at BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_health_alerts_ts ON health_alerts(ts)`,
	`CREATE TABLE IF NOT EXISTS emergency_alerts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		phone_number TEXT NOT NULL,
		level TEXT NOT NULL,
		trigger_method TEXT NOT NULL,
		ts BIGINT NOT NULL,
		alert_json TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_emergency_alerts_user_ts ON emergency_alerts(user_id, ts)`,
}
