package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"healthbridge/internal/model"
)

// sqlStore holds the queries shared by the SQLite and Postgres backends.
// Queries are written with ? placeholders and rebound per dialect.
type sqlStore struct {
	baseStore
	readingLimit int
	rebind       func(string) string
	schema       []string
}

func (s *sqlStore) q(query string) string {
	if s.rebind == nil {
		return query
	}
	return s.rebind(query)
}

func (s *sqlStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	for _, stmt := range s.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// dollarPlaceholders rewrites ? to $1, $2, ... for Postgres.
func dollarPlaceholders(query string) string {
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) AppendReading(ctx context.Context, userID string, r model.VitalReading) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.q(
		`INSERT INTO readings (user_id, type, value, unit, ts, device_id) VALUES (?, ?, ?, ?, ?, ?)`),
		userID, string(r.Type), r.Value.String(), r.Unit, r.Timestamp.UnixMilli(), r.DeviceID,
	); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, s.q(
		`DELETE FROM readings WHERE user_id = ? AND id NOT IN (
			SELECT id FROM readings WHERE user_id = ? ORDER BY id DESC LIMIT ?)`),
		userID, userID, s.readingLimit,
	); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) RecentReadings(ctx context.Context, userID string, t model.VitalType, n int) ([]model.VitalReading, error) {
	query := `SELECT type, value, unit, ts, device_id FROM readings WHERE user_id = ?`
	args := []any{userID}
	if t != "" {
		query += ` AND type = ?`
		args = append(args, string(t))
	}
	query += ` ORDER BY id DESC`
	if n > 0 {
		query += ` LIMIT ?`
		args = append(args, n)
	}
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	out, err := scanReadings(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *sqlStore) LatestReadings(ctx context.Context, userID string) ([]model.VitalReading, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT type, value, unit, ts, device_id FROM readings WHERE id IN (
			SELECT MAX(id) FROM readings WHERE user_id = ? GROUP BY type)
		ORDER BY type`), userID)
	if err != nil {
		return nil, err
	}
	return scanReadings(rows)
}

func scanReadings(rows *sql.Rows) ([]model.VitalReading, error) {
	defer rows.Close()
	out := make([]model.VitalReading, 0)
	for rows.Next() {
		var (
			typ, value, unit, device string
			ts                       int64
		)
		if err := rows.Scan(&typ, &value, &unit, &ts, &device); err != nil {
			return nil, err
		}
		v, err := model.ParseVitalValue(value)
		if err != nil {
			return nil, fmt.Errorf("reading value %q: %w", value, err)
		}
		out = append(out, model.VitalReading{
			Type:      model.VitalType(typ),
			Value:     v,
			Unit:      unit,
			Timestamp: time.UnixMilli(ts).UTC(),
			DeviceID:  device,
		})
	}
	return out, rows.Err()
}

func (s *sqlStore) GetThresholds(ctx context.Context, userID string) ([]model.Threshold, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT threshold_json FROM thresholds WHERE user_id = ? ORDER BY type`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Threshold
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var th model.Threshold
		if err := decodeJSON(data, &th); err != nil {
			return nil, err
		}
		out = append(out, th)
	}
	return out, rows.Err()
}

// PutThresholds replaces the user's whole threshold set.
func (s *sqlStore) PutThresholds(ctx context.Context, userID string, thresholds []model.Threshold) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM thresholds WHERE user_id = ?`), userID); err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, th := range thresholds {
		if _, err := tx.ExecContext(ctx, s.q(
			`INSERT INTO thresholds (user_id, type, threshold_json) VALUES (?, ?, ?)
			ON CONFLICT (user_id, type) DO UPDATE SET threshold_json = excluded.threshold_json`),
			userID, string(th.Type), encodeJSON(th),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *sqlStore) GetProfile(ctx context.Context, userID string) (model.Profile, error) {
	var (
		p        model.Profile
		cooldown int64
		contacts string
	)
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT user_id, name, phone_number, cooldown_ms, contacts_json FROM profiles WHERE user_id = ?`), userID,
	).Scan(&p.UserID, &p.Name, &p.PhoneNumber, &cooldown, &contacts)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Profile{}, model.ErrNotFound
	}
	if err != nil {
		return model.Profile{}, err
	}
	p.NotificationCooldown = time.Duration(cooldown) * time.Millisecond
	if err := decodeJSON(contacts, &p.Contacts); err != nil {
		return model.Profile{}, err
	}
	return p, nil
}

func (s *sqlStore) PutProfile(ctx context.Context, p model.Profile) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO profiles (user_id, name, phone_number, cooldown_ms, contacts_json) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET name = excluded.name, phone_number = excluded.phone_number,
			cooldown_ms = excluded.cooldown_ms, contacts_json = excluded.contacts_json`),
		p.UserID, p.Name, p.PhoneNumber, p.NotificationCooldown.Milliseconds(), encodeJSON(p.Contacts),
	)
	return err
}

func (s *sqlStore) AddAlert(ctx context.Context, a model.HealthAlert) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO health_alerts (id, user_id, phone_number, emergency_id, level, message, ts,
			vitals_json, location_json, contacts_json, acknowledged, acknowledged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.UserID, a.PhoneNumber, a.EmergencyID, string(a.Level), a.Message, a.Timestamp.UnixMilli(),
		encodeJSON(a.VitalSigns), encodeJSON(a.Location), encodeJSON(a.NotifiedContacts),
		boolInt(a.Acknowledged), nullMillis(a.AcknowledgedAt),
	)
	return err
}

const alertColumns = `id, user_id, phone_number, emergency_id, level, message, ts,
	vitals_json, location_json, contacts_json, acknowledged, acknowledged_at`

func (s *sqlStore) ListAlerts(ctx context.Context, filter model.AlertFilter) ([]model.HealthAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM health_alerts WHERE 1 = 1`
	var args []any
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.PhoneNumber != "" {
		query += ` AND phone_number = ?`
		args = append(args, filter.PhoneNumber)
	}
	query += ` ORDER BY ts DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.HealthAlert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AcknowledgeAlert keeps the first acknowledgement time on repeated calls.
func (s *sqlStore) AcknowledgeAlert(ctx context.Context, id string, acknowledged bool, at time.Time) (model.HealthAlert, error) {
	var (
		res sql.Result
		err error
	)
	if acknowledged {
		res, err = s.db.ExecContext(ctx, s.q(
			`UPDATE health_alerts SET acknowledged = 1, acknowledged_at = COALESCE(acknowledged_at, ?) WHERE id = ?`),
			at.UTC().UnixMilli(), id)
	} else {
		res, err = s.db.ExecContext(ctx, s.q(
			`UPDATE health_alerts SET acknowledged = 0, acknowledged_at = NULL WHERE id = ?`), id)
	}
	if err != nil {
		return model.HealthAlert{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return model.HealthAlert{}, model.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+alertColumns+` FROM health_alerts WHERE id = ?`), id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.HealthAlert{}, model.ErrNotFound
	}
	return a, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (model.HealthAlert, error) {
	var (
		a                          model.HealthAlert
		level                      string
		ts                         int64
		vitals, location, contacts string
		acknowledged               int64
		acknowledgedAt             sql.NullInt64
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.PhoneNumber, &a.EmergencyID, &level, &a.Message, &ts,
		&vitals, &location, &contacts, &acknowledged, &acknowledgedAt); err != nil {
		return model.HealthAlert{}, err
	}
	a.Level = model.AlertLevel(level)
	a.Timestamp = time.UnixMilli(ts).UTC()
	a.Acknowledged = acknowledged != 0
	if acknowledgedAt.Valid {
		at := time.UnixMilli(acknowledgedAt.Int64).UTC()
		a.AcknowledgedAt = &at
	}
	if err := decodeJSON(vitals, &a.VitalSigns); err != nil {
		return model.HealthAlert{}, err
	}
	if err := decodeJSON(location, &a.Location); err != nil {
		return model.HealthAlert{}, err
	}
	if err := decodeJSON(contacts, &a.NotifiedContacts); err != nil {
		return model.HealthAlert{}, err
	}
	return a, nil
}

func (s *sqlStore) AddEmergency(ctx context.Context, e model.EmergencyAlert) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO emergency_alerts (id, user_id, phone_number, level, trigger_method, ts, alert_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.UserID, e.PhoneNumber, string(e.Level), string(e.TriggerMethod), e.Timestamp.UnixMilli(), encodeJSON(e),
	)
	return err
}

func (s *sqlStore) ListEmergencies(ctx context.Context, userID string, limit int) ([]model.EmergencyAlert, error) {
	query := `SELECT alert_json FROM emergency_alerts`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY ts DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.EmergencyAlert, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var e model.EmergencyAlert
		if err := decodeJSON(data, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}
