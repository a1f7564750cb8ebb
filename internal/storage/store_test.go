package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthbridge/internal/alerts"
	"healthbridge/internal/config"
	"healthbridge/internal/model"
)

var base = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func heart(bpm float64, offset time.Duration) model.VitalReading {
	return model.VitalReading{Type: model.HeartRate, Value: model.Scalar(bpm), Unit: "bpm", Timestamp: base.Add(offset)}
}

func openSQLite(t *testing.T, limit int) Store {
	t.Helper()
	s, err := NewSQLite("file:"+filepath.Join(t.TempDir(), "hb.db"), limit)
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func backends(t *testing.T, limit int) map[string]Store {
	return map[string]Store{
		"memory": NewMemory(limit, alerts.NewStore(100)),
		"sqlite": openSQLite(t, limit),
	}
}

func TestReadingLogCapAndOrder(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t, 3) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				require.NoError(t, s.AppendReading(ctx, "u1", heart(float64(60+i), time.Duration(i)*time.Minute)))
			}
			require.NoError(t, s.AppendReading(ctx, "u2", heart(99, 0)))

			recent, err := s.RecentReadings(ctx, "u1", model.HeartRate, 0)
			require.NoError(t, err)
			require.Len(t, recent, 3)
			assert.Equal(t, 62.0, recent[0].Value.Float())
			assert.Equal(t, 64.0, recent[2].Value.Float())
			assert.True(t, recent[2].Timestamp.Equal(base.Add(4*time.Minute)))

			two, err := s.RecentReadings(ctx, "u1", "", 2)
			require.NoError(t, err)
			require.Len(t, two, 2)
			assert.Equal(t, 63.0, two[0].Value.Float())
		})
	}
}

func TestLatestReadingsPerType(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t, 100) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.AppendReading(ctx, "u1", heart(70, 0)))
			require.NoError(t, s.AppendReading(ctx, "u1", model.VitalReading{
				Type: model.BloodPressure, Value: model.Pressure(120, 80), Unit: "mmHg", Timestamp: base,
			}))
			require.NoError(t, s.AppendReading(ctx, "u1", heart(88, time.Minute)))

			latest, err := s.LatestReadings(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, latest, 2)
			assert.Equal(t, model.BloodPressure, latest[0].Type)
			sys, dia := latest[0].Value.Pressure()
			assert.Equal(t, 120, sys)
			assert.Equal(t, 80, dia)
			assert.Equal(t, 88.0, latest[1].Value.Float())

			none, err := s.LatestReadings(ctx, "nobody")
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestThresholdsReplace(t *testing.T) {
	ctx := context.Background()
	maxHR := model.Scalar(110)
	maxBP := model.Pressure(150, 95)
	for name, s := range backends(t, 100) {
		t.Run(name, func(t *testing.T) {
			got, err := s.GetThresholds(ctx, "u1")
			require.NoError(t, err)
			assert.Nil(t, got)

			require.NoError(t, s.PutThresholds(ctx, "u1", []model.Threshold{
				{Type: model.HeartRate, Max: &maxHR, ChangePercent: 20, TimeWindow: time.Hour},
				{Type: model.BloodPressure, Max: &maxBP},
			}))
			require.NoError(t, s.PutThresholds(ctx, "u1", []model.Threshold{
				{Type: model.HeartRate, Max: &maxHR, ChangePercent: 15, TimeWindow: time.Hour},
			}))
			got, err = s.GetThresholds(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, 15.0, got[0].ChangePercent)
			assert.Equal(t, time.Hour, got[0].TimeWindow)
			assert.Equal(t, 110.0, got[0].Max.Float())
		})
	}
}

func TestProfiles(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t, 100) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetProfile(ctx, "u1")
			assert.ErrorIs(t, err, model.ErrNotFound)

			p := model.Profile{
				UserID:               "u1",
				Name:                 "Asha",
				PhoneNumber:          "+15550001",
				NotificationCooldown: 10 * time.Minute,
				Contacts: []model.Contact{
					{Name: "Ravi", PhoneNumber: "+15550002", NotificationPreference: model.NotifyCritical},
				},
			}
			require.NoError(t, s.PutProfile(ctx, p))
			p.PhoneNumber = "+15550009"
			require.NoError(t, s.PutProfile(ctx, p))

			got, err := s.GetProfile(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, "+15550009", got.PhoneNumber)
			assert.Equal(t, 10*time.Minute, got.NotificationCooldown)
			require.Len(t, got.Contacts, 1)
			assert.Equal(t, model.NotifyCritical, got.Contacts[0].NotificationPreference)
		})
	}
}

func TestHealthAlertsAcknowledge(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t, 100) {
		t.Run(name, func(t *testing.T) {
			for i, id := range []string{"a1", "a2"} {
				require.NoError(t, s.AddAlert(ctx, model.HealthAlert{
					ID:               id,
					UserID:           "u1",
					PhoneNumber:      "+15550001",
					Level:            model.LevelCritical,
					Message:          "EMERGENCY",
					Timestamp:        base.Add(time.Duration(i) * time.Minute),
					NotifiedContacts: []string{"+15550002"},
					Location:         &model.Location{Latitude: 1, Longitude: 2},
				}))
			}
			list, err := s.ListAlerts(ctx, model.AlertFilter{UserID: "u1"})
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "a2", list[0].ID)
			assert.Equal(t, []string{"+15550002"}, list[0].NotifiedContacts)
			require.NotNil(t, list[0].Location)

			first := base.Add(time.Hour)
			a, err := s.AcknowledgeAlert(ctx, "a1", true, first)
			require.NoError(t, err)
			require.NotNil(t, a.AcknowledgedAt)
			a, err = s.AcknowledgeAlert(ctx, "a1", true, first.Add(time.Hour))
			require.NoError(t, err)
			assert.True(t, a.Acknowledged)
			assert.True(t, a.AcknowledgedAt.Equal(first))

			a, err = s.AcknowledgeAlert(ctx, "a1", false, first)
			require.NoError(t, err)
			assert.False(t, a.Acknowledged)
			assert.Nil(t, a.AcknowledgedAt)

			_, err = s.AcknowledgeAlert(ctx, "missing", true, first)
			assert.ErrorIs(t, err, model.ErrNotFound)
		})
	}
}

func TestEmergencyHistory(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t, 100) {
		t.Run(name, func(t *testing.T) {
			for i, user := range []string{"u1", "u2", "u1"} {
				require.NoError(t, s.AddEmergency(ctx, model.EmergencyAlert{
					ID:            "e" + string(rune('0'+i)),
					UserID:        user,
					PhoneNumber:   "+1555000" + user,
					Level:         model.LevelUrgent,
					TriggerMethod: model.TriggerManual,
					Timestamp:     base.Add(time.Duration(i) * time.Minute),
					Channels:      []model.ChannelResult{{Channel: "chat", Status: model.ChannelDelivered}},
				}))
			}
			u1, err := s.ListEmergencies(ctx, "u1", 0)
			require.NoError(t, err)
			require.Len(t, u1, 2)
			assert.Equal(t, "e2", u1[0].ID)
			assert.Equal(t, model.ChannelDelivered, u1[0].Channels[0].Status)

			one, err := s.ListEmergencies(ctx, "", 1)
			require.NoError(t, err)
			require.Len(t, one, 1)
		})
	}
}

func TestDollarPlaceholders(t *testing.T) {
	assert.Equal(t, "a = $1 AND b = $2 LIMIT $3", dollarPlaceholders("a = ? AND b = ? LIMIT ?"))
	assert.Equal(t, "SELECT 1", dollarPlaceholders("SELECT 1"))
}

func TestPostgresAppendUsesDollarPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := newPostgresStore(db, 1000)

	r := heart(72, 0)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO readings \(user_id, type, value, unit, ts, device_id\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6\)`).
		WithArgs("u1", "heartRate", "72", "bpm", r.Timestamp.UnixMilli(), "").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`DELETE FROM readings WHERE user_id = \$1`).
		WithArgs("u1", "u1", 1000).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, s.AppendReading(context.Background(), "u1", r))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendRollsBackOnTrimFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := newPostgresStore(db, 1000)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO readings`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`DELETE FROM readings`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err = s.AppendReading(context.Background(), "u1", heart(72, 0))
	assert.ErrorIs(t, err, assert.AnError)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAcknowledgeUnknown(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := newPostgresStore(db, 1000)

	mock.ExpectExec(`UPDATE health_alerts SET acknowledged = 1, acknowledged_at = COALESCE\(acknowledged_at, \$1\) WHERE id = \$2`).
		WithArgs(sqlmock.AnyArg(), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err = s.AcknowledgeAlert(context.Background(), "missing", true, base)
	assert.ErrorIs(t, err, model.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresProfileNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := newPostgresStore(db, 1000)

	mock.ExpectQuery(`SELECT user_id, name, phone_number, cooldown_ms, contacts_json FROM profiles WHERE user_id = \$1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "name", "phone_number", "cooldown_ms", "contacts_json"}))

	_, err = s.GetProfile(context.Background(), "u1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewStoreDrivers(t *testing.T) {
	s, err := NewStore(config.StorageConfig{Driver: "memory"}, Options{})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	_, err = NewStore(config.StorageConfig{Driver: "mongo"}, Options{})
	assert.Error(t, err)
}
