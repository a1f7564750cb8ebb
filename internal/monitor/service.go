// Package monitor runs the device-reading pipeline: validate, drop
// duplicates, evaluate against thresholds, record, then dispatch an
// emergency when a breach is outside the user's cooldown.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"healthbridge/internal/config"
	"healthbridge/internal/cooldown"
	"healthbridge/internal/dispatch"
	"healthbridge/internal/ingest"
	"healthbridge/internal/metrics"
	"healthbridge/internal/model"
	"healthbridge/internal/normalize"
	"healthbridge/internal/storage"
	"healthbridge/internal/threshold"
)

type Store interface {
	storage.ReadingStore
	storage.ThresholdStore
	storage.ProfileStore
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

type Outcome struct {
	UserID     string
	Reading    model.VitalReading
	Evaluation model.Evaluation
	AlertSent  bool
	Alert      *model.EmergencyAlert
	Duplicate  bool
	Suppressed bool
}

type Service struct {
	logger     *slog.Logger
	store      Store
	dispatcher Dispatcher
	gate       *cooldown.Gate
	metrics    *metrics.Recorder
	cfg        atomic.Value
	defaults   atomic.Value
	dedupe     *dedupeCache
	now        func() time.Time
	processed  atomic.Int64
	started    time.Time
}

func NewService(cfg *config.Config, logger *slog.Logger, store Store, dispatcher Dispatcher, gate *cooldown.Gate, recorder *metrics.Recorder) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if gate == nil {
		gate = cooldown.NewGate(nil)
	}
	s := &Service{
		logger:     logger.With("component", "monitor"),
		store:      store,
		dispatcher: dispatcher,
		gate:       gate,
		metrics:    recorder,
		dedupe:     newDedupeCache(0),
		now:        time.Now,
		started:    time.Now().UTC(),
	}
	if err := s.UpdateConfig(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// UpdateConfig swaps in new defaults and cooldowns. On error the previous
// configuration stays active.
func (s *Service) UpdateConfig(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	defaults, err := threshold.FromConfig(cfg.Monitoring.DefaultThresholds)
	if err != nil {
		return err
	}
	s.cfg.Store(cfg)
	s.defaults.Store(defaults)
	return nil
}

func (s *Service) config() *config.Config {
	if v := s.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (s *Service) DefaultThresholds() []model.Threshold {
	if v := s.defaults.Load(); v != nil {
		return append([]model.Threshold(nil), v.([]model.Threshold)...)
	}
	return threshold.Defaults()
}

// Thresholds returns the user's stored thresholds laid over the defaults.
func (s *Service) Thresholds(ctx context.Context, userID string) ([]model.Threshold, error) {
	stored, err := s.store.GetThresholds(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load thresholds: %w", err)
	}
	return threshold.Merge(s.DefaultThresholds(), stored), nil
}

func (s *Service) Processed() int64 { return s.processed.Load() }

func (s *Service) Started() time.Time { return s.started }

// Start consumes in until it is closed or ctx is done. The returned channel
// closes when the consumer exits.
func (s *Service) Start(ctx context.Context, in <-chan ingest.DeviceReading) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case dr, ok := <-in:
				if !ok {
					return
				}
				if _, err := s.RecordReading(ctx, dr); err != nil {
					s.logger.Warn("reading not recorded", "user_id", dr.UserID, "source", dr.Source, "err", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return done
}

func (s *Service) RecordReading(ctx context.Context, dr ingest.DeviceReading) (Outcome, error) {
	cfg := s.config()
	now := s.now().UTC()
	user := strings.TrimSpace(dr.UserID)
	if user == "" {
		return Outcome{}, model.Invalid("userId", "user id is required")
	}
	r, err := normalize.Complete(dr.Reading, now, cfg.Monitoring.MaxFutureSkew)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{UserID: user, Reading: r}

	if s.dedupe.Seen(keyOf(user, r), now, cfg.Monitoring.DedupeWindow) {
		s.metrics.Duplicate()
		s.logger.Debug("duplicate reading dropped", "user_id", user, "type", r.Type, "source", dr.Source)
		out.Duplicate = true
		out.Evaluation = model.Evaluation{Severity: model.SeverityNormal, Message: "Duplicate reading ignored"}
		return out, nil
	}

	thresholds, err := s.Thresholds(ctx, user)
	if err != nil {
		return out, err
	}
	recent, err := s.store.RecentReadings(ctx, user, r.Type, threshold.TrendPool)
	if err != nil {
		return out, fmt.Errorf("load recent readings: %w", err)
	}
	out.Evaluation = threshold.Evaluate(r, thresholds, recent)

	if err := s.store.AppendReading(ctx, user, r); err != nil {
		return out, fmt.Errorf("append reading: %w", err)
	}
	s.processed.Add(1)
	s.metrics.Reading(r.Type, out.Evaluation.Severity)

	if !out.Evaluation.Exceeded {
		return out, nil
	}
	s.logger.Warn("threshold exceeded",
		"user_id", user,
		"type", r.Type,
		"value", r.Value.String(),
		"severity", out.Evaluation.Severity,
		"rule", out.Evaluation.Rule,
	)
	s.raise(ctx, cfg, now, dr, &out)
	return out, nil
}

// raise dispatches a breach. Every failure here degrades to "no alert sent";
// the reading itself is already recorded.
func (s *Service) raise(ctx context.Context, cfg *config.Config, now time.Time, dr ingest.DeviceReading, out *Outcome) {
	if s.dispatcher == nil {
		return
	}
	profile, err := s.store.GetProfile(ctx, out.UserID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			s.logger.Warn("no profile for user; breach not dispatched", "user_id", out.UserID)
		} else {
			s.logger.Warn("profile lookup failed; breach not dispatched", "user_id", out.UserID, "err", err)
		}
		return
	}
	if strings.TrimSpace(profile.PhoneNumber) == "" {
		s.logger.Warn("profile has no phone number; breach not dispatched", "user_id", out.UserID)
		return
	}
	window := profile.NotificationCooldown
	if window <= 0 {
		window = cfg.Monitoring.DefaultCooldown
	}
	allowed, err := s.gate.Allow(ctx, out.UserID, window, now)
	if err != nil {
		s.logger.Warn("cooldown check failed; dispatching anyway", "user_id", out.UserID, "err", err)
		allowed = true
	}
	if !allowed {
		out.Suppressed = true
		s.metrics.CooldownSuppressed()
		s.logger.Info("breach within cooldown; not dispatched", "user_id", out.UserID, "cooldown", window)
		return
	}

	level := model.LevelModerate
	if out.Evaluation.Severity == model.SeverityCritical {
		level = model.LevelCritical
	}
	res, err := s.dispatcher.Dispatch(ctx, dispatch.Request{
		UserID:        out.UserID,
		PhoneNumber:   profile.PhoneNumber,
		Message:       out.Evaluation.Message,
		Level:         level,
		TriggerMethod: model.TriggerDevice,
		DeviceInfo:    dr.DeviceInfo,
	})
	if err != nil {
		s.logger.Warn("breach dispatch failed", "user_id", out.UserID, "err", err)
		return
	}
	if err := s.gate.Mark(ctx, out.UserID, now); err != nil {
		s.logger.Warn("cooldown mark failed", "user_id", out.UserID, "err", err)
	}
	out.AlertSent = true
	out.Alert = &res.Alert
}
