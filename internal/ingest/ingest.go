package ingest

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"healthbridge/internal/metrics"
	"healthbridge/internal/model"
	"healthbridge/internal/normalize"
)

// DeviceReading is one reading attributed to a user, as produced by every
// ingest source and consumed by the monitor.
type DeviceReading struct {
	UserID     string
	Reading    model.VitalReading
	DeviceInfo map[string]any
	Source     string
}

// Convert validates parsed fields into a DeviceReading.
func Convert(fields normalize.Fields, source string, now time.Time, maxFutureSkew time.Duration) (DeviceReading, error) {
	user := strings.TrimSpace(fields.UserID)
	if user == "" {
		return DeviceReading{}, model.Invalid("userId", "user id is required")
	}
	r, err := normalize.Reading(fields, now, maxFutureSkew)
	if err != nil {
		return DeviceReading{}, err
	}
	return DeviceReading{UserID: user, Reading: r, DeviceInfo: fields.DeviceInfo, Source: source}, nil
}

// Sink is the shared output of the asynchronous sources.
type Sink struct {
	Out     chan<- DeviceReading
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

func (s Sink) Send(ctx context.Context, dr DeviceReading) bool {
	if SendNonBlocking(ctx, s.Out, dr, s.Logger) {
		return true
	}
	if ctx.Err() == nil {
		s.Metrics.IngestDropped(dr.Source, "buffer_full")
	}
	return false
}

func (s Sink) rejected(source string, err error) {
	if s.Logger != nil {
		s.Logger.Warn("reading rejected", "source", source, "err", err)
	}
	s.Metrics.IngestDropped(source, "invalid")
}

func SendNonBlocking(ctx context.Context, out chan<- DeviceReading, dr DeviceReading, logger *slog.Logger) bool {
	select {
	case out <- dr:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("reading channel full, dropping reading", "user_id", dr.UserID, "type", dr.Reading.Type, "source", dr.Source)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
