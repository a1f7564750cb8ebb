package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"healthbridge/internal/model"
)

// Fields is a reading as text, the way it arrives from JSON maps, CSV lines
// and query strings.
type Fields struct {
	UserID     string
	Type       string
	Value      string
	Unit       string
	Timestamp  string
	DeviceID   string
	DeviceInfo map[string]any
	Raw        string
}

// Reading parses fields into a VitalReading. A missing timestamp becomes now
// and a timestamp further than maxFutureSkew ahead of now is clamped to now.
func Reading(fields Fields, now time.Time, maxFutureSkew time.Duration) (model.VitalReading, error) {
	t, ok := model.ParseVitalType(fields.Type)
	if !ok {
		if strings.TrimSpace(fields.Type) == "" {
			return model.VitalReading{}, model.Invalid("type", "vital sign type is required")
		}
		return model.VitalReading{}, model.Invalid("type", fmt.Sprintf("unknown vital sign type %q", fields.Type))
	}
	if strings.TrimSpace(fields.Value) == "" {
		return model.VitalReading{}, model.Invalid("value", "vital sign value is required")
	}
	value, err := model.ParseVitalValue(fields.Value)
	if err != nil {
		return model.VitalReading{}, model.Invalid("value", err.Error())
	}
	r := model.VitalReading{
		Type:     t,
		Value:    value,
		Unit:     strings.TrimSpace(fields.Unit),
		DeviceID: strings.TrimSpace(fields.DeviceID),
	}
	if ts := strings.TrimSpace(fields.Timestamp); ts != "" {
		parsed, err := ParseTimestamp(ts, time.UTC)
		if err != nil {
			return model.VitalReading{}, model.Invalid("timestamp", err.Error())
		}
		r.Timestamp = parsed
	}
	return Complete(r, now, maxFutureSkew)
}

// Complete checks an already typed reading and fills unit and timestamp.
func Complete(r model.VitalReading, now time.Time, maxFutureSkew time.Duration) (model.VitalReading, error) {
	if _, ok := model.ParseVitalType(string(r.Type)); !ok {
		return model.VitalReading{}, model.Invalid("type", fmt.Sprintf("unknown vital sign type %q", r.Type))
	}
	if r.Value.IsZero() {
		return model.VitalReading{}, model.Invalid("value", "vital sign value is required")
	}
	if !r.Value.Finite() {
		return model.VitalReading{}, model.Invalid("value", "vital sign value must be a finite number")
	}
	if !r.Value.MatchesType(r.Type) {
		if r.Type == model.BloodPressure {
			return model.VitalReading{}, model.Invalid("value", "blood pressure must be \"systolic/diastolic\"")
		}
		return model.VitalReading{}, model.Invalid("value", fmt.Sprintf("%s must be a number", r.Type))
	}
	if r.Unit == "" {
		r.Unit = r.Type.DefaultUnit()
	}
	now = now.UTC()
	switch {
	case r.Timestamp.IsZero():
		r.Timestamp = now
	case maxFutureSkew > 0 && r.Timestamp.After(now.Add(maxFutureSkew)):
		r.Timestamp = now
	default:
		r.Timestamp = r.Timestamp.UTC()
	}
	return r, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

// ParseTimestamp accepts epoch milliseconds (13+ digits), epoch seconds and
// the common RFC3339-like layouts.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
