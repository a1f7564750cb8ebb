// Package dispatch turns an emergency request into a persisted
// EmergencyAlert after fanning it out to every notification channel.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"healthbridge/internal/config"
	"healthbridge/internal/metrics"
	"healthbridge/internal/model"
	"healthbridge/internal/notify"
	"healthbridge/internal/storage"
	"healthbridge/internal/voice"
)

// VitalsSource supplies the latest reading per vital type when a request
// carries none.
type VitalsSource interface {
	LatestReadings(ctx context.Context, userID string) ([]model.VitalReading, error)
}

type Request struct {
	UserID        string
	PhoneNumber   string
	Message       string
	Level         model.AlertLevel
	Location      *model.Location
	VitalSigns    []model.VitalReading
	TriggerMethod model.TriggerMethod
	VoiceCommand  string
	DeviceInfo    map[string]any
}

type Result struct {
	Alert model.EmergencyAlert
	Voice *voice.Classification
}

// UnrecognizedError aborts a voice dispatch whose command matched no keyword.
type UnrecognizedError struct {
	Voice voice.Classification
}

func (e *UnrecognizedError) Error() string {
	return fmt.Sprintf("%s: %q", model.ErrUnrecognizedCommand, e.Voice.Command)
}

func (e *UnrecognizedError) Unwrap() error { return model.ErrUnrecognizedCommand }

type Dispatcher struct {
	logger         *slog.Logger
	store          storage.EmergencyStore
	vitals         VitalsSource
	channels       []notify.Channel
	metrics        *metrics.Recorder
	defaultMessage string
	now            func() time.Time
	newID          func() string
}

func NewDispatcher(cfg config.DispatchConfig, logger *slog.Logger, store storage.EmergencyStore, vitals VitalsSource, recorder *metrics.Recorder, channels ...notify.Channel) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	msg := cfg.DefaultMessage
	if msg == "" {
		msg = "Emergency assistance requested"
	}
	return &Dispatcher{
		logger:         logger.With("component", "dispatch"),
		store:          store,
		vitals:         vitals,
		channels:       channels,
		metrics:        recorder,
		defaultMessage: msg,
		now:            time.Now,
		newID:          uuid.NewString,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	var res Result
	phone := strings.TrimSpace(req.PhoneNumber)
	if phone == "" {
		return res, model.Invalid("phoneNumber", "phone number is required")
	}
	trigger := req.TriggerMethod
	if trigger == "" {
		trigger = model.TriggerManual
	} else if _, ok := model.ParseTriggerMethod(string(trigger)); !ok {
		return res, model.Invalid("triggerMethod", "must be manual, voice, device or threshold")
	}

	level, explicit := model.ParseAlertLevel(string(req.Level))
	base := strings.TrimSpace(req.Message)
	if trigger == model.TriggerVoice {
		command := strings.TrimSpace(req.VoiceCommand)
		if command == "" {
			command = base
		}
		c := voice.Classify(command)
		res.Voice = &c
		if !c.Recognized {
			d.logger.Info("voice command not recognized", "user_id", req.UserID, "command", command)
			return res, &UnrecognizedError{Voice: c}
		}
		if !explicit {
			level, explicit = c.Level, true
		}
		if base == "" {
			base = "Voice-activated emergency: \"" + command + "\""
		}
	}
	if !explicit {
		level = model.LevelUrgent
	}
	if base == "" {
		base = d.defaultMessage
	}

	vitals := req.VitalSigns
	if len(vitals) == 0 {
		vitals = d.latestVitals(ctx, req.UserID)
	}

	alert := model.EmergencyAlert{
		ID:            d.newID(),
		UserID:        req.UserID,
		PhoneNumber:   phone,
		Message:       FormatMessage(level, base, req.Location, vitals),
		Level:         level,
		Timestamp:     d.now().UTC(),
		Location:      req.Location,
		VitalSigns:    vitals,
		TriggerMethod: trigger,
		VoiceCommand:  req.VoiceCommand,
	}
	if len(req.DeviceInfo) > 0 {
		d.logger.Debug("emergency device info", "alert_id", alert.ID, "device", req.DeviceInfo)
	}

	alert.Channels = d.fanOut(ctx, notify.Notification{Alert: alert})
	alert.NotifiedContacts = []string{}
	for _, c := range alert.Channels {
		if c.Status != model.ChannelDelivered {
			continue
		}
		switch c.Channel {
		case notify.ChannelBroadAlert:
			alert.NotifiedContacts = append(alert.NotifiedContacts, c.Recipients...)
		case notify.ChannelEmergencyServices:
			alert.EmergencyServicesNotified = true
		}
	}

	if err := d.store.AddEmergency(ctx, alert); err != nil {
		return res, fmt.Errorf("store emergency alert: %w", err)
	}
	d.metrics.Dispatch(alert)
	d.logger.Warn("emergency dispatched",
		"alert_id", alert.ID,
		"user_id", alert.UserID,
		"level", alert.Level,
		"trigger", alert.TriggerMethod,
		"contacts", len(alert.NotifiedContacts),
		"emergency_services", alert.EmergencyServicesNotified,
	)
	res.Alert = alert
	return res, nil
}

func (d *Dispatcher) History(ctx context.Context, userID string, limit int) ([]model.EmergencyAlert, error) {
	return d.store.ListEmergencies(ctx, userID, limit)
}

func (d *Dispatcher) latestVitals(ctx context.Context, userID string) []model.VitalReading {
	if d.vitals == nil || userID == "" {
		return nil
	}
	latest, err := d.vitals.LatestReadings(ctx, userID)
	if err != nil {
		d.logger.Warn("latest vitals unavailable", "user_id", userID, "err", err)
		return nil
	}
	return latest
}

// fanOut runs every channel concurrently; results keep channel order.
func (d *Dispatcher) fanOut(ctx context.Context, n notify.Notification) []model.ChannelResult {
	results := make([]model.ChannelResult, len(d.channels))
	var wg sync.WaitGroup
	for i, ch := range d.channels {
		wg.Add(1)
		go func(i int, ch notify.Channel) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = model.ChannelResult{Channel: ch.Name(), Status: model.ChannelFailed, Error: fmt.Sprint("panic: ", r)}
				}
			}()
			results[i] = ch.Deliver(ctx, n)
			if results[i].Channel == "" {
				results[i].Channel = ch.Name()
			}
		}(i, ch)
	}
	wg.Wait()
	for _, r := range results {
		if r.Status == model.ChannelFailed {
			d.logger.Warn("notification channel failed", "alert_id", n.Alert.ID, "channel", r.Channel, "err", r.Error)
		}
	}
	return results
}

// FormatMessage renders the outgoing text: level header, base message, an
// optional map link and one line per vital sign.
func FormatMessage(level model.AlertLevel, base string, loc *model.Location, vitals []model.VitalReading) string {
	var b strings.Builder
	b.WriteString("EMERGENCY ALERT (")
	b.WriteString(strings.ToUpper(string(level)))
	b.WriteString(")\n")
	b.WriteString(base)
	if loc != nil {
		b.WriteString("\nLocation: https://www.google.com/maps?q=")
		b.WriteString(strconv.FormatFloat(loc.Latitude, 'f', -1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
		if loc.Address != "" {
			b.WriteString(" (" + loc.Address + ")")
		}
	}
	if len(vitals) > 0 {
		b.WriteString("\nVital signs:")
		for _, v := range vitals {
			if v.Value.IsZero() {
				continue
			}
			unit := v.Unit
			if unit == "" {
				unit = v.Type.DefaultUnit()
			}
			b.WriteString("\n- ")
			b.WriteString(v.Type.Label())
			b.WriteString(": ")
			b.WriteString(v.Value.String())
			if unit != "" {
				b.WriteString(" " + unit)
			}
		}
	}
	return b.String()
}
