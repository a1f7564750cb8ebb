package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"healthbridge/internal/model"
)

type AlertSink interface {
	AddAlert(ctx context.Context, alert model.HealthAlert) error
}

type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (model.Profile, error)
}

// BroadAlert records a health alert for the emergency and texts every
// emergency contact whose preference accepts the alert level.
type BroadAlert struct {
	alerts   AlertSink
	profiles ProfileSource
	sms      Sender
	logger   *slog.Logger
	newID    func() string
}

func NewBroadAlert(alerts AlertSink, profiles ProfileSource, sms Sender, logger *slog.Logger) *BroadAlert {
	if logger == nil {
		logger = slog.Default()
	}
	if sms == nil {
		sms = LogSender{Logger: logger}
	}
	return &BroadAlert{
		alerts:   alerts,
		profiles: profiles,
		sms:      sms,
		logger:   logger.With("component", "notify", "channel", ChannelBroadAlert),
		newID:    uuid.NewString,
	}
}

func (b *BroadAlert) Name() string { return ChannelBroadAlert }

func (b *BroadAlert) Deliver(ctx context.Context, n Notification) model.ChannelResult {
	a := n.Alert
	contacts := b.contacts(ctx, a.UserID)

	notified := make([]string, 0, len(contacts))
	var sendErrs []string
	for _, c := range contacts {
		if !c.Wants(a.Level) || c.PhoneNumber == "" {
			continue
		}
		if err := b.sms.Send(ctx, c.PhoneNumber, a.Message); err != nil {
			b.logger.Warn("contact sms failed", "alert_id", a.ID, "phone", c.PhoneNumber, "err", err)
			sendErrs = append(sendErrs, c.PhoneNumber+": "+err.Error())
			continue
		}
		notified = append(notified, c.PhoneNumber)
	}

	record := model.HealthAlert{
		ID:               b.newID(),
		UserID:           a.UserID,
		PhoneNumber:      a.PhoneNumber,
		EmergencyID:      a.ID,
		Level:            a.Level,
		Message:          a.Message,
		VitalSigns:       a.VitalSigns,
		Location:         a.Location,
		Timestamp:        a.Timestamp,
		NotifiedContacts: notified,
	}
	if err := b.alerts.AddAlert(ctx, record); err != nil {
		b.logger.Warn("health alert not stored", "alert_id", a.ID, "err", err)
		return failed(ChannelBroadAlert, fmt.Errorf("store health alert: %w", err), notified...)
	}
	res := delivered(ChannelBroadAlert, notified...)
	if len(sendErrs) > 0 {
		res.Error = strings.Join(sendErrs, "; ")
	}
	return res
}

// contacts degrades to none when the profile lookup fails.
func (b *BroadAlert) contacts(ctx context.Context, userID string) []model.Contact {
	if userID == "" || b.profiles == nil {
		return nil
	}
	p, err := b.profiles.GetProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			b.logger.Warn("contact lookup failed", "user_id", userID, "err", err)
		}
		return nil
	}
	return p.Contacts
}
