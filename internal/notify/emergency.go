package notify

import (
	"context"
	"log/slog"

	"healthbridge/internal/model"
)

// EmergencyServices simulates the ping to emergency services. It only fires
// for alerts that pass QualifiesForEmergencyServices.
type EmergencyServices struct {
	logger *slog.Logger
}

func NewEmergencyServices(logger *slog.Logger) *EmergencyServices {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmergencyServices{logger: logger.With("component", "notify", "channel", ChannelEmergencyServices)}
}

func (e *EmergencyServices) Name() string { return ChannelEmergencyServices }

func (e *EmergencyServices) Deliver(_ context.Context, n Notification) model.ChannelResult {
	a := n.Alert
	if !QualifiesForEmergencyServices(a) {
		return skipped(ChannelEmergencyServices, "requires critical level, location and vital signs")
	}
	e.logger.Warn("emergency services notified",
		"alert_id", a.ID,
		"user_id", a.UserID,
		"lat", a.Location.Latitude,
		"lng", a.Location.Longitude,
	)
	return delivered(ChannelEmergencyServices)
}
