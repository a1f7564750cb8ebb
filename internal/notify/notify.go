// Package notify holds the channels an emergency is fanned out to. Every
// channel reports a model.ChannelResult instead of returning an error so the
// dispatcher can record partial failure.
package notify

import (
	"context"

	"healthbridge/internal/model"
)

const (
	ChannelChat              = "chat"
	ChannelBroadAlert        = "broadAlert"
	ChannelEmergencyServices = "emergencyServices"
)

// Notification is the finished emergency, minus fan-out results, handed to
// each channel.
type Notification struct {
	Alert model.EmergencyAlert
}

type Channel interface {
	Name() string
	Deliver(ctx context.Context, n Notification) model.ChannelResult
}

func delivered(channel string, recipients ...string) model.ChannelResult {
	return model.ChannelResult{Channel: channel, Status: model.ChannelDelivered, Recipients: recipients}
}

func failed(channel string, err error, recipients ...string) model.ChannelResult {
	return model.ChannelResult{Channel: channel, Status: model.ChannelFailed, Recipients: recipients, Error: err.Error()}
}

func skipped(channel, reason string) model.ChannelResult {
	return model.ChannelResult{Channel: channel, Status: model.ChannelSkipped, Error: reason}
}

// QualifiesForEmergencyServices is true for critical alerts that carry both a
// location and at least one vital sign.
func QualifiesForEmergencyServices(a model.EmergencyAlert) bool {
	return a.Level == model.LevelCritical && a.Location != nil && len(a.VitalSigns) > 0
}
