package notify

import (
	"context"
	"log/slog"
)

// Sender delivers a text message to one phone number.
type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

// LogSender stands in for an SMS gateway and only logs.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, phone, message string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("sms simulated", "component", "notify", "phone", phone, "chars", len(message))
	return nil
}
