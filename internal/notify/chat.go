package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"healthbridge/internal/config"
	"healthbridge/internal/model"
)

type chatMessage struct {
	AlertID     string           `json:"alertId"`
	UserID      string           `json:"userId,omitempty"`
	PhoneNumber string           `json:"phoneNumber"`
	Level       model.AlertLevel `json:"level"`
	Message     string           `json:"message"`
	Timestamp   int64            `json:"timestamp"`
}

// Chat posts the emergency message to a chat webhook. Without a webhook URL
// the message is only logged and counted as delivered.
type Chat struct {
	enabled bool
	url     string
	token   string
	client  *resty.Client
	logger  *slog.Logger
}

func NewChat(cfg config.ChatConfig, logger *slog.Logger) *Chat {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &Chat{
		enabled: cfg.Enabled,
		url:     cfg.WebhookURL,
		token:   cfg.Token,
		client:  client,
		logger:  logger.With("component", "notify", "channel", ChannelChat),
	}
}

func (c *Chat) Name() string { return ChannelChat }

func (c *Chat) Deliver(ctx context.Context, n Notification) model.ChannelResult {
	a := n.Alert
	if !c.enabled {
		return skipped(ChannelChat, "chat disabled")
	}
	if c.url == "" {
		c.logger.Info("chat message simulated", "alert_id", a.ID, "phone", a.PhoneNumber, "level", a.Level)
		return delivered(ChannelChat, a.PhoneNumber)
	}
	req := c.client.R().
		SetContext(ctx).
		SetBody(chatMessage{
			AlertID:     a.ID,
			UserID:      a.UserID,
			PhoneNumber: a.PhoneNumber,
			Level:       a.Level,
			Message:     a.Message,
			Timestamp:   a.Timestamp.UnixMilli(),
		})
	if c.token != "" {
		req.SetAuthToken(c.token)
	}
	resp, err := req.Post(c.url)
	if err != nil {
		c.logger.Warn("chat webhook failed", "alert_id", a.ID, "err", err)
		return failed(ChannelChat, fmt.Errorf("chat webhook: %w", err), a.PhoneNumber)
	}
	if resp.IsError() {
		c.logger.Warn("chat webhook rejected message", "alert_id", a.ID, "status", resp.StatusCode())
		return failed(ChannelChat, fmt.Errorf("chat webhook status %d", resp.StatusCode()), a.PhoneNumber)
	}
	return delivered(ChannelChat, a.PhoneNumber)
}
