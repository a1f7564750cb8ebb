package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"healthbridge/internal/config"
)

const SourceMQTT = "mqtt"

// StartMQTT subscribes to the configured topic filter. The user id is taken
// from the topic segment matching the filter's "+" when the payload has none.
func StartMQTT(ctx context.Context, cfg *config.Manager, sink Sink) error {
	logger := sink.Logger
	current := cfg.Get().Ingest.MQTT
	if !current.Enabled {
		if logger != nil {
			logger.Info("mqtt ingest disabled")
		}
		return nil
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(current.Broker)
	opts.SetClientID(current.ClientID)
	if current.Username != "" {
		opts.SetUsername(current.Username)
	}
	if current.Password != "" {
		opts.SetPassword(current.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if logger != nil {
			logger.Warn("mqtt connection lost", "err", err)
		}
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect mqtt broker: %w", token.Error())
	}

	var mu sync.Mutex
	parser := NewParser()
	filter := current.Topic
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		mu.Lock()
		defer mu.Unlock()
		handleMessage(ctx, parser, SourceMQTT, UserFromTopic(filter, msg.Topic()), msg.Payload(), cfg, sink)
	}
	if token := client.Subscribe(filter, current.QoS, handler); token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return fmt.Errorf("subscribe %s: %w", filter, token.Error())
	}
	if logger != nil {
		logger.Info("mqtt ingest enabled", "broker", current.Broker, "topic", filter, "qos", current.QoS)
	}
	go func() {
		<-ctx.Done()
		client.Disconnect(250)
	}()
	return nil
}

// UserFromTopic returns the topic level matched by the first single-level
// wildcard in filter, or "" when the filter has none or the topic is shorter.
func UserFromTopic(filter, topic string) string {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, level := range f {
		if level == "+" {
			if i < len(t) {
				return t[i]
			}
			return ""
		}
		if level == "#" {
			return ""
		}
	}
	return ""
}
