package ingest

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"healthbridge/internal/config"
)

const SourceKafka = "kafka"

func StartKafka(ctx context.Context, cfg *config.Manager, sink Sink) {
	logger := sink.Logger
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		parser := NewParser()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, time.Second) {
					return
				}
				continue
			}
			handleMessage(ctx, parser, SourceKafka, string(m.Key), m.Value, cfg, sink)
		}
	}()
}

// handleMessage converts one broker message. fallbackUser fills the user id
// when the payload has none (Kafka key, MQTT topic segment).
func handleMessage(ctx context.Context, parser *Parser, source, fallbackUser string, payload []byte, cfg *config.Manager, sink Sink) {
	fields, err := parser.ParseLine(string(payload))
	if err != nil {
		sink.rejected(source, err)
		return
	}
	if fields == nil {
		return
	}
	if fields.UserID == "" {
		fields.UserID = fallbackUser
	}
	dr, err := Convert(*fields, source, time.Now(), cfg.Get().Monitoring.MaxFutureSkew)
	if err != nil {
		sink.rejected(source, err)
		return
	}
	sink.Send(ctx, dr)
}
