package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"healthbridge/internal/api"
	"healthbridge/internal/config"
	"healthbridge/internal/cooldown"
	"healthbridge/internal/dispatch"
	"healthbridge/internal/ingest"
	"healthbridge/internal/logging"
	"healthbridge/internal/metrics"
	"healthbridge/internal/monitor"
	"healthbridge/internal/notify"
	"healthbridge/internal/storage"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("HEALTHBRIDGE_CONFIG"), "path to YAML or JSON config file")
	writeConfig := flag.String("write-config", "", "write the default config to this path and exit")
	flag.Parse()

	if *writeConfig != "" {
		if err := config.Save(*writeConfig, config.DefaultConfig()); err != nil {
			fmt.Fprintln(os.Stderr, "write config:", err)
			os.Exit(1)
		}
		return
	}

	manager, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	cfg := manager.Get()
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting healthbridge", "version", version, "config", manager.Path(), "storage", cfg.Storage.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, manager, logger); err != nil {
		logger.Error("shutdown with error", "err", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}

func loadConfig(path string) (*config.Manager, error) {
	if path != "" {
		return config.NewManager(config.ResolvePath(path))
	}
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	return config.NewStaticManager(cfg), nil
}

func run(ctx context.Context, manager *config.Manager, logger *slog.Logger) error {
	cfg := manager.Get()

	store, err := storage.NewStore(cfg.Storage, storage.Options{
		ReadingLogLimit: cfg.Monitoring.ReadingLogLimit,
		AlertLimit:      cfg.Alerts.StoreLimit,
	})
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer store.Close()
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = store.Init(initCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}

	cooldownStore, closeCooldown, err := cooldown.NewStore(cfg.Cooldown)
	if err != nil {
		return fmt.Errorf("cooldown: %w", err)
	}
	defer closeCooldown()
	gate := cooldown.NewGate(cooldownStore)

	recorder := metrics.NewRecorder()
	channels := []notify.Channel{
		notify.NewChat(cfg.Dispatch.Chat, logger),
		notify.NewBroadAlert(store, store, notify.LogSender{Logger: logger}, logger),
	}
	if cfg.Dispatch.EmergencyServices {
		channels = append(channels, notify.NewEmergencyServices(logger))
	}
	dispatcher := dispatch.NewDispatcher(cfg.Dispatch, logger, store, store, recorder, channels...)

	mon, err := monitor.NewService(cfg, logger, store, dispatcher, gate, recorder)
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}

	readings := make(chan ingest.DeviceReading, cfg.Ingest.ChannelBuffer)
	mon.Start(ctx, readings)
	sink := ingest.Sink{Out: readings, Logger: logger, Metrics: recorder}
	ingest.StartREST(ctx, manager, sink)
	ingest.StartTCPStream(ctx, manager, sink)
	ingest.StartFileTail(ctx, manager, sink)
	ingest.StartKafka(ctx, manager, sink)
	if err := ingest.StartMQTT(ctx, manager, sink); err != nil {
		logger.Warn("mqtt ingest unavailable", "err", err)
	}

	server := api.NewServer(manager, store, mon, dispatcher, recorder, logger, version)
	api.Start(ctx, manager, server)

	go manager.Watch(3*time.Second, func(next *config.Config) {
		if err := mon.UpdateConfig(next); err != nil {
			logger.Warn("config reload rejected", "err", err)
			return
		}
		logger.Info("config reloaded", "path", manager.Path())
	}, func(err error) {
		logger.Warn("config reload failed", "err", err)
	}, ctx.Done())

	<-ctx.Done()
	// Let HTTP servers finish their graceful shutdown.
	time.Sleep(500 * time.Millisecond)
	return nil
}
