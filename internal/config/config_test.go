package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "healthbridge.yaml", `
log_level: debug
monitoring:
  default_cooldown: 10m
  default_thresholds:
    - type: bloodPressure
      min: "90/60"
      max: "150/95"
    - type: heartRate
      min: "45"
      max: "130"
      change_percent: 20
      time_window: 1h
storage:
  driver: sqlite
  dsn: "file:test.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level: %s", cfg.LogLevel)
	}
	if cfg.Monitoring.DefaultCooldown != 10*time.Minute {
		t.Fatalf("cooldown: %s", cfg.Monitoring.DefaultCooldown)
	}
	if len(cfg.Monitoring.DefaultThresholds) != 2 || cfg.Monitoring.DefaultThresholds[0].Max != "150/95" {
		t.Fatalf("thresholds: %+v", cfg.Monitoring.DefaultThresholds)
	}
	if cfg.Monitoring.DefaultThresholds[1].TimeWindow != time.Hour {
		t.Fatalf("time window: %s", cfg.Monitoring.DefaultThresholds[1].TimeWindow)
	}
	if cfg.Monitoring.ReadingLogLimit != 1000 || cfg.Alerts.StoreLimit != 1000 {
		t.Fatalf("defaults not applied: %+v", cfg.Monitoring)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage driver: %s", cfg.Storage.Driver)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "healthbridge.json", `{"api":{"enabled":true,"addr":":9999"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.Addr != ":9999" {
		t.Fatalf("api addr: %s", cfg.API.Addr)
	}
	if cfg.Monitoring.DefaultCooldown != 15*time.Minute {
		t.Fatalf("default cooldown: %s", cfg.Monitoring.DefaultCooldown)
	}
}

func TestLoadRejectsEmpty(t *testing.T) {
	if _, err := Load(writeFile(t, "empty.yaml", "  \n")); err == nil {
		t.Fatalf("expected error for empty config")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"kafka without brokers": func(c *Config) { c.Ingest.Kafka.Enabled = true },
		"mqtt without broker":   func(c *Config) { c.Ingest.MQTT.Enabled = true },
		"unknown storage":       func(c *Config) { c.Storage.Driver = "mongo" },
		"redis without addr":    func(c *Config) { c.Cooldown.Backend = "redis"; c.Cooldown.Redis.Addr = "" },
		"threshold without type": func(c *Config) {
			c.Monitoring.DefaultThresholds = []ThresholdConfig{{Max: "120"}}
		},
		"api without addr": func(c *Config) { c.API.Addr = "" },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HEALTHBRIDGE_API_ADDR", ":7000")
	t.Setenv("HEALTHBRIDGE_COOLDOWN_MINUTES", "30")
	t.Setenv("HEALTHBRIDGE_KAFKA_BROKERS", "k1:9092,k2:9092")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.API.Addr != ":7000" || cfg.Monitoring.DefaultCooldown != 30*time.Minute {
		t.Fatalf("env not applied: %+v", cfg.API)
	}
	if len(cfg.Ingest.Kafka.Brokers) != 2 {
		t.Fatalf("brokers: %v", cfg.Ingest.Kafka.Brokers)
	}
}

func TestManagerReload(t *testing.T) {
	path := writeFile(t, "healthbridge.yaml", "log_level: info\n")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if m.Get().LogLevel != "info" {
		t.Fatalf("log level: %s", m.Get().LogLevel)
	}
	if err := os.WriteFile(path, []byte("log_level: warn\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	needs, err := m.NeedsReload()
	if err != nil || !needs {
		t.Fatalf("expected reload needed, got %v %v", needs, err)
	}
	cfg, err := m.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.LogLevel != "warn" || m.Get().LogLevel != "warn" {
		t.Fatalf("reload not applied: %s", cfg.LogLevel)
	}
}

func TestStaticManager(t *testing.T) {
	m := NewStaticManager(DefaultConfig())
	needs, err := m.NeedsReload()
	if err != nil || needs {
		t.Fatalf("static manager should never need reload")
	}
	if _, err := m.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
}
