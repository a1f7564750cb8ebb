package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel   string           `json:"log_level" yaml:"log_level"`
	LogFormat  string           `json:"log_format" yaml:"log_format"`
	Ingest     IngestConfig     `json:"ingest" yaml:"ingest"`
	Monitoring MonitoringConfig `json:"monitoring" yaml:"monitoring"`
	Dispatch   DispatchConfig   `json:"dispatch" yaml:"dispatch"`
	Cooldown   CooldownConfig   `json:"cooldown" yaml:"cooldown"`
	API        APIConfig        `json:"api" yaml:"api"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Alerts     AlertsConfig     `json:"alerts" yaml:"alerts"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	FileTail      FileTailConfig  `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
	MQTT          MQTTConfig      `json:"mqtt" yaml:"mqtt"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type MQTTConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Broker   string `json:"broker" yaml:"broker"`
	ClientID string `json:"client_id" yaml:"client_id"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Topic    string `json:"topic" yaml:"topic"`
	QoS      byte   `json:"qos" yaml:"qos"`
}

type MonitoringConfig struct {
	ReadingLogLimit   int               `json:"reading_log_limit" yaml:"reading_log_limit"`
	DefaultCooldown   time.Duration     `json:"default_cooldown" yaml:"default_cooldown"`
	DedupeWindow      time.Duration     `json:"dedupe_window" yaml:"dedupe_window"`
	MaxFutureSkew     time.Duration     `json:"max_future_skew" yaml:"max_future_skew"`
	DefaultThresholds []ThresholdConfig `json:"default_thresholds" yaml:"default_thresholds"`
}

// ThresholdConfig uses strings for bounds so blood pressure can be written
// as "160/100" next to plain numbers.
type ThresholdConfig struct {
	Type          string        `json:"type" yaml:"type"`
	Min           string        `json:"min" yaml:"min"`
	Max           string        `json:"max" yaml:"max"`
	ChangePercent float64       `json:"change_percent" yaml:"change_percent"`
	TimeWindow    time.Duration `json:"time_window" yaml:"time_window"`
}

type DispatchConfig struct {
	Chat              ChatConfig `json:"chat" yaml:"chat"`
	EmergencyServices bool       `json:"emergency_services" yaml:"emergency_services"`
	DefaultMessage    string     `json:"default_message" yaml:"default_message"`
}

type ChatConfig struct {
	Enabled    bool          `json:"enabled" yaml:"enabled"`
	WebhookURL string        `json:"webhook_url" yaml:"webhook_url"`
	Token      string        `json:"token" yaml:"token"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
	RetryCount int           `json:"retry_count" yaml:"retry_count"`
}

type CooldownConfig struct {
	Backend string      `json:"backend" yaml:"backend"`
	Redis   RedisConfig `json:"redis" yaml:"redis"`
}

type RedisConfig struct {
	Addr      string        `json:"addr" yaml:"addr"`
	Password  string        `json:"password" yaml:"password"`
	DB        int           `json:"db" yaml:"db"`
	KeyPrefix string        `json:"key_prefix" yaml:"key_prefix"`
	TTL       time.Duration `json:"ttl" yaml:"ttl"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: false, Addr: ":8082"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
			MQTT:          MQTTConfig{Enabled: false, ClientID: "healthbridge", Topic: "healthbridge/+/vitals", QoS: 1},
		},
		Monitoring: MonitoringConfig{
			ReadingLogLimit: 1000,
			DefaultCooldown: 15 * time.Minute,
			DedupeWindow:    2 * time.Second,
			MaxFutureSkew:   5 * time.Minute,
		},
		Dispatch: DispatchConfig{
			Chat:              ChatConfig{Enabled: true, Timeout: 10 * time.Second, RetryCount: 2},
			EmergencyServices: true,
			DefaultMessage:    "Emergency assistance requested",
		},
		Cooldown: CooldownConfig{
			Backend: "memory",
			Redis:   RedisConfig{Addr: "localhost:6379", KeyPrefix: "healthbridge:cooldown:", TTL: 24 * time.Hour},
		},
		API:     APIConfig{Enabled: true, Addr: ":8080"},
		Storage: StorageConfig{Driver: "memory"},
		Alerts:  AlertsConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv returns defaults with HEALTHBRIDGE_* overrides, for running
// without a config file.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Monitoring.ReadingLogLimit <= 0 {
		cfg.Monitoring.ReadingLogLimit = 1000
	}
	if cfg.Monitoring.DefaultCooldown <= 0 {
		cfg.Monitoring.DefaultCooldown = 15 * time.Minute
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 1000
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.MQTT.Topic == "" {
		cfg.Ingest.MQTT.Topic = "healthbridge/+/vitals"
	}
	if cfg.Dispatch.Chat.Timeout <= 0 {
		cfg.Dispatch.Chat.Timeout = 10 * time.Second
	}
	if cfg.Dispatch.DefaultMessage == "" {
		cfg.Dispatch.DefaultMessage = "Emergency assistance requested"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Cooldown.Backend == "" {
		cfg.Cooldown.Backend = "memory"
	}
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("HEALTHBRIDGE_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv("HEALTHBRIDGE_API_ADDR"); ok {
		cfg.API.Addr = v
	}
	if v, ok := os.LookupEnv("HEALTHBRIDGE_STORAGE_DRIVER"); ok {
		cfg.Storage.Driver = v
	}
	if v, ok := os.LookupEnv("HEALTHBRIDGE_STORAGE_DSN"); ok {
		cfg.Storage.DSN = v
	}
	if v, ok := os.LookupEnv("HEALTHBRIDGE_REDIS_ADDR"); ok {
		cfg.Cooldown.Redis.Addr = v
	}
	if v, ok := os.LookupEnv("HEALTHBRIDGE_CHAT_WEBHOOK_URL"); ok {
		cfg.Dispatch.Chat.WebhookURL = v
	}
	if v, ok := os.LookupEnv("HEALTHBRIDGE_CHAT_TOKEN"); ok {
		cfg.Dispatch.Chat.Token = v
	}
	if v, ok := os.LookupEnv("HEALTHBRIDGE_KAFKA_BROKERS"); ok && v != "" {
		cfg.Ingest.Kafka.Brokers = strings.Split(v, ",")
	}
	if v, ok := os.LookupEnv("HEALTHBRIDGE_COOLDOWN_MINUTES"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Monitoring.DefaultCooldown = time.Duration(n) * time.Minute
		}
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.MQTT.Enabled && cfg.Ingest.MQTT.Broker == "" {
		return errors.New("ingest.mqtt.broker required when ingest.mqtt.enabled is true")
	}
	if cfg.Ingest.MQTT.QoS > 2 {
		return errors.New("ingest.mqtt.qos must be 0, 1 or 2")
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "memory", "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("storage.driver %q not supported", cfg.Storage.Driver)
	}
	switch strings.ToLower(cfg.Cooldown.Backend) {
	case "memory":
	case "redis":
		if cfg.Cooldown.Redis.Addr == "" {
			return errors.New("cooldown.redis.addr required when cooldown.backend is redis")
		}
	default:
		return fmt.Errorf("cooldown.backend %q not supported", cfg.Cooldown.Backend)
	}
	if cfg.Dispatch.Chat.RetryCount < 0 {
		return errors.New("dispatch.chat.retry_count must be >= 0")
	}
	for i, th := range cfg.Monitoring.DefaultThresholds {
		if th.Type == "" {
			return fmt.Errorf("monitoring.default_thresholds[%d].type required", i)
		}
		if th.ChangePercent < 0 {
			return fmt.Errorf("monitoring.default_thresholds[%d].change_percent must be >= 0", i)
		}
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config; Reload and Watch are no-ops
// because there is no file behind it.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if m.path == "" {
		return
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
