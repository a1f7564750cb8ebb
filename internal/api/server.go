// Package api serves the HealthBridge JSON endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"healthbridge/internal/config"
	"healthbridge/internal/dispatch"
	"healthbridge/internal/ingest"
	"healthbridge/internal/metrics"
	"healthbridge/internal/model"
	"healthbridge/internal/monitor"
	"healthbridge/internal/storage"
	"healthbridge/internal/threshold"
)

const maxBody = 1 << 20

type Monitor interface {
	RecordReading(ctx context.Context, dr ingest.DeviceReading) (monitor.Outcome, error)
	Thresholds(ctx context.Context, userID string) ([]model.Threshold, error)
	DefaultThresholds() []model.Threshold
	Processed() int64
	Started() time.Time
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
	History(ctx context.Context, userID string, limit int) ([]model.EmergencyAlert, error)
}

type Server struct {
	cfg        *config.Manager
	store      storage.Store
	monitor    Monitor
	dispatcher Dispatcher
	metrics    *metrics.Recorder
	logger     *slog.Logger
	version    string
	now        func() time.Time
	routes     map[string]bool
}

type statusResponse struct {
	Status     string        `json:"status"`
	Time       string        `json:"time"`
	Version    string        `json:"version"`
	ConfigPath string        `json:"configPath,omitempty"`
	Uptime     string        `json:"uptime"`
	Processed  int64         `json:"readingsProcessed"`
	Storage    string        `json:"storage"`
	Cooldown   string        `json:"cooldownBackend"`
	Ingest     ingestStatus  `json:"ingest"`
	API        apiStatus     `json:"api"`
	Dispatch   dispatchFlags `json:"dispatch"`
	Rules      []string      `json:"thresholdRules"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	TCPStream bool `json:"tcpStream"`
	FileTail  bool `json:"fileTail"`
	Kafka     bool `json:"kafka"`
	MQTT      bool `json:"mqtt"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type dispatchFlags struct {
	Chat              bool `json:"chat"`
	EmergencyServices bool `json:"emergencyServices"`
}

func NewServer(cfg *config.Manager, store storage.Store, mon Monitor, dispatcher Dispatcher, recorder *metrics.Recorder, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:        cfg,
		store:      store,
		monitor:    mon,
		dispatcher: dispatcher,
		metrics:    recorder,
		logger:     logger.With("component", "api"),
		version:    version,
		now:        time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.routes = make(map[string]bool)
	handle := func(path string, h http.HandlerFunc) {
		s.routes[path] = true
		mux.HandleFunc(path, h)
	}
	handle("/device-reading", s.handleDeviceReading)
	handle("/emergency", s.handleEmergency)
	handle("/alerts", s.handleAlerts)
	handle("/thresholds", s.handleThresholds)
	handle("/profiles", s.handleProfiles)
	handle("/vitals", s.handleVitals)
	handle("/vitals/latest", s.handleLatestVitals)
	handle("/voice/classify", s.handleVoiceClassify)
	handle("/status", s.handleStatus)
	handle("/health", s.handleHealth)
	if s.metrics != nil {
		s.routes["/metrics"] = true
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return s.instrument(s.recoverer(mux))
}

func Start(ctx context.Context, cfg *config.Manager, server *Server) *http.Server {
	if cfg == nil || server == nil {
		return nil
	}
	logger := server.logger
	current := cfg.Get().API
	if !current.Enabled {
		logger.Info("api disabled")
		return nil
	}
	logger.Info("api enabled", "addr", current.Addr)
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server error", "err", err)
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       s.now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Storage:    driverName(cfg.Storage.Driver),
		Cooldown:   driverName(cfg.Cooldown.Backend),
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
			MQTT:      cfg.Ingest.MQTT.Enabled,
		},
		API: apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Dispatch: dispatchFlags{
			Chat:              cfg.Dispatch.Chat.Enabled,
			EmergencyServices: cfg.Dispatch.EmergencyServices,
		},
		Rules: threshold.RuleNames(),
	}
	if s.monitor != nil {
		resp.Processed = s.monitor.Processed()
		resp.Uptime = s.now().Sub(s.monitor.Started()).Truncate(time.Second).String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func driverName(name string) string {
	if name == "" {
		return "memory"
	}
	return strings.ToLower(name)
}

// writeError maps domain errors onto status codes. Anything unclassified is
// logged and reported as a generic 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var unrecognized *dispatch.UnrecognizedError
	switch {
	case errors.As(err, &unrecognized):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success":    false,
			"error":      "voice command not recognized as an emergency",
			"recognized": false,
			"voice":      unrecognized.Voice,
		})
	case model.IsValidation(err):
		writeFailure(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrNotFound):
		writeFailure(w, http.StatusNotFound, "not found")
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeFailure(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		return model.Invalid("", "request body too large or unreadable")
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return model.Invalid("", "invalid JSON body: "+err.Error())
	}
	return nil
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		return nil, model.Invalid("", "request body too large or unreadable")
	}
	return body, nil
}

func queryLimit(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, model.Invalid("limit", "must be a non-negative integer")
	}
	return n, nil
}

func requireUser(r *http.Request) (string, error) {
	user := strings.TrimSpace(r.URL.Query().Get("userId"))
	if user == "" {
		return "", model.Invalid("userId", "user id is required")
	}
	return user, nil
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeFailure(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// writeJSON answers 500 when payload cannot be encoded.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		data = []byte(`{"success":false,"error":"internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}
