package api

import (
	"net/http"
	"strings"

	"healthbridge/internal/ingest"
	"healthbridge/internal/model"
	"healthbridge/internal/voice"
)

const SourceAPI = "api"

type deviceReadingResponse struct {
	Success           bool               `json:"success"`
	VitalSign         model.VitalReading `json:"vitalSign"`
	ThresholdExceeded bool               `json:"thresholdExceeded"`
	Severity          model.Severity     `json:"severity"`
	Message           string             `json:"message"`
	AlertSent         bool               `json:"alertSent"`
	AlertID           string             `json:"alertId,omitempty"`
	Duplicate         bool               `json:"duplicate,omitempty"`
}

func (s *Server) handleDeviceReading(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fields, err := ingest.ParseJSONBytes(body)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cfg := s.cfg.Get()
	dr, err := ingest.Convert(*fields, SourceAPI, s.now(), cfg.Monitoring.MaxFutureSkew)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.monitor.RecordReading(r.Context(), dr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := deviceReadingResponse{
		Success:           true,
		VitalSign:         out.Reading,
		ThresholdExceeded: out.Evaluation.Exceeded,
		Severity:          out.Evaluation.Severity,
		Message:           out.Evaluation.Message,
		AlertSent:         out.AlertSent,
		Duplicate:         out.Duplicate,
	}
	if out.Alert != nil {
		resp.AlertID = out.Alert.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVitals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	user, err := requireUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var typ model.VitalType
	if v := strings.TrimSpace(r.URL.Query().Get("type")); v != "" {
		t, ok := model.ParseVitalType(v)
		if !ok {
			writeFailure(w, http.StatusBadRequest, "unknown vital sign type")
			return
		}
		typ = t
	}
	limit, err := queryLimit(r, 100)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.store.RecentReadings(r.Context(), user, typ, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"userId":     user,
		"vitalSigns": list,
		"count":      len(list),
	})
}

func (s *Server) handleLatestVitals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	user, err := requireUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.store.LatestReadings(r.Context(), user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"userId":     user,
		"vitalSigns": list,
	})
}

func (s *Server) handleVoiceClassify(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "keywords": voice.Keywords()})
		return
	case http.MethodPost:
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
		return
	}
	var req struct {
		Command string `json:"command"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeFailure(w, http.StatusBadRequest, "command: voice command is required")
		return
	}
	c := voice.Classify(req.Command)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"classification": c,
	})
}
