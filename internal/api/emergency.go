package api

import (
	"net/http"
	"strings"
	"time"

	"healthbridge/internal/dispatch"
	"healthbridge/internal/model"
	"healthbridge/internal/notify"
)

type emergencyRequest struct {
	UserID        string                      `json:"userId"`
	PhoneNumber   string                      `json:"phoneNumber"`
	Message       string                      `json:"message"`
	Level         string                      `json:"level"`
	Location      *model.Location             `json:"location"`
	VitalSigns    map[string]model.VitalValue `json:"vitalSigns"`
	TriggerMethod string                      `json:"triggerMethod"`
	VoiceCommand  string                      `json:"voiceCommand"`
	DeviceInfo    map[string]any              `json:"deviceInfo"`
}

type emergencyResponse struct {
	Success                   bool                 `json:"success"`
	Alert                     model.EmergencyAlert `json:"alert"`
	ChannelsDelivered         map[string]bool      `json:"channelsDelivered"`
	EmergencyServicesNotified bool                 `json:"emergencyServicesNotified"`
	Voice                     *voiceClassification `json:"voice,omitempty"`
}

type voiceClassification struct {
	Recognized bool             `json:"recognized"`
	Level      model.AlertLevel `json:"level,omitempty"`
	Keywords   []string         `json:"keywords,omitempty"`
}

type acknowledgeRequest struct {
	AlertID      string `json:"alertId"`
	Acknowledged *bool  `json:"acknowledged"`
}

func (s *Server) handleEmergency(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.postEmergency(w, r)
	case http.MethodGet:
		limit, err := queryLimit(r, 50)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		user := strings.TrimSpace(r.URL.Query().Get("userId"))
		list, err := s.dispatcher.History(r.Context(), user, limit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"alerts":  list,
			"count":   len(list),
		})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) postEmergency(w http.ResponseWriter, r *http.Request) {
	var req emergencyRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	vitals, err := vitalsFromMap(req.VitalSigns, s.now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.dispatcher.Dispatch(r.Context(), dispatch.Request{
		UserID:        strings.TrimSpace(req.UserID),
		PhoneNumber:   req.PhoneNumber,
		Message:       req.Message,
		Level:         model.AlertLevel(strings.ToLower(strings.TrimSpace(req.Level))),
		Location:      req.Location,
		VitalSigns:    vitals,
		TriggerMethod: model.TriggerMethod(strings.ToLower(strings.TrimSpace(req.TriggerMethod))),
		VoiceCommand:  req.VoiceCommand,
		DeviceInfo:    req.DeviceInfo,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := emergencyResponse{
		Success: true,
		Alert:   res.Alert,
		ChannelsDelivered: map[string]bool{
			notify.ChannelChat:       delivered(res.Alert, notify.ChannelChat),
			notify.ChannelBroadAlert: delivered(res.Alert, notify.ChannelBroadAlert),
		},
		EmergencyServicesNotified: res.Alert.EmergencyServicesNotified,
	}
	if res.Voice != nil {
		resp.Voice = &voiceClassification{Recognized: res.Voice.Recognized, Level: res.Voice.Level, Keywords: res.Voice.Keywords}
	}
	writeJSON(w, http.StatusOK, resp)
}

// vitalsFromMap turns {"heartRate": 88, "bloodPressure": "120/80"} into
// readings in canonical type order.
func vitalsFromMap(in map[string]model.VitalValue, now time.Time) ([]model.VitalReading, error) {
	if len(in) == 0 {
		return nil, nil
	}
	byType := make(map[model.VitalType]model.VitalValue, len(in))
	for name, v := range in {
		t, ok := model.ParseVitalType(name)
		if !ok {
			return nil, model.Invalid("vitalSigns", "unknown vital sign type "+name)
		}
		if !v.MatchesType(t) {
			return nil, model.Invalid("vitalSigns."+string(t), "value does not match type")
		}
		byType[t] = v
	}
	out := make([]model.VitalReading, 0, len(byType))
	for _, t := range model.VitalTypes() {
		v, ok := byType[t]
		if !ok {
			continue
		}
		out = append(out, model.VitalReading{Type: t, Value: v, Unit: t.DefaultUnit(), Timestamp: now.UTC()})
	}
	return out, nil
}

func delivered(a model.EmergencyAlert, channel string) bool {
	for _, c := range a.Channels {
		if c.Channel == channel {
			return c.Status == model.ChannelDelivered
		}
	}
	return false
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listAlerts(w, r)
	case http.MethodPatch:
		s.acknowledgeAlert(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPatch)
	}
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryLimit(r, 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var since time.Time
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeFailure(w, http.StatusBadRequest, "since: must be RFC3339")
			return
		}
		since = ts
	}
	filter := model.AlertFilter{
		UserID:      strings.TrimSpace(q.Get("userId")),
		PhoneNumber: strings.TrimSpace(q.Get("phoneNumber")),
	}
	if since.IsZero() {
		filter.Limit = limit
	}
	list, err := s.store.ListAlerts(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !since.IsZero() {
		kept := list[:0]
		for _, a := range list {
			if !a.Timestamp.Before(since) {
				kept = append(kept, a)
			}
		}
		list = kept
		if limit > 0 && len(list) > limit {
			list = list[:limit]
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"alerts":  list,
		"count":   len(list),
	})
}

func (s *Server) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	var req acknowledgeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id := strings.TrimSpace(req.AlertID)
	if id == "" {
		writeFailure(w, http.StatusBadRequest, "alertId: alert id is required")
		return
	}
	ack := true
	if req.Acknowledged != nil {
		ack = *req.Acknowledged
	}
	alert, err := s.store.AcknowledgeAlert(r.Context(), id, ack, s.now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "alert": alert})
}
