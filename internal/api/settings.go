package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"healthbridge/internal/model"
	"healthbridge/internal/threshold"
)

// thresholdBody is the wire form of model.Threshold; the time window travels
// as milliseconds.
type thresholdBody struct {
	Type          string            `json:"type"`
	Min           *model.VitalValue `json:"min,omitempty"`
	Max           *model.VitalValue `json:"max,omitempty"`
	ChangePercent float64           `json:"changePercent,omitempty"`
	TimeWindowMs  int64             `json:"timeWindowMs,omitempty"`
}

type profileBody struct {
	UserID                 string          `json:"userId"`
	Name                   string          `json:"name,omitempty"`
	PhoneNumber            string          `json:"phoneNumber,omitempty"`
	NotificationCooldownMs int64           `json:"notificationCooldownMs,omitempty"`
	Contacts               []model.Contact `json:"contacts"`
}

func thresholdToBody(th model.Threshold) thresholdBody {
	return thresholdBody{
		Type:          string(th.Type),
		Min:           th.Min,
		Max:           th.Max,
		ChangePercent: th.ChangePercent,
		TimeWindowMs:  th.TimeWindow.Milliseconds(),
	}
}

func (b thresholdBody) toModel() (model.Threshold, error) {
	t, ok := model.ParseVitalType(b.Type)
	if !ok {
		return model.Threshold{}, model.Invalid("type", "unknown vital sign type "+b.Type)
	}
	if b.TimeWindowMs < 0 {
		return model.Threshold{}, model.Invalid("timeWindowMs", "must be >= 0")
	}
	th := model.Threshold{
		Type:          t,
		Min:           b.Min,
		Max:           b.Max,
		ChangePercent: b.ChangePercent,
		TimeWindow:    time.Duration(b.TimeWindowMs) * time.Millisecond,
	}
	if err := threshold.Validate(th); err != nil {
		return model.Threshold{}, err
	}
	return th, nil
}

func thresholdsToBody(list []model.Threshold) []thresholdBody {
	out := make([]thresholdBody, 0, len(list))
	for _, th := range list {
		out = append(out, thresholdToBody(th))
	}
	return out
}

func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		user := strings.TrimSpace(r.URL.Query().Get("userId"))
		list := s.monitor.DefaultThresholds()
		if user != "" {
			var err error
			if list, err = s.monitor.Thresholds(r.Context(), user); err != nil {
				s.writeError(w, r, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"userId":     user,
			"thresholds": thresholdsToBody(list),
		})
	case http.MethodPut:
		var req struct {
			UserID     string          `json:"userId"`
			Thresholds []thresholdBody `json:"thresholds"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		user := strings.TrimSpace(req.UserID)
		if user == "" {
			s.writeError(w, r, model.Invalid("userId", "user id is required"))
			return
		}
		seen := make(map[model.VitalType]bool, len(req.Thresholds))
		list := make([]model.Threshold, 0, len(req.Thresholds))
		for _, b := range req.Thresholds {
			th, err := b.toModel()
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			if seen[th.Type] {
				s.writeError(w, r, model.Invalid("thresholds", "duplicate type "+string(th.Type)))
				return
			}
			seen[th.Type] = true
			list = append(list, th)
		}
		if err := s.store.PutThresholds(r.Context(), user, list); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.logger.Info("thresholds updated", "user_id", user, "count", len(list))
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"userId":     user,
			"thresholds": thresholdsToBody(list),
		})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut)
	}
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		user, err := requireUser(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		p, err := s.store.GetProfile(r.Context(), user)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				writeFailure(w, http.StatusNotFound, "profile not found")
				return
			}
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "profile": profileToBody(p)})
	case http.MethodPut:
		var req profileBody
		if err := decodeBody(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		p, err := req.toModel()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.store.PutProfile(r.Context(), p); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "profile": profileToBody(p)})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut)
	}
}

func profileToBody(p model.Profile) profileBody {
	contacts := p.Contacts
	if contacts == nil {
		contacts = []model.Contact{}
	}
	return profileBody{
		UserID:                 p.UserID,
		Name:                   p.Name,
		PhoneNumber:            p.PhoneNumber,
		NotificationCooldownMs: p.NotificationCooldown.Milliseconds(),
		Contacts:               contacts,
	}
}

func (b profileBody) toModel() (model.Profile, error) {
	user := strings.TrimSpace(b.UserID)
	if user == "" {
		return model.Profile{}, model.Invalid("userId", "user id is required")
	}
	if b.NotificationCooldownMs < 0 {
		return model.Profile{}, model.Invalid("notificationCooldownMs", "must be >= 0")
	}
	contacts := make([]model.Contact, 0, len(b.Contacts))
	for _, c := range b.Contacts {
		c.PhoneNumber = strings.TrimSpace(c.PhoneNumber)
		if c.PhoneNumber == "" {
			return model.Profile{}, model.Invalid("contacts.phoneNumber", "contact phone number is required")
		}
		switch c.NotificationPreference {
		case "", model.NotifyAll, model.NotifyCritical, model.NotifyNone:
		default:
			return model.Profile{}, model.Invalid("contacts.notificationPreference", "must be all, critical or none")
		}
		if c.NotificationPreference == "" {
			c.NotificationPreference = model.NotifyAll
		}
		contacts = append(contacts, c)
	}
	return model.Profile{
		UserID:               user,
		Name:                 strings.TrimSpace(b.Name),
		PhoneNumber:          strings.TrimSpace(b.PhoneNumber),
		NotificationCooldown: time.Duration(b.NotificationCooldownMs) * time.Millisecond,
		Contacts:             contacts,
	}, nil
}
