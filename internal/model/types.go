package model

import (
	"time"
)

type VitalType string

const (
	HeartRate     VitalType = "heartRate"
	BloodPressure VitalType = "bloodPressure"
	BloodGlucose  VitalType = "bloodGlucose"
	OxygenLevel   VitalType = "oxygenLevel"
	Temperature   VitalType = "temperature"
	Steps         VitalType = "steps"
	Sleep         VitalType = "sleep"
	Weight        VitalType = "weight"
)

var vitalTypes = []VitalType{HeartRate, BloodPressure, BloodGlucose, OxygenLevel, Temperature, Steps, Sleep, Weight}

func VitalTypes() []VitalType {
	out := make([]VitalType, len(vitalTypes))
	copy(out, vitalTypes)
	return out
}

// ParseVitalType matches case-insensitively and accepts snake_case aliases
// such as "heart_rate" sent by some device gateways.
func ParseVitalType(s string) (VitalType, bool) {
	key := foldTypeName(s)
	for _, t := range vitalTypes {
		if foldTypeName(string(t)) == key {
			return t, true
		}
	}
	return "", false
}

func foldTypeName(s string) string {
	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_' || c == '-' || c == ' ':
			continue
		case c >= 'A' && c <= 'Z':
			b = append(b, c-'A'+'a')
		default:
			b = append(b, c)
		}
	}
	return string(b)
}

func (t VitalType) Label() string {
	switch t {
	case HeartRate:
		return "Heart rate"
	case BloodPressure:
		return "Blood pressure"
	case BloodGlucose:
		return "Blood glucose"
	case OxygenLevel:
		return "Oxygen level"
	case Temperature:
		return "Temperature"
	case Steps:
		return "Steps"
	case Sleep:
		return "Sleep"
	case Weight:
		return "Weight"
	}
	return string(t)
}

func (t VitalType) DefaultUnit() string {
	switch t {
	case HeartRate:
		return "bpm"
	case BloodPressure:
		return "mmHg"
	case BloodGlucose:
		return "mg/dL"
	case OxygenLevel:
		return "%"
	case Temperature:
		return "°C"
	case Steps:
		return "steps"
	case Sleep:
		return "hours"
	case Weight:
		return "kg"
	}
	return ""
}

type VitalReading struct {
	Type      VitalType  `json:"type"`
	Value     VitalValue `json:"value"`
	Unit      string     `json:"unit"`
	Timestamp time.Time  `json:"timestamp"`
	DeviceID  string     `json:"deviceId,omitempty"`
}

type Threshold struct {
	Type          VitalType     `json:"type"`
	Min           *VitalValue   `json:"min,omitempty"`
	Max           *VitalValue   `json:"max,omitempty"`
	ChangePercent float64       `json:"changePercent,omitempty"`
	TimeWindow    time.Duration `json:"timeWindow,omitempty"`
}

type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Evaluation struct {
	Exceeded bool     `json:"exceeded"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Rule     string   `json:"rule,omitempty"`
}

type AlertLevel string

const (
	LevelCritical AlertLevel = "critical"
	LevelUrgent   AlertLevel = "urgent"
	LevelModerate AlertLevel = "moderate"
)

func ParseAlertLevel(s string) (AlertLevel, bool) {
	switch AlertLevel(s) {
	case LevelCritical, LevelUrgent, LevelModerate:
		return AlertLevel(s), true
	}
	return "", false
}

type TriggerMethod string

const (
	TriggerManual    TriggerMethod = "manual"
	TriggerVoice     TriggerMethod = "voice"
	TriggerDevice    TriggerMethod = "device"
	TriggerThreshold TriggerMethod = "threshold"
)

func ParseTriggerMethod(s string) (TriggerMethod, bool) {
	switch TriggerMethod(s) {
	case TriggerManual, TriggerVoice, TriggerDevice, TriggerThreshold:
		return TriggerMethod(s), true
	}
	return "", false
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	Address   string  `json:"address,omitempty"`
}

type ChannelStatus string

const (
	ChannelDelivered ChannelStatus = "delivered"
	ChannelFailed    ChannelStatus = "failed"
	ChannelSkipped   ChannelStatus = "skipped"
)

type ChannelResult struct {
	Channel    string        `json:"channel"`
	Status     ChannelStatus `json:"status"`
	Recipients []string      `json:"recipients,omitempty"`
	Error      string        `json:"error,omitempty"`
}

type EmergencyAlert struct {
	ID                        string          `json:"id"`
	UserID                    string          `json:"userId,omitempty"`
	PhoneNumber               string          `json:"phoneNumber"`
	Message                   string          `json:"message"`
	Level                     AlertLevel      `json:"level"`
	Timestamp                 time.Time       `json:"timestamp"`
	Location                  *Location       `json:"location,omitempty"`
	VitalSigns                []VitalReading  `json:"vitalSigns,omitempty"`
	TriggerMethod             TriggerMethod   `json:"triggerMethod"`
	VoiceCommand              string          `json:"voiceCommand,omitempty"`
	NotifiedContacts          []string        `json:"notifiedContacts"`
	EmergencyServicesNotified bool            `json:"emergencyServicesNotified"`
	Channels                  []ChannelResult `json:"channels,omitempty"`
}

type HealthAlert struct {
	ID               string         `json:"id"`
	UserID           string         `json:"userId,omitempty"`
	PhoneNumber      string         `json:"phoneNumber"`
	EmergencyID      string         `json:"emergencyId,omitempty"`
	Level            AlertLevel     `json:"level"`
	Message          string         `json:"message"`
	VitalSigns       []VitalReading `json:"vitalSigns,omitempty"`
	Location         *Location      `json:"location,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
	NotifiedContacts []string       `json:"notifiedContacts"`
	Acknowledged     bool           `json:"acknowledged"`
	AcknowledgedAt   *time.Time     `json:"acknowledgedAt,omitempty"`
}

type AlertFilter struct {
	UserID      string
	PhoneNumber string
	Limit       int
}

func (f AlertFilter) Match(a HealthAlert) bool {
	if f.UserID != "" && a.UserID != f.UserID {
		return false
	}
	if f.PhoneNumber != "" && a.PhoneNumber != f.PhoneNumber {
		return false
	}
	return true
}

type NotificationPreference string

const (
	NotifyAll      NotificationPreference = "all"
	NotifyCritical NotificationPreference = "critical"
	NotifyNone     NotificationPreference = "none"
)

type Contact struct {
	Name                   string                 `json:"name"`
	PhoneNumber            string                 `json:"phoneNumber"`
	Relationship           string                 `json:"relationship,omitempty"`
	NotificationPreference NotificationPreference `json:"notificationPreference"`
}

// Wants reports whether the contact opted in to alerts of the given level.
// An empty preference is treated as "all".
func (c Contact) Wants(level AlertLevel) bool {
	switch c.NotificationPreference {
	case NotifyNone:
		return false
	case NotifyCritical:
		return level == LevelCritical
	}
	return true
}

type Profile struct {
	UserID               string        `json:"userId"`
	Name                 string        `json:"name,omitempty"`
	PhoneNumber          string        `json:"phoneNumber,omitempty"`
	NotificationCooldown time.Duration `json:"notificationCooldown,omitempty"`
	Contacts             []Contact     `json:"contacts,omitempty"`
}
