package threshold

import (
	"fmt"
	"strings"
	"time"

	"healthbridge/internal/config"
	"healthbridge/internal/model"
)

func Defaults() []model.Threshold {
	return []model.Threshold{
		{
			Type:          model.HeartRate,
			Min:           scalar(50),
			Max:           scalar(120),
			ChangePercent: 25,
			TimeWindow:    time.Hour,
		},
		{
			Type: model.BloodPressure,
			Min:  pressure(90, 60),
			Max:  pressure(160, 100),
		},
		{
			Type:          model.BloodGlucose,
			Min:           scalar(70),
			Max:           scalar(180),
			ChangePercent: 30,
			TimeWindow:    time.Hour,
		},
		{
			Type: model.OxygenLevel,
			Min:  scalar(92),
			Max:  scalar(100),
		},
		{
			Type:          model.Temperature,
			Min:           scalar(35.5),
			Max:           scalar(38.0),
			ChangePercent: 3,
			TimeWindow:    time.Hour,
		},
	}
}

// Merge overlays user thresholds on base, keyed by vital type.
func Merge(base, overrides []model.Threshold) []model.Threshold {
	out := make([]model.Threshold, 0, len(base)+len(overrides))
	for _, b := range base {
		if o, ok := Find(overrides, b.Type); ok {
			out = append(out, o)
			continue
		}
		out = append(out, b)
	}
	for _, o := range overrides {
		if _, ok := Find(base, o.Type); !ok {
			out = append(out, o)
		}
	}
	return out
}

// Validate rejects bounds whose shape does not match the vital type.
func Validate(th model.Threshold) error {
	if th.Type == "" {
		return model.Invalid("type", "required")
	}
	bounds := []struct {
		name string
		v    *model.VitalValue
	}{{"min", th.Min}, {"max", th.Max}}
	for _, bound := range bounds {
		name, b := bound.name, bound.v
		if b == nil {
			continue
		}
		if !b.MatchesType(th.Type) {
			if th.Type == model.BloodPressure {
				return model.Invalid(name, "blood pressure bounds must be systolic/diastolic")
			}
			return model.Invalid(name, "must be numeric")
		}
	}
	if th.ChangePercent < 0 {
		return model.Invalid("changePercent", "must be >= 0")
	}
	if th.TimeWindow < 0 {
		return model.Invalid("timeWindow", "must be >= 0")
	}
	return nil
}

// FromConfig converts configured defaults. An empty list yields Defaults().
func FromConfig(list []config.ThresholdConfig) ([]model.Threshold, error) {
	if len(list) == 0 {
		return Defaults(), nil
	}
	out := make([]model.Threshold, 0, len(list))
	for i, c := range list {
		t, ok := model.ParseVitalType(c.Type)
		if !ok {
			return nil, fmt.Errorf("default_thresholds[%d]: unknown type %q", i, c.Type)
		}
		th := model.Threshold{Type: t, ChangePercent: c.ChangePercent, TimeWindow: c.TimeWindow}
		var err error
		if th.Min, err = parseBound(c.Min); err != nil {
			return nil, fmt.Errorf("default_thresholds[%d].min: %w", i, err)
		}
		if th.Max, err = parseBound(c.Max); err != nil {
			return nil, fmt.Errorf("default_thresholds[%d].max: %w", i, err)
		}
		if err := Validate(th); err != nil {
			return nil, fmt.Errorf("default_thresholds[%d]: %w", i, err)
		}
		out = append(out, th)
	}
	return out, nil
}

func parseBound(s string) (*model.VitalValue, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	v, err := model.ParseVitalValue(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func scalar(v float64) *model.VitalValue {
	s := model.Scalar(v)
	return &s
}

func pressure(sys, dia int) *model.VitalValue {
	p := model.Pressure(sys, dia)
	return &p
}
