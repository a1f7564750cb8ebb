package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type valueKind uint8

const (
	kindNone valueKind = iota
	kindScalar
	kindPressure
)

// VitalValue is either a scalar measurement or a systolic/diastolic pair.
// The zero value holds neither.
type VitalValue struct {
	kind      valueKind
	scalar    float64
	systolic  int
	diastolic int
}

func Scalar(v float64) VitalValue {
	return VitalValue{kind: kindScalar, scalar: v}
}

func Pressure(systolic, diastolic int) VitalValue {
	return VitalValue{kind: kindPressure, systolic: systolic, diastolic: diastolic}
}

func (v VitalValue) IsZero() bool     { return v.kind == kindNone }
func (v VitalValue) IsScalar() bool   { return v.kind == kindScalar }
func (v VitalValue) IsPressure() bool { return v.kind == kindPressure }

// Finite is false only for NaN or infinite scalars.
func (v VitalValue) Finite() bool {
	return v.kind != kindScalar || !(math.IsNaN(v.scalar) || math.IsInf(v.scalar, 0))
}

func (v VitalValue) Float() float64 {
	return v.scalar
}

func (v VitalValue) Pressure() (systolic, diastolic int) {
	return v.systolic, v.diastolic
}

func (v VitalValue) String() string {
	switch v.kind {
	case kindScalar:
		return strconv.FormatFloat(v.scalar, 'f', -1, 64)
	case kindPressure:
		return strconv.Itoa(v.systolic) + "/" + strconv.Itoa(v.diastolic)
	}
	return ""
}

// ParseVitalValue accepts "120/80" for blood pressure and any float literal
// for scalars.
func ParseVitalValue(s string) (VitalValue, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return VitalValue{}, fmt.Errorf("empty value")
	}
	if sys, dia, ok := strings.Cut(s, "/"); ok {
		systolic, err := strconv.Atoi(strings.TrimSpace(sys))
		if err != nil {
			return VitalValue{}, fmt.Errorf("invalid systolic value %q", sys)
		}
		diastolic, err := strconv.Atoi(strings.TrimSpace(dia))
		if err != nil {
			return VitalValue{}, fmt.Errorf("invalid diastolic value %q", dia)
		}
		return Pressure(systolic, diastolic), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return VitalValue{}, fmt.Errorf("invalid numeric value %q", s)
	}
	return Scalar(f), nil
}

func (v VitalValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case kindScalar:
		return json.Marshal(v.scalar)
	case kindPressure:
		return json.Marshal(v.String())
	}
	return []byte("null"), nil
}

func (v *VitalValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = VitalValue{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseVitalValue(s)
		if err != nil {
			return err
		}
		*v = parsed
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("vital value must be a number or \"systolic/diastolic\" string")
	}
	*v = Scalar(f)
	return nil
}

// MatchesType reports whether the value shape fits the vital type: blood
// pressure needs a pressure pair, everything else a scalar.
func (v VitalValue) MatchesType(t VitalType) bool {
	if t == BloodPressure {
		return v.IsPressure()
	}
	return v.IsScalar()
}
