package threshold

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"healthbridge/internal/model"
)

// TrendPool is how many of the most recent same-type readings are eligible
// for the rolling average used by the rapid-change rule.
const TrendPool = 10

type input struct {
	reading   model.VitalReading
	threshold model.Threshold
	recent    []model.VitalReading
}

type rule struct {
	name  string
	check func(in input) (model.Evaluation, bool)
}

// Bounds rules come before the trend rule; the first match wins.
var rules = []rule{
	{name: "pressure_high", check: pressureHigh},
	{name: "pressure_low", check: pressureLow},
	{name: "above_max", check: aboveMax},
	{name: "below_min", check: belowMin},
	{name: "rapid_change", check: rapidChange},
}

func RuleNames() []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.name)
	}
	return out
}

func Evaluate(reading model.VitalReading, thresholds []model.Threshold, recent []model.VitalReading) model.Evaluation {
	th, ok := Find(thresholds, reading.Type)
	if !ok {
		return model.Evaluation{Exceeded: false, Severity: model.SeverityNormal, Message: "No threshold defined"}
	}
	in := input{reading: reading, threshold: th, recent: recent}
	for _, r := range rules {
		if ev, fired := r.check(in); fired {
			ev.Rule = r.name
			return ev
		}
	}
	return model.Evaluation{
		Exceeded: false,
		Severity: model.SeverityNormal,
		Message:  reading.Type.Label() + " within normal range",
	}
}

func Find(thresholds []model.Threshold, t model.VitalType) (model.Threshold, bool) {
	for _, th := range thresholds {
		if th.Type == t {
			return th, true
		}
	}
	return model.Threshold{}, false
}

func pressureHigh(in input) (model.Evaluation, bool) {
	if !in.reading.Value.IsPressure() || in.threshold.Max == nil || !in.threshold.Max.IsPressure() {
		return model.Evaluation{}, false
	}
	sys, dia := in.reading.Value.Pressure()
	maxSys, maxDia := in.threshold.Max.Pressure()
	if sys <= maxSys && dia <= maxDia {
		return model.Evaluation{}, false
	}
	return critical(fmt.Sprintf("Blood pressure high: %s %s exceeds %s",
		in.reading.Value, unitOf(in.reading), in.threshold.Max)), true
}

func pressureLow(in input) (model.Evaluation, bool) {
	if !in.reading.Value.IsPressure() || in.threshold.Min == nil || !in.threshold.Min.IsPressure() {
		return model.Evaluation{}, false
	}
	sys, dia := in.reading.Value.Pressure()
	minSys, minDia := in.threshold.Min.Pressure()
	if sys >= minSys && dia >= minDia {
		return model.Evaluation{}, false
	}
	return critical(fmt.Sprintf("Blood pressure low: %s %s below %s",
		in.reading.Value, unitOf(in.reading), in.threshold.Min)), true
}

func aboveMax(in input) (model.Evaluation, bool) {
	if !in.reading.Value.IsScalar() || in.threshold.Max == nil || !in.threshold.Max.IsScalar() {
		return model.Evaluation{}, false
	}
	v, limit := in.reading.Value.Float(), in.threshold.Max.Float()
	if v <= limit {
		return model.Evaluation{}, false
	}
	return critical(fmt.Sprintf("%s above maximum: %s %s (max %s)",
		in.reading.Type.Label(), formatNumber(v), unitOf(in.reading), formatNumber(limit))), true
}

func belowMin(in input) (model.Evaluation, bool) {
	if !in.reading.Value.IsScalar() || in.threshold.Min == nil || !in.threshold.Min.IsScalar() {
		return model.Evaluation{}, false
	}
	v, limit := in.reading.Value.Float(), in.threshold.Min.Float()
	if v >= limit {
		return model.Evaluation{}, false
	}
	return critical(fmt.Sprintf("%s below minimum: %s %s (min %s)",
		in.reading.Type.Label(), formatNumber(v), unitOf(in.reading), formatNumber(limit))), true
}

func rapidChange(in input) (model.Evaluation, bool) {
	th := in.threshold
	if !in.reading.Value.IsScalar() || th.ChangePercent <= 0 || th.TimeWindow <= 0 {
		return model.Evaluation{}, false
	}
	mean, n := windowMean(in.recent, in.reading, th.TimeWindow)
	if n == 0 || mean == 0 {
		return model.Evaluation{}, false
	}
	v := in.reading.Value.Float()
	change := math.Abs(v-mean) / math.Abs(mean) * 100
	if change <= th.ChangePercent {
		return model.Evaluation{}, false
	}
	return model.Evaluation{
		Exceeded: true,
		Severity: model.SeverityWarning,
		Message: fmt.Sprintf("Rapid change in %s: %.1f%% from recent average %.1f %s",
			lowerFirst(in.reading.Type.Label()), change, mean, unitOf(in.reading)),
	}, true
}

// windowMean averages the last TrendPool same-type scalar readings that fall
// within window before the current reading.
func windowMean(recent []model.VitalReading, current model.VitalReading, window time.Duration) (float64, int) {
	var sum float64
	var n, seen int
	for i := len(recent) - 1; i >= 0 && seen < TrendPool; i-- {
		r := recent[i]
		if r.Type != current.Type || !r.Value.IsScalar() {
			continue
		}
		seen++
		if current.Timestamp.Sub(r.Timestamp) > window {
			continue
		}
		sum += r.Value.Float()
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

func critical(msg string) model.Evaluation {
	return model.Evaluation{Exceeded: true, Severity: model.SeverityCritical, Message: msg}
}

func unitOf(r model.VitalReading) string {
	if r.Unit != "" {
		return r.Unit
	}
	return r.Type.DefaultUnit()
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}
