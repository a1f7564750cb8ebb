package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"healthbridge/internal/model"
)

// Recorder owns a private registry so tests and multiple instances never
// collide on the global one. A nil *Recorder is a no-op.
type Recorder struct {
	registry *prometheus.Registry

	readings       *prometheus.CounterVec
	duplicates     prometheus.Counter
	dispatches     *prometheus.CounterVec
	channelResults *prometheus.CounterVec
	suppressed     prometheus.Counter
	ingestDropped  *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healthbridge",
			Name:      "readings_total",
			Help:      "Vital-sign readings evaluated, by type and severity.",
		}, []string{"type", "severity"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "healthbridge",
			Name:      "readings_duplicate_total",
			Help:      "Readings dropped as duplicates.",
		}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healthbridge",
			Name:      "dispatches_total",
			Help:      "Emergency alerts dispatched, by level and trigger method.",
		}, []string{"level", "trigger"}),
		channelResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healthbridge",
			Name:      "channel_results_total",
			Help:      "Notification channel outcomes.",
		}, []string{"channel", "status"}),
		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "healthbridge",
			Name:      "cooldown_suppressed_total",
			Help:      "Threshold breaches not dispatched because the user was in cooldown.",
		}),
		ingestDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healthbridge",
			Name:      "ingest_dropped_total",
			Help:      "Device readings dropped by an ingest source.",
		}, []string{"source", "reason"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healthbridge",
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		}, []string{"method", "path", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "healthbridge",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	r.registry.MustRegister(
		r.readings,
		r.duplicates,
		r.dispatches,
		r.channelResults,
		r.suppressed,
		r.ingestDropped,
		r.httpRequests,
		r.httpDuration,
	)
	return r
}

func (r *Recorder) Reading(t model.VitalType, severity model.Severity) {
	if r == nil {
		return
	}
	r.readings.WithLabelValues(string(t), string(severity)).Inc()
}

func (r *Recorder) Duplicate() {
	if r == nil {
		return
	}
	r.duplicates.Inc()
}

func (r *Recorder) Dispatch(a model.EmergencyAlert) {
	if r == nil {
		return
	}
	r.dispatches.WithLabelValues(string(a.Level), string(a.TriggerMethod)).Inc()
	for _, c := range a.Channels {
		r.channelResults.WithLabelValues(c.Channel, string(c.Status)).Inc()
	}
}

func (r *Recorder) CooldownSuppressed() {
	if r == nil {
		return
	}
	r.suppressed.Inc()
}

func (r *Recorder) IngestDropped(source, reason string) {
	if r == nil {
		return
	}
	r.ingestDropped.WithLabelValues(source, reason).Inc()
}

func (r *Recorder) HTTPRequest(method, path string, status int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the exposition format for this recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
