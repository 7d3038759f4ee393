package http

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics implements core.Metrics on a dedicated Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	ResolutionsTotal   *prometheus.CounterVec
	PublishesTotal     *prometheus.CounterVec
	PredictionsTotal   *prometheus.CounterVec
	QuotaDeniedTotal   prometheus.Counter
	ThrottledTotal     *prometheus.CounterVec
	TranscodePasses    prometheus.Histogram
	RequestDuration    *prometheus.HistogramVec
	ActiveSessions     prometheus.Gauge
	predictionProvider string
}

// NewMetrics registers the service metrics. provider labels prediction counters.
func NewMetrics(provider string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setlistify_resolutions_total",
				Help: "Total number of setlist entries resolved against the catalog",
			},
			[]string{"outcome"},
		),
		PublishesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setlistify_publishes_total",
				Help: "Total number of playlist publish attempts",
			},
			[]string{"status"},
		),
		PredictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setlistify_predictions_total",
				Help: "Total number of setlist predictions",
			},
			[]string{"provider", "status"},
		),
		QuotaDeniedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "setlistify_quota_denied_total",
				Help: "Total number of predictions refused by the daily quota",
			},
		),
		ThrottledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setlistify_throttled_total",
				Help: "Total number of requests rejected by the flood throttle",
			},
			[]string{"route"},
		),
		TranscodePasses: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "setlistify_cover_transcode_passes",
				Help:    "Encode passes needed to fit a cover image into the byte budget",
				Buckets: []float64{1, 2, 3, 4, 6, 8, 12},
			},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "setlistify_request_duration_seconds",
				Help:    "Time spent serving API requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "code"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "setlistify_active_sessions",
				Help: "Number of export sessions held in memory",
			},
		),
		predictionProvider: provider,
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ResolutionsTotal,
		m.PublishesTotal,
		m.PredictionsTotal,
		m.QuotaDeniedTotal,
		m.ThrottledTotal,
		m.TranscodePasses,
		m.RequestDuration,
		m.ActiveSessions,
	)

	return m
}

// Registry returns the registry backing /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordResolution(outcome string) {
	m.ResolutionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordPublish(status string) {
	m.PublishesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordPrediction(status string) {
	m.PredictionsTotal.WithLabelValues(m.predictionProvider, status).Inc()
}

func (m *Metrics) RecordQuotaDenied() {
	m.QuotaDeniedTotal.Inc()
}

// ObserveTranscodePasses is installed as the image transcoder's iteration observer.
func (m *Metrics) ObserveTranscodePasses(passes int) {
	m.TranscodePasses.Observe(float64(passes))
}

func (m *Metrics) RecordThrottled(route string) {
	m.ThrottledTotal.WithLabelValues(route).Inc()
}

func (m *Metrics) RecordRequest(route, code string, duration time.Duration) {
	m.RequestDuration.WithLabelValues(route, code).Observe(duration.Seconds())
}

func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}
