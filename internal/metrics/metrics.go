// Package metrics exposes the pipeline's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the pipeline reports into.
type Metrics struct {
	ActiveSessions       prometheus.Gauge
	SessionsStarted      prometheus.Counter
	SessionsEnded        prometheus.Counter
	ChunksPersisted      prometheus.Counter
	ScreenshotsPersisted prometheus.Counter
	Evictions            *prometheus.CounterVec
	Exports              *prometheus.CounterVec
}

// New registers collectors on the given registerer. Pass
// prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "screenreel_active_sessions",
			Help: "Number of recording sessions currently holding capture resources.",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "screenreel_sessions_started_total",
			Help: "Recording sessions that reached the recording state.",
		}),
		SessionsEnded: factory.NewCounter(prometheus.CounterOpts{
			Name: "screenreel_sessions_ended_total",
			Help: "Recording sessions that reached a terminal state.",
		}),
		ChunksPersisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "screenreel_chunks_persisted_total",
			Help: "Video chunks written to the store.",
		}),
		ScreenshotsPersisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "screenreel_screenshots_persisted_total",
			Help: "Action screenshots written to the store.",
		}),
		Evictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "screenreel_store_evictions_total",
			Help: "Records evicted to keep collections under their caps.",
		}, []string{"collection"}),
		Exports: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "screenreel_exports_total",
			Help: "Archive export attempts by outcome.",
		}, []string{"outcome"}),
	}
}

// ObserveExport records one export outcome.
func (m *Metrics) ObserveExport(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.Exports.WithLabelValues(outcome).Inc()
}

// ObserveEviction records evicted documents for a collection.
func (m *Metrics) ObserveEviction(collection string, n int64) {
	if n > 0 {
		m.Evictions.WithLabelValues(collection).Add(float64(n))
	}
}
