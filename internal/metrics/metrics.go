// Package metrics holds the Prometheus collectors for the detector service.
//
// Every method is safe on a nil *Metrics so components can run without
// instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	eventsReceived  *prometheus.CounterVec
	eventsRejected  *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	notifyFailures  prometheus.Counter
	journalFailures prometheus.Counter
	pending         prometheus.Gauge
	episodeSize     prometheus.Histogram
	notifyDuration  prometheus.Histogram
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	f := promauto.With(registry)

	return &Metrics{
		registry: registry,

		eventsReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ambiguity_events_received_total",
				Help: "Events admitted to the ambiguity window, by source",
			},
			[]string{"source"},
		),
		eventsRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ambiguity_events_rejected_total",
				Help: "Events discarded before the ambiguity window, by source and reason",
			},
			[]string{"source", "reason"},
		),
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ambiguity_decisions_total",
				Help: "Flush decisions emitted, by kind",
			},
			[]string{"kind"},
		),
		notifyFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "ambiguity_notify_failures_total",
			Help: "Decisions the orchestrator did not accept",
		}),
		journalFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "ambiguity_journal_failures_total",
			Help: "Decisions that could not be written to the journal",
		}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "ambiguity_pending_events",
			Help: "Events buffered in the current ambiguity window",
		}),
		episodeSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ambiguity_episode_size",
			Help:    "Number of events per flushed episode",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 13, 21},
		}),
		notifyDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ambiguity_notify_duration_seconds",
			Help:    "Orchestrator notification latency",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) EventReceived(source string) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(source).Inc()
}

func (m *Metrics) EventRejected(source, reason string) {
	if m == nil {
		return
	}
	m.eventsRejected.WithLabelValues(source, reason).Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Metrics) DecisionEmitted(kind string, size int) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(kind).Inc()
	m.episodeSize.Observe(float64(size))
}

func (m *Metrics) NotifyObserved(seconds float64, failed bool) {
	if m == nil {
		return
	}
	m.notifyDuration.Observe(seconds)
	if failed {
		m.notifyFailures.Inc()
	}
}

func (m *Metrics) JournalFailed() {
	if m == nil {
		return
	}
	m.journalFailures.Inc()
}
