// Package metrics exposes Prometheus counters and gauges for the cache,
// recognition, and subscription-bus components, per SPEC_FULL.md's DOMAIN
// STACK section. Grounded on the Mimir fork's client_golang usage and
// other_examples/.../adsb-exporter/main.go's GaugeVec/CounterVec
// registration shape.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every metric this module emits, registered against a
// private prometheus.Registry rather than the global default so tests can
// construct independent instances without collector-already-registered
// panics.
type Registry struct {
	reg *prometheus.Registry

	CachePuts        *prometheus.CounterVec
	CacheSize        prometheus.Gauge
	RecognitionRuns  *prometheus.CounterVec
	RecognitionTime  prometheus.Histogram
	FormationsTotal  prometheus.Counter
	FormationsActive prometheus.Gauge
	BusClients       prometheus.Gauge
	BusMessagesSent  *prometheus.CounterVec
	BusDisconnects   *prometheus.CounterVec
}

// New builds and registers a fresh Registry.
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		CachePuts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formation_cache_puts_total",
			Help: "Target cache writes, labeled by outcome (created/updated).",
		}, []string{"outcome"}),
		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "formation_cache_active_targets",
			Help: "Number of targets currently live in the cache.",
		}),
		RecognitionRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formation_recognition_runs_total",
			Help: "Recognition passes, labeled by trigger (auto/manual).",
		}, []string{"trigger"}),
		RecognitionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "formation_recognition_duration_seconds",
			Help:    "Wall-clock duration of a recognition pass.",
			Buckets: prometheus.DefBuckets,
		}),
		FormationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formation_detected_total",
			Help: "Total formations detected since startup.",
		}),
		FormationsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "formation_store_active",
			Help: "Unexpired formations currently in the store.",
		}),
		BusClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "formation_bus_connected_clients",
			Help: "Currently connected websocket subscribers.",
		}),
		BusMessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formation_bus_messages_sent_total",
			Help: "Outbound bus messages, labeled by message type.",
		}, []string{"type"}),
		BusDisconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formation_bus_disconnects_total",
			Help: "Client disconnects, labeled by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.CachePuts, m.CacheSize,
		m.RecognitionRuns, m.RecognitionTime,
		m.FormationsTotal, m.FormationsActive,
		m.BusClients, m.BusMessagesSent, m.BusDisconnects,
	)

	return m
}

// Gatherer exposes the underlying registry for wiring into promhttp.Handler.
func (m *Registry) Gatherer() prometheus.Gatherer {
	return m.reg
}

// ObserveCachePut records a cache write's outcome.
func (m *Registry) ObserveCachePut(updated bool) {
	outcome := "created"
	if updated {
		outcome = "updated"
	}
	m.CachePuts.WithLabelValues(outcome).Inc()
}

// ObserveRecognitionRun records a completed recognition pass.
func (m *Registry) ObserveRecognitionRun(trigger string, durationSeconds float64, formationCount int) {
	m.RecognitionRuns.WithLabelValues(trigger).Inc()
	m.RecognitionTime.Observe(durationSeconds)
	m.FormationsTotal.Add(float64(formationCount))
}

// ObserveBusMessage records one outbound message by type tag.
func (m *Registry) ObserveBusMessage(msgType string) {
	m.BusMessagesSent.WithLabelValues(msgType).Inc()
}

// ObserveBusDisconnect records one client disconnect by reason.
func (m *Registry) ObserveBusDisconnect(reason string) {
	m.BusDisconnects.WithLabelValues(reason).Inc()
}

// SetBusClients sets the connected-client gauge.
func (m *Registry) SetBusClients(count float64) {
	m.BusClients.Set(count)
}

// SetCacheSize sets the active-target gauge.
func (m *Registry) SetCacheSize(count float64) {
	m.CacheSize.Set(count)
}

// SetFormationsActive sets the active-formation gauge.
func (m *Registry) SetFormationsActive(count float64) {
	m.FormationsActive.Set(count)
}
