// Package metrics exposes tabdesk's Prometheus metrics on a private registry.
// Every method is safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	TabsLive   prometheus.Gauge
	TabsLoaded prometheus.Gauge

	BroadcastsTotal         prometheus.Counter
	BroadcastAnomaliesTotal prometheus.Counter
	ObserverErrorsTotal     prometheus.Counter

	SavesTotal   *prometheus.CounterVec
	SaveDuration prometheus.Histogram

	SnapshotCapturesTotal  *prometheus.CounterVec
	SnapshotEvictionsTotal prometheus.Counter
	WarmupPreloadsTotal    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		TabsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tabdesk_tabs_live",
			Help: "Number of tabs in the collection",
		}),
		TabsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tabdesk_tabs_loaded",
			Help: "Number of tabs with a live surface",
		}),
		BroadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabdesk_broadcasts_total",
			Help: "Total number of tabs-sync broadcasts sent",
		}),
		BroadcastAnomaliesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabdesk_broadcast_anomalies_total",
			Help: "Broadcasts that had to correct more than one active tab",
		}),
		ObserverErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabdesk_observer_errors_total",
			Help: "Failed deliveries to observer surfaces",
		}),
		SavesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabdesk_session_saves_total",
			Help: "Session saves by trigger and status",
		}, []string{"trigger", "status"}),
		SaveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tabdesk_session_save_duration_seconds",
			Help:    "Duration of session saves in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		SnapshotCapturesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabdesk_snapshot_captures_total",
			Help: "Snapshot cache writes by status",
		}, []string{"status"}),
		SnapshotEvictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabdesk_snapshot_evictions_total",
			Help: "Snapshot cache entries removed by garbage collection",
		}),
		WarmupPreloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabdesk_warmup_preloads_total",
			Help: "Background preloads by source and status",
		}, []string{"source", "status"}),
	}

	registry.MustRegister(
		m.TabsLive,
		m.TabsLoaded,
		m.BroadcastsTotal,
		m.BroadcastAnomaliesTotal,
		m.ObserverErrorsTotal,
		m.SavesTotal,
		m.SaveDuration,
		m.SnapshotCapturesTotal,
		m.SnapshotEvictionsTotal,
		m.WarmupPreloadsTotal,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *Metrics) SetTabs(live, loaded int) {
	if m == nil {
		return
	}
	m.TabsLive.Set(float64(live))
	m.TabsLoaded.Set(float64(loaded))
}

func (m *Metrics) RecordBroadcast(anomaly bool, failedObservers int) {
	if m == nil {
		return
	}
	m.BroadcastsTotal.Inc()
	if anomaly {
		m.BroadcastAnomaliesTotal.Inc()
	}
	m.ObserverErrorsTotal.Add(float64(failedObservers))
}

func (m *Metrics) RecordSave(trigger string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SavesTotal.WithLabelValues(trigger, status(err)).Inc()
	m.SaveDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) RecordCapture(err error) {
	if m == nil {
		return
	}
	m.SnapshotCapturesTotal.WithLabelValues(status(err)).Inc()
}

func (m *Metrics) RecordEvictions(n int) {
	if m == nil {
		return
	}
	m.SnapshotEvictionsTotal.Add(float64(n))
}

func (m *Metrics) RecordPreload(source string, ok bool) {
	if m == nil {
		return
	}
	result := "loaded"
	if !ok {
		result = "skipped"
	}
	m.WarmupPreloadsTotal.WithLabelValues(source, result).Inc()
}
