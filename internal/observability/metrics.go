package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// fusion service.
type Metrics struct {
	CyclesTotal       *prometheus.CounterVec // labels: outcome={success,partial,error,skipped}
	CycleDuration     prometheus.Histogram
	ConsecutiveErrors prometheus.Gauge
	CollectorRunning  prometheus.Gauge

	LastSuccessTimestamp prometheus.Gauge
	ActiveUsers          prometheus.Gauge

	ReadingsProduced prometheus.Counter
	ReadingsDropped  prometheus.Counter

	// Alerting metrics.
	AlertsProduced   *prometheus.CounterVec // labels: detector={threshold,anomaly}, severity={warning,critical}
	AlertsSuppressed prometheus.Counter

	// Source adapter metrics.
	SourceHealth        *prometheus.GaugeVec     // labels: source={satellite,weather,simulated}
	SourceFetchDuration *prometheus.HistogramVec // labels: source

	// Broadcast metrics.
	BroadcastDeliveries *prometheus.CounterVec // labels: channel, outcome={success,error}
}

// NewMetrics creates and registers all service metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crop_fusion",
			Name:      "cycles_total",
			Help:      "Collection cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crop_fusion",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete fetch-fuse-alert-broadcast cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		ConsecutiveErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crop_fusion",
			Name:      "consecutive_cycle_errors",
			Help:      "Number of consecutive failed cycles; resets to 0 on success.",
		}),
		CollectorRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crop_fusion",
			Name:      "collector_running",
			Help:      "1 while a collection cycle is in flight, 0 otherwise.",
		}),
		LastSuccessTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crop_fusion",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful collection cycle.",
		}),
		ActiveUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crop_fusion",
			Name:      "active_users",
			Help:      "Distinct users processed in the last cycle.",
		}),
		ReadingsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crop_fusion",
			Name:      "readings_produced_total",
			Help:      "Total readings persisted across all users and zones.",
		}),
		ReadingsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crop_fusion",
			Name:      "readings_dropped_total",
			Help:      "Readings rejected by validation or persistence failures.",
		}),
		AlertsProduced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crop_fusion",
			Name:      "alerts_produced_total",
			Help:      "Alerts raised by detector and severity.",
		}, []string{"detector", "severity"}),
		AlertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crop_fusion",
			Name:      "alerts_suppressed_total",
			Help:      "Alerts dropped by reason-string deduplication.",
		}),
		SourceHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "crop_fusion",
			Name:      "source_healthy",
			Help:      "1 when the source's last fetch was usable, 0 after a failed fetch.",
		}, []string{"source"}),
		SourceFetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "crop_fusion",
			Name:      "source_fetch_duration_seconds",
			Help:      "Upstream fetch duration per source, including retries.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source"}),
		BroadcastDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crop_fusion",
			Name:      "broadcast_deliveries_total",
			Help:      "Per-channel broadcast attempts by outcome.",
		}, []string{"channel", "outcome"}),
	}

	prometheus.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.ConsecutiveErrors,
		m.CollectorRunning,
		m.LastSuccessTimestamp,
		m.ActiveUsers,
		m.ReadingsProduced,
		m.ReadingsDropped,
		m.AlertsProduced,
		m.AlertsSuppressed,
		m.SourceHealth,
		m.SourceFetchDuration,
		m.BroadcastDeliveries,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		CyclesTotal:          prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "crop_fusion", Name: "cycles_total"}, []string{"outcome"}),
		CycleDuration:        prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "crop_fusion", Name: "cycle_duration_seconds"}),
		ConsecutiveErrors:    prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "crop_fusion", Name: "consecutive_cycle_errors"}),
		CollectorRunning:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "crop_fusion", Name: "collector_running"}),
		LastSuccessTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "crop_fusion", Name: "last_success_timestamp_seconds"}),
		ActiveUsers:          prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "crop_fusion", Name: "active_users"}),
		ReadingsProduced:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "crop_fusion", Name: "readings_produced_total"}),
		ReadingsDropped:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "crop_fusion", Name: "readings_dropped_total"}),
		AlertsProduced:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "crop_fusion", Name: "alerts_produced_total"}, []string{"detector", "severity"}),
		AlertsSuppressed:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "crop_fusion", Name: "alerts_suppressed_total"}),
		SourceHealth:         prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: "crop_fusion", Name: "source_healthy"}, []string{"source"}),
		SourceFetchDuration:  prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: "crop_fusion", Name: "source_fetch_duration_seconds"}, []string{"source"}),
		BroadcastDeliveries:  prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "crop_fusion", Name: "broadcast_deliveries_total"}, []string{"channel", "outcome"}),
	}
}
