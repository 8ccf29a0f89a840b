package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the core device-server metrics (not component-specific)
type Metrics struct {
	// Control protocol metrics
	ControlsReceived  *prometheus.CounterVec
	ControlsHandled   *prometheus.CounterVec
	RepliesFailed     *prometheus.CounterVec
	DiscoverySent     *prometheus.CounterVec
	MetadataPublished *prometheus.CounterVec
	DispatcherDepth   *prometheus.GaugeVec
	HandleDuration    *prometheus.HistogramVec

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all core metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ControlsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "devlink",
				Subsystem: "control",
				Name:      "received_total",
				Help:      "Total control messages taken from the control topic",
			},
			[]string{"device"},
		),

		ControlsHandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "devlink",
				Subsystem: "control",
				Name:      "handled_total",
				Help:      "Total control messages handled, by command id and status",
			},
			[]string{"device", "id", "status"},
		),

		RepliesFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "devlink",
				Subsystem: "control",
				Name:      "replies_failed_total",
				Help:      "Reply publishes that failed and were dropped",
			},
			[]string{"device"},
		),

		DiscoverySent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "devlink",
				Subsystem: "discovery",
				Name:      "notifications_sent_total",
				Help:      "Discovery notifications published, including replays",
			},
			[]string{"device"},
		),

		MetadataPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "devlink",
				Subsystem: "metadata",
				Name:      "published_total",
				Help:      "Per-frame metadata messages published",
			},
			[]string{"device"},
		),

		DispatcherDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "devlink",
				Subsystem: "dispatch",
				Name:      "queue_depth",
				Help:      "Current control dispatcher queue depth",
			},
			[]string{"device"},
		),

		HandleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "devlink",
				Subsystem: "control",
				Name:      "handle_duration_seconds",
				Help:      "Control handler execution time",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"device", "id"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "devlink",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "devlink",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

// RecordControlReceived increments the received control counter
func (m *Metrics) RecordControlReceived(device string) {
	m.ControlsReceived.WithLabelValues(device).Inc()
}

// RecordControlHandled increments the handled control counter
func (m *Metrics) RecordControlHandled(device, id, status string) {
	m.ControlsHandled.WithLabelValues(device, id, status).Inc()
}

// RecordReplyFailed increments the failed reply counter
func (m *Metrics) RecordReplyFailed(device string) {
	m.RepliesFailed.WithLabelValues(device).Inc()
}

// RecordDiscoverySent increments the discovery notification counter
func (m *Metrics) RecordDiscoverySent(device string) {
	m.DiscoverySent.WithLabelValues(device).Inc()
}

// RecordMetadataPublished increments the metadata counter
func (m *Metrics) RecordMetadataPublished(device string) {
	m.MetadataPublished.WithLabelValues(device).Inc()
}

// RecordDispatcherDepth updates the dispatcher queue depth gauge
func (m *Metrics) RecordDispatcherDepth(device string, depth int) {
	m.DispatcherDepth.WithLabelValues(device).Set(float64(depth))
}

// RecordHandleDuration records handler execution time
func (m *Metrics) RecordHandleDuration(device, id string, duration time.Duration) {
	m.HandleDuration.WithLabelValues(device, id).Observe(duration.Seconds())
}

// RecordNATSStatus updates NATS connection status
func (m *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	m.NATSConnected.Set(value)
}

// RecordNATSReconnect increments the reconnection counter
func (m *Metrics) RecordNATSReconnect() {
	m.NATSReconnects.Inc()
}
