// Package metrics exposes the bridge's Prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/servo-bridge/backend/internal/models"
)

const namespace = "servobridge"

// Metrics holds every collector the server updates.
type Metrics struct {
	registry *prometheus.Registry

	commands       *prometheus.CounterVec
	clamps         *prometheus.CounterVec
	sensorFailures prometheus.Counter
	sensorReads    prometheus.Histogram
	controller     prometheus.Counter
	clients        prometheus.Gauge
	dropped        *prometheus.CounterVec
	broadcasts     prometheus.Counter
	broadcastTime  prometheus.Histogram
	deviceStatus   *prometheus.GaugeVec
	journalDropped prometheus.Counter
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands submitted, by action, source and result.",
		}, []string{"action", "source", "result"}),
		clamps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clamp_events_total",
			Help:      "Requested values clamped into the allowed range.",
		}, []string{"action"}),
		sensorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_read_failures_total",
			Help:      "Failed or timed-out sensor reads.",
		}),
		sensorReads: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sensor_read_seconds",
			Help:      "Duration of successful sensor reads.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 10),
		}),
		controller: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_events_total",
			Help:      "Normalised controller events processed.",
		}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Currently open stream clients.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_clients_dropped_total",
			Help:      "Stream clients closed by the server, by reason.",
		}, []string{"reason"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Snapshots fanned out to stream clients.",
		}),
		broadcastTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_duration_seconds",
			Help:      "Time to encode and enqueue one snapshot for every client.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 12),
		}),
		deviceStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_status",
			Help:      "1 for the current status of each device, 0 otherwise.",
		}, []string{"device", "status"}),
		journalDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_dropped_total",
			Help:      "Journal events dropped because the write buffer was full.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.commands, m.clamps, m.sensorFailures, m.sensorReads, m.controller,
		m.clients, m.dropped, m.broadcasts, m.broadcastTime, m.deviceStatus,
		m.journalDropped,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Command counts one submitted command. result is "ok" or an error kind.
func (m *Metrics) Command(action models.Action, source models.Source, result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(string(action), string(source), result).Inc()
}

// Clamp counts one clamped request.
func (m *Metrics) Clamp(action models.Action) {
	if m == nil {
		return
	}
	m.clamps.WithLabelValues(string(action)).Inc()
}

// SensorRead records a successful read.
func (m *Metrics) SensorRead(d time.Duration) {
	if m == nil {
		return
	}
	m.sensorReads.Observe(d.Seconds())
}

// SensorFailure counts one failed read.
func (m *Metrics) SensorFailure() {
	if m == nil {
		return
	}
	m.sensorFailures.Inc()
}

// ControllerEvents counts processed controller events.
func (m *Metrics) ControllerEvents(n int) {
	if m == nil || n == 0 {
		return
	}
	m.controller.Add(float64(n))
}

// SetClients sets the open client gauge.
func (m *Metrics) SetClients(n int) {
	if m == nil {
		return
	}
	m.clients.Set(float64(n))
}

// ClientDropped counts a client closed by the server.
func (m *Metrics) ClientDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// Broadcast records one fan-out.
func (m *Metrics) Broadcast(d time.Duration) {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
	m.broadcastTime.Observe(d.Seconds())
}

// DeviceStatus sets the status gauge of one device.
func (m *Metrics) DeviceStatus(kind models.DeviceKind, status models.DeviceStatus) {
	if m == nil {
		return
	}
	for _, s := range []models.DeviceStatus{models.StatusConnected, models.StatusDisconnected, models.StatusError} {
		v := 0.0
		if s == status {
			v = 1
		}
		m.deviceStatus.WithLabelValues(string(kind), string(s)).Set(v)
	}
}

// JournalDropped counts one event lost to a full journal buffer.
func (m *Metrics) JournalDropped() {
	if m == nil {
		return
	}
	m.journalDropped.Inc()
}
