// Package metric exposes the agent's Prometheus metrics. A nil *Metrics is
// valid and records nothing, so components can run without a registry.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "edge_agent"

// Metrics contains all agent metrics
type Metrics struct {
	registry *prometheus.Registry

	// Cycle metrics
	Cycles        prometheus.Counter
	CycleErrors   prometheus.Counter
	CycleDuration prometheus.Histogram

	// Sensor and inference metrics
	SensorReadings   *prometheus.CounterVec
	Inferences       *prometheus.CounterVec
	InferenceLatency prometheus.Histogram

	// Delivery metrics
	PacketsCreated  prometheus.Counter
	Deliveries      *prometheus.CounterVec
	Failures        *prometheus.CounterVec
	RetryAttempts   prometheus.Counter
	QueueLength     prometheus.Gauge
	DeliveryLatency prometheus.Histogram
	ChannelQuality  *prometheus.GaugeVec
}

// New creates the agent metrics on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "total",
			Help:      "Total number of completed agent cycles",
		}),
		CycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "errors_total",
			Help:      "Total number of agent cycles that failed and backed off",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Agent cycle duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		SensorReadings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sensor",
			Name:      "readings_total",
			Help:      "Total number of sensor readings collected",
		}, []string{"type"}),
		Inferences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inference",
			Name:      "total",
			Help:      "Total number of classifications by category",
		}, []string{"category"}),
		InferenceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "inference",
			Name:      "duration_seconds",
			Help:      "Inference duration in seconds",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),

		PacketsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "packets_total",
			Help:      "Total number of packets handed to the scheduler",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "success_total",
			Help:      "Total number of delivered packets by channel",
		}, []string{"channel"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "failure_total",
			Help:      "Total number of permanently failed packets by reason",
		}, []string{"reason"}), // reason: exhausted, evicted, rejected
		RetryAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "retry_attempts_total",
			Help:      "Total number of queued packet re-attempts",
		}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "queue_length",
			Help:      "Number of packets waiting in the retry queue",
		}),
		DeliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "latency_seconds",
			Help:      "Time from packet creation to successful delivery",
			Buckets:   []float64{0.001, 0.01, 0.1, 1, 10, 60, 300},
		}),
		ChannelQuality: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "quality",
			Help:      "Link quality of a transport channel (0-100, 0 when disconnected)",
		}, []string{"channel"}),
	}

	m.registry.MustRegister(
		m.Cycles, m.CycleErrors, m.CycleDuration,
		m.SensorReadings, m.Inferences, m.InferenceLatency,
		m.PacketsCreated, m.Deliveries, m.Failures, m.RetryAttempts,
		m.QueueLength, m.DeliveryLatency, m.ChannelQuality,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordCycle records one completed or failed cycle
func (m *Metrics) RecordCycle(d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.Cycles.Inc()
	m.CycleDuration.Observe(d.Seconds())
	if failed {
		m.CycleErrors.Inc()
	}
}

// RecordReading counts one collected sensor reading
func (m *Metrics) RecordReading(sensorType string) {
	if m == nil {
		return
	}
	m.SensorReadings.WithLabelValues(sensorType).Inc()
}

// RecordInference counts one classification
func (m *Metrics) RecordInference(category string, d time.Duration) {
	if m == nil {
		return
	}
	m.Inferences.WithLabelValues(category).Inc()
	m.InferenceLatency.Observe(d.Seconds())
}

// RecordPacket counts one packet handed to the scheduler
func (m *Metrics) RecordPacket() {
	if m == nil {
		return
	}
	m.PacketsCreated.Inc()
}

// RecordDelivery counts one delivered packet and its end-to-end latency
func (m *Metrics) RecordDelivery(channel string, latency time.Duration) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(channel).Inc()
	m.DeliveryLatency.Observe(latency.Seconds())
}

// RecordFailure counts one permanently failed packet
func (m *Metrics) RecordFailure(reason string) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(reason).Inc()
}

// RecordRetry counts one re-attempt of a queued packet
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.RetryAttempts.Inc()
}

// SetQueueLength updates the retry queue gauge
func (m *Metrics) SetQueueLength(n int) {
	if m == nil {
		return
	}
	m.QueueLength.Set(float64(n))
}

// SetChannelQuality updates a channel's link quality gauge
func (m *Metrics) SetChannelQuality(channel string, quality int) {
	if m == nil {
		return
	}
	m.ChannelQuality.WithLabelValues(channel).Set(float64(quality))
}
