// Package metrics provides Prometheus metrics export for the
// orchestration core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter records task and batch lifecycle metrics. It
// implements the orchestrator's MetricsRecorder interface.
type PrometheusExporter struct {
	registry *prometheus.Registry

	tasksTotal   *prometheus.CounterVec
	taskLatency  *prometheus.HistogramVec
	tasksActive  prometheus.Gauge
	batchesTotal *prometheus.CounterVec
	batchLatency *prometheus.HistogramVec
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "orchestrator",
			Name:      "tasks_total",
			Help:      "Total number of executed tasks",
		},
		[]string{"worker", "kind", "status"},
	)

	e.taskLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "conductor",
			Subsystem: "orchestrator",
			Name:      "task_latency_seconds",
			Help:      "Task execution latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"worker"},
	)

	e.tasksActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "conductor",
			Subsystem: "orchestrator",
			Name:      "tasks_active",
			Help:      "Number of tasks currently in flight",
		},
	)

	e.batchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "orchestrator",
			Name:      "batches_total",
			Help:      "Total number of executed batches",
		},
		[]string{"mode", "status"},
	)

	e.batchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "conductor",
			Subsystem: "orchestrator",
			Name:      "batch_latency_seconds",
			Help:      "Batch execution latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"mode"},
	)

	registry.MustRegister(
		e.tasksTotal,
		e.taskLatency,
		e.tasksActive,
		e.batchesTotal,
		e.batchLatency,
	)

	return e
}

// TaskStarted records a task entering execution.
func (e *PrometheusExporter) TaskStarted(worker string) {
	e.tasksActive.Inc()
}

// TaskFinished records a completed task.
func (e *PrometheusExporter) TaskFinished(worker, kind, status string, elapsed time.Duration) {
	e.tasksActive.Dec()
	e.tasksTotal.WithLabelValues(worker, kind, status).Inc()
	e.taskLatency.WithLabelValues(worker).Observe(elapsed.Seconds())
}

// BatchFinished records a completed batch.
func (e *PrometheusExporter) BatchFinished(mode, status string, elapsed time.Duration) {
	e.batchesTotal.WithLabelValues(mode, status).Inc()
	e.batchLatency.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// GetRegistry returns the Prometheus registry.
func (e *PrometheusExporter) GetRegistry() *prometheus.Registry {
	return e.registry
}
