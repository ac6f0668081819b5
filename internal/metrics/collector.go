// Package metrics provides internal Prometheus metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/voxkit/batchd/types"
)

// Collector gathers the service metrics: the scheduler's batching behavior,
// outcome delivery, and the HTTP surface.
type Collector struct {
	// Scheduler metrics
	batchSize        prometheus.Histogram
	batchWindow      prometheus.Histogram
	batchesCollected prometheus.Counter
	jobsFinished     *prometheus.CounterVec
	jobLatency       *prometheus.HistogramVec
	gateWait         prometheus.Histogram
	executingBatches prometheus.Gauge
	inflightCycles   prometheus.Gauge

	// Delivery metrics
	deliveries *prometheus.CounterVec

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Queue metrics
	queueDepth prometheus.Gauge

	logger *zap.Logger
}

// NewCollector registers the batchd metrics on the given registerer. Tests
// pass a fresh prometheus.NewRegistry; production passes the default.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.batchSize = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_size",
		Help:      "Number of jobs per collected batch",
		Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 12, 16},
	})

	c.batchWindow = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_window_seconds",
		Help:      "Duration of the batch collection window",
		Buckets:   []float64{.005, .01, .025, .05, .07, .1, .25, .5, 1, 2.5, 5},
	})

	c.batchesCollected = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_collected_total",
		Help:      "Total number of batches collected",
	})

	c.jobsFinished = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_finished_total",
		Help:      "Total number of jobs reaching a terminal state",
	}, []string{"state"})

	c.jobLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_latency_seconds",
		Help:      "Time from queue admission to terminal state",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"state"})

	c.gateWait = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "gate_wait_seconds",
		Help:      "Time batches spend waiting for an execution slot",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
	})

	c.executingBatches = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "executing_batches",
		Help:      "Number of batches currently executing",
	})

	c.inflightCycles = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "inflight_cycles",
		Help:      "Number of pipeline cycles currently in flight",
	})

	c.deliveries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_total",
		Help:      "Total outcome deliveries by mode and status",
	}, []string{"mode", "status"})

	c.httpRequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	c.httpRequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	c.queueDepth = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Pending jobs in the queue at last observation",
	})

	return c
}

// BatchCollected records one closed collection window.
func (c *Collector) BatchCollected(size int, window time.Duration) {
	c.batchesCollected.Inc()
	c.batchSize.Observe(float64(size))
	c.batchWindow.Observe(window.Seconds())
}

// JobFinished records one job reaching a terminal state.
func (c *Collector) JobFinished(state types.JobState, elapsed time.Duration) {
	c.jobsFinished.WithLabelValues(string(state)).Inc()
	c.jobLatency.WithLabelValues(string(state)).Observe(elapsed.Seconds())
}

// GateWait records the time one batch waited for an execution slot.
func (c *Collector) GateWait(wait time.Duration) {
	c.gateWait.Observe(wait.Seconds())
}

// ExecutingBatches adjusts the executing-batches gauge.
func (c *Collector) ExecutingBatches(delta int) {
	c.executingBatches.Add(float64(delta))
}

// InflightCycles adjusts the in-flight cycles gauge.
func (c *Collector) InflightCycles(delta int) {
	c.inflightCycles.Add(float64(delta))
}

// RecordDelivery records one outcome delivery attempt.
func (c *Collector) RecordDelivery(mode, status string) {
	c.deliveries.WithLabelValues(mode, status).Inc()
}

// RecordHTTPRequest records one handled HTTP request.
func (c *Collector) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetQueueDepth records the last observed queue length.
func (c *Collector) SetQueueDepth(depth int64) {
	c.queueDepth.Set(float64(depth))
}
