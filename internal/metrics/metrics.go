// Package metrics provides Prometheus metrics for Warden.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warden/warden/internal/breaker"
	"github.com/warden/warden/internal/queue"
	"github.com/warden/warden/internal/worker"
)

// Collector exposes queue, breaker, and worker state to Prometheus.
// It reads component snapshots at scrape time instead of threading
// counters through the pipeline.
type Collector struct {
	queue    *queue.Queue
	breakers *breaker.Registry
	worker   *worker.Worker

	queueJobs          *prometheus.Desc
	queueCapacity      *prometheus.Desc
	queueUtilization   *prometheus.Desc
	queueBackpressure  *prometheus.Desc
	queueRecentFails   *prometheus.Desc
	jobsSucceeded      *prometheus.Desc
	jobsDeadLettered   *prometheus.Desc
	circuits           *prometheus.Desc
	workerProcessed    *prometheus.Desc
	workerFailed       *prometheus.Desc
	workerTimedOut     *prometheus.Desc
	workerCircuitSkips *prometheus.Desc
	workerBusy         *prometheus.Desc
}

// NewCollector creates a collector over the pipeline components.
func NewCollector(q *queue.Queue, breakers *breaker.Registry, w *worker.Worker) *Collector {
	return &Collector{
		queue:    q,
		breakers: breakers,
		worker:   w,
		queueJobs: prometheus.NewDesc("warden_queue_jobs",
			"Number of jobs by state.", []string{"state"}, nil),
		queueCapacity: prometheus.NewDesc("warden_queue_capacity",
			"Configured queue capacity.", nil, nil),
		queueUtilization: prometheus.NewDesc("warden_queue_utilization_percent",
			"Queue utilization percent (queued + running over capacity).", nil, nil),
		queueBackpressure: prometheus.NewDesc("warden_queue_backpressure_active",
			"Whether admission backpressure is active (1 = active).", nil, nil),
		queueRecentFails: prometheus.NewDesc("warden_queue_recent_failures",
			"Failures within the sliding failure window.", nil, nil),
		jobsSucceeded: prometheus.NewDesc("warden_jobs_succeeded_total",
			"Jobs completed successfully since start.", nil, nil),
		jobsDeadLettered: prometheus.NewDesc("warden_jobs_dead_lettered_total",
			"Jobs moved to the dead-letter sink since start.", nil, nil),
		circuits: prometheus.NewDesc("warden_circuits",
			"Number of circuit breakers by state.", []string{"state"}, nil),
		workerProcessed: prometheus.NewDesc("warden_worker_processed_total",
			"Jobs the worker has dispatched.", nil, nil),
		workerFailed: prometheus.NewDesc("warden_worker_failed_total",
			"Execution attempts that failed.", nil, nil),
		workerTimedOut: prometheus.NewDesc("warden_worker_timed_out_total",
			"Execution attempts abandoned by the timeout race.", nil, nil),
		workerCircuitSkips: prometheus.NewDesc("warden_worker_circuit_rejected_total",
			"Dispatches refused because the target circuit was open.", nil, nil),
		workerBusy: prometheus.NewDesc("warden_worker_busy",
			"Whether a job is currently in flight (1 = busy).", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueJobs
	ch <- c.queueCapacity
	ch <- c.queueUtilization
	ch <- c.queueBackpressure
	ch <- c.queueRecentFails
	ch <- c.jobsSucceeded
	ch <- c.jobsDeadLettered
	ch <- c.circuits
	ch <- c.workerProcessed
	ch <- c.workerFailed
	ch <- c.workerTimedOut
	ch <- c.workerCircuitSkips
	ch <- c.workerBusy
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if stats, err := c.queue.Stats(); err == nil {
		ch <- prometheus.MustNewConstMetric(c.queueJobs, prometheus.GaugeValue, float64(stats.Queued), "queued")
		ch <- prometheus.MustNewConstMetric(c.queueJobs, prometheus.GaugeValue, float64(stats.Running), "running")
		ch <- prometheus.MustNewConstMetric(c.queueJobs, prometheus.GaugeValue, float64(stats.WaitingApproval), "waiting_approval")
		ch <- prometheus.MustNewConstMetric(c.queueCapacity, prometheus.GaugeValue, float64(stats.Capacity))
		ch <- prometheus.MustNewConstMetric(c.queueUtilization, prometheus.GaugeValue, stats.UtilizationPercent)
		ch <- prometheus.MustNewConstMetric(c.queueBackpressure, prometheus.GaugeValue, boolToFloat(stats.BackpressureActive))
		ch <- prometheus.MustNewConstMetric(c.queueRecentFails, prometheus.GaugeValue, float64(stats.RecentFailures))
		ch <- prometheus.MustNewConstMetric(c.jobsSucceeded, prometheus.CounterValue, float64(stats.Succeeded))
		ch <- prometheus.MustNewConstMetric(c.jobsDeadLettered, prometheus.CounterValue, float64(stats.DeadLettered))
	}

	sum := c.breakers.Summary()
	ch <- prometheus.MustNewConstMetric(c.circuits, prometheus.GaugeValue, float64(sum.Closed), "closed")
	ch <- prometheus.MustNewConstMetric(c.circuits, prometheus.GaugeValue, float64(sum.Open), "open")
	ch <- prometheus.MustNewConstMetric(c.circuits, prometheus.GaugeValue, float64(sum.HalfOpen), "half_open")

	ws := c.worker.Stats()
	ch <- prometheus.MustNewConstMetric(c.workerProcessed, prometheus.CounterValue, float64(ws.Processed))
	ch <- prometheus.MustNewConstMetric(c.workerFailed, prometheus.CounterValue, float64(ws.Failed))
	ch <- prometheus.MustNewConstMetric(c.workerTimedOut, prometheus.CounterValue, float64(ws.TimedOut))
	ch <- prometheus.MustNewConstMetric(c.workerCircuitSkips, prometheus.CounterValue, float64(ws.CircuitRejected))
	ch <- prometheus.MustNewConstMetric(c.workerBusy, prometheus.GaugeValue, boolToFloat(ws.Busy))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Metrics holds the directly instrumented HTTP metrics.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the HTTP metrics and registers them.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "warden",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	reg.MustRegister(m.HTTPRequestsTotal, m.HTTPRequestDuration)
	return m
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// Handler serves a gatherer over HTTP.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
