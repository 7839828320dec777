// ============================================================================
// Scheduler Metrics - Prometheus Monitoring
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Collect and expose Prometheus metrics for the cooperative request
// scheduler (internal/scheduler).
//
// Monitoring Philosophy:
//   Based on RED (Rate, Errors, Duration) and USE (Utilization, Saturation,
//   Errors), adapted from the original job-queue collector to request
//   lifecycle events instead of job lifecycle events.
//
// Metric Categories:
//
//   1. Request Counters - Cumulative, monotonically increasing:
//      - scheduler_requests_submitted_total
//      - scheduler_requests_started_total
//      - scheduler_requests_finished_total
//      - scheduler_requests_cancelled_total
//      - scheduler_requests_failed_total
//
//   2. Performance Metrics (Histogram):
//      - scheduler_request_run_seconds: wall time from a worker's first
//        dispatch of a request to its execution-complete signal
//
//   3. Status Metrics (Gauge):
//      - scheduler_worker_queue_depth: runnable requests waiting per worker
//      - scheduler_active_workers: worker goroutines currently alive
//
// Prometheus Query Examples:
//
//   # Requests finished per minute
//   rate(scheduler_requests_finished_total[1m])
//
//   # 95th percentile run latency
//   histogram_quantile(0.95, scheduler_request_run_seconds_bucket)
//
//   # Cancellation rate
//   rate(scheduler_requests_cancelled_total[5m]) / rate(scheduler_requests_submitted_total[5m])
//
// HTTP Endpoint:
//   Exposed via /metrics, scraped by Prometheus, same as the teacher's
//   queue collector (see cmd/scheduler-demo).
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects Prometheus metrics for the scheduler and satisfies
// internal/scheduler.Collector, so the scheduler package can report into it
// without importing prometheus itself.
type Collector struct {
	requestsSubmitted prometheus.Counter
	requestsStarted   prometheus.Counter
	requestsFinished  prometheus.Counter
	requestsCancelled prometheus.Counter
	requestsFailed    prometheus.Counter

	runLatency prometheus.Histogram

	queueDepth    *prometheus.GaugeVec
	activeWorkers prometheus.Gauge
}

// NewCollector creates and registers a new metrics collector.
func NewCollector() *Collector {
	c := &Collector{
		requestsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_requests_submitted_total",
			Help: "Total number of requests submitted to the scheduler",
		}),
		requestsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_requests_started_total",
			Help: "Total number of requests handed a goroutine by a worker",
		}),
		requestsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_requests_finished_total",
			Help: "Total number of requests that completed successfully",
		}),
		requestsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_requests_cancelled_total",
			Help: "Total number of requests that completed cancelled",
		}),
		requestsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_requests_failed_total",
			Help: "Total number of requests that completed with a workload failure",
		}),
		runLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scheduler_request_run_seconds",
			Help:    "Wall time a request spent between first dispatch and execution-complete",
			Buckets: prometheus.DefBuckets,
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scheduler_worker_queue_depth",
			Help: "Current number of runnable requests queued on a worker",
		}, []string{"worker"}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_active_workers",
			Help: "Number of worker goroutines currently alive",
		}),
	}

	prometheus.MustRegister(c.requestsSubmitted)
	prometheus.MustRegister(c.requestsStarted)
	prometheus.MustRegister(c.requestsFinished)
	prometheus.MustRegister(c.requestsCancelled)
	prometheus.MustRegister(c.requestsFailed)
	prometheus.MustRegister(c.runLatency)
	prometheus.MustRegister(c.queueDepth)
	prometheus.MustRegister(c.activeWorkers)

	return c
}

// RequestSubmitted records a request being submitted.
func (c *Collector) RequestSubmitted() { c.requestsSubmitted.Inc() }

// RequestStarted records a request being handed a goroutine for the first
// time.
func (c *Collector) RequestStarted() { c.requestsStarted.Inc() }

// RequestFinished records a request completing successfully.
func (c *Collector) RequestFinished() { c.requestsFinished.Inc() }

// RequestCancelled records a request completing cancelled.
func (c *Collector) RequestCancelled() { c.requestsCancelled.Inc() }

// RequestFailed records a request completing with a workload failure.
func (c *Collector) RequestFailed() { c.requestsFailed.Inc() }

// ObserveRunLatency records the wall time a request spent running.
func (c *Collector) ObserveRunLatency(seconds float64) { c.runLatency.Observe(seconds) }

// QueueDepth records the current runqueue length of one worker.
func (c *Collector) QueueDepth(workerID int, depth int) {
	c.queueDepth.WithLabelValues(fmt.Sprintf("%d", workerID)).Set(float64(depth))
}

// SetActiveWorkers records how many worker goroutines are alive.
func (c *Collector) SetActiveWorkers(n int) { c.activeWorkers.Set(float64(n)) }

// StartServer starts a Prometheus metrics HTTP server on port.
func StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, mux)
}
