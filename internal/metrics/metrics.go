// Package metrics exposes the fixed Prometheus catalogue (C8) via a
// private registry, mirroring the teacher's Collector shape (custom
// *prometheus.Registry + MustRegister + typed wrapper methods) re-labeled
// for the queue-to-HTTP-bridge domain instead of connection-pool proxying.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// defaultBuckets matches the fixed-boundaries-plus-+Inf histogram
// invariant from §8 (P5), satisfied by the library rather than hand-rolled
// exposition text.
var defaultBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Collector holds all Prometheus metrics for the service.
type Collector struct {
	Registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestsSuccess *prometheus.CounterVec
	requestsError   *prometheus.CounterVec

	queueEventsReceived  *prometheus.CounterVec
	queueEventsProcessed *prometheus.CounterVec
	queueEventsFailed    *prometheus.CounterVec

	dbQueriesTotal   *prometheus.CounterVec
	workerTasksTotal *prometheus.CounterVec

	poolOpenConnections   prometheus.Gauge
	poolBusyConnections   prometheus.Gauge
	queueDepth            prometheus.Gauge
	workerTasksInProgress prometheus.Gauge
	httpRequestsInFlight  prometheus.Gauge

	httpRequestDuration *prometheus.HistogramVec
	dbQueryDuration     *prometheus.HistogramVec
	workerTaskDuration  *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics on an independent
// registry, safe to call multiple times (tests, config reload) without
// cross-instance collisions.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sentinel_requests_total", Help: "Total HTTP requests received"},
			[]string{"route", "method"},
		),
		requestsSuccess: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sentinel_requests_success_total", Help: "HTTP requests completed with 2xx/3xx"},
			[]string{"route", "method"},
		),
		requestsError: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sentinel_requests_error_total", Help: "HTTP requests completed with 4xx/5xx"},
			[]string{"route", "method", "status"},
		),

		queueEventsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sentinel_queue_events_received_total", Help: "Events dequeued from the AQ queue"},
			[]string{"event_type"},
		),
		queueEventsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sentinel_queue_events_processed_total", Help: "Events successfully handled and committed"},
			[]string{"event_type"},
		),
		queueEventsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sentinel_queue_events_failed_total", Help: "Events whose handler or commit failed"},
			[]string{"event_type"},
		),

		dbQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sentinel_db_queries_total", Help: "Database statements executed"},
			[]string{"operation"},
		),
		workerTasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sentinel_worker_tasks_total", Help: "Tasks dispatched to a worker"},
			[]string{"kind", "outcome"},
		),

		poolOpenConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "sentinel_pool_open_connections", Help: "Sessions currently open in the database pool"},
		),
		poolBusyConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "sentinel_pool_busy_connections", Help: "Sessions currently checked out of the database pool"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "sentinel_queue_depth", Help: "Tasks currently buffered in the internal task queue"},
		),
		workerTasksInProgress: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "sentinel_worker_tasks_in_progress", Help: "Tasks currently being executed by a worker"},
		),
		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "sentinel_http_requests_in_flight", Help: "HTTP requests currently being handled"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "sentinel_http_request_duration_seconds", Help: "HTTP request handling duration", Buckets: defaultBuckets},
			[]string{"route", "method"},
		),
		dbQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "sentinel_db_query_duration_seconds", Help: "Database statement duration", Buckets: defaultBuckets},
			[]string{"operation"},
		),
		workerTaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "sentinel_worker_task_duration_seconds", Help: "Worker task handling duration", Buckets: defaultBuckets},
			[]string{"kind"},
		),
	}

	reg.MustRegister(
		c.requestsTotal, c.requestsSuccess, c.requestsError,
		c.queueEventsReceived, c.queueEventsProcessed, c.queueEventsFailed,
		c.dbQueriesTotal, c.workerTasksTotal,
		c.poolOpenConnections, c.poolBusyConnections, c.queueDepth,
		c.workerTasksInProgress, c.httpRequestsInFlight,
		c.httpRequestDuration, c.dbQueryDuration, c.workerTaskDuration,
	)

	return c
}

// RequestStarted records one received HTTP request.
func (c *Collector) RequestStarted(route, method string) {
	c.requestsTotal.WithLabelValues(route, method).Inc()
	c.httpRequestsInFlight.Inc()
}

// RequestCompleted records completion outcome, status, and duration.
func (c *Collector) RequestCompleted(route, method string, status int, d time.Duration) {
	c.httpRequestsInFlight.Dec()
	c.httpRequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
	if status >= 200 && status < 400 {
		c.requestsSuccess.WithLabelValues(route, method).Inc()
	} else {
		c.requestsError.WithLabelValues(route, method, statusBucket(status)).Inc()
	}
}

func statusBucket(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "other"
	}
}

// QueueEventReceived records one dequeued event by type.
func (c *Collector) QueueEventReceived(eventType string) {
	c.queueEventsReceived.WithLabelValues(eventType).Inc()
}

// QueueEventProcessed records one successfully committed event.
func (c *Collector) QueueEventProcessed(eventType string) {
	c.queueEventsProcessed.WithLabelValues(eventType).Inc()
}

// QueueEventFailed records one event whose handler or commit failed.
func (c *Collector) QueueEventFailed(eventType string) {
	c.queueEventsFailed.WithLabelValues(eventType).Inc()
}

// DBQuery records one executed statement's operation label and duration.
func (c *Collector) DBQuery(operation string, d time.Duration) {
	c.dbQueriesTotal.WithLabelValues(operation).Inc()
	c.dbQueryDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// WorkerTaskCompleted records one task's kind, outcome, and duration.
func (c *Collector) WorkerTaskCompleted(kind string, err error, d time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.workerTasksTotal.WithLabelValues(kind, outcome).Inc()
	c.workerTaskDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// SetPoolStats updates the pool occupancy gauges from a dbpool.Stats snapshot.
func (c *Collector) SetPoolStats(open, busy int) {
	c.poolOpenConnections.Set(float64(open))
	c.poolBusyConnections.Set(float64(busy))
}

// SetQueueDepth updates the task queue depth gauge.
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// SetWorkerTasksInProgress updates the in-progress worker task gauge.
func (c *Collector) SetWorkerTasksInProgress(n int) {
	c.workerTasksInProgress.Set(float64(n))
}
