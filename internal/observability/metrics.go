// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Order metrics
	OrdersSubmitted  prometheus.Counter
	OrdersRejected   *prometheus.CounterVec
	OrdersFinished   *prometheus.CounterVec
	OrderDuration    *prometheus.HistogramVec
	RoutingWins      *prometheus.CounterVec
	QuoteDifferences prometheus.Histogram

	// Queue metrics
	JobsProcessed    *prometheus.CounterVec
	JobsDeduplicated prometheus.Counter

	// Live update metrics
	LiveUpdates *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	namespace string
	factory   promauto.Factory
}

// NewMetrics creates a new Metrics instance registered with the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith creates a new Metrics instance registered with reg.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "order_router"
	}
	f := promauto.With(reg)

	return &Metrics{
		namespace: namespace,
		factory:   f,

		// Order metrics
		OrdersSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "submitted_total",
			Help:      "Total number of orders accepted and enqueued",
		}),
		OrdersRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "rejected_total",
			Help:      "Total number of submissions rejected before enqueue by reason",
		}, []string{"reason"}),
		OrdersFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "finished_total",
			Help:      "Total number of orders reaching a terminal status",
		}, []string{"status"}),
		OrderDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "execution_duration_seconds",
			Help:      "Time from dispatch to terminal status in seconds",
			Buckets:   []float64{0.5, 1, 2, 3, 4, 5, 6, 8, 10, 15},
		}, []string{"status"}),
		RoutingWins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "wins_total",
			Help:      "Total number of routing decisions won by venue",
		}, []string{"venue"}),
		QuoteDifferences: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "quote_difference_percent",
			Help:      "Output difference between venues as a percentage of the better quote",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5},
		}),

		// Queue metrics
		JobsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "jobs_processed_total",
			Help:      "Total number of job dispatch outcomes",
		}, []string{"outcome"}),
		JobsDeduplicated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "jobs_deduplicated_total",
			Help:      "Total number of enqueues ignored because the job id already existed",
		}),

		// Live update metrics
		LiveUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "updates_total",
			Help:      "Total number of status updates pushed by delivery result",
		}, []string{"result"}),

		// Database metrics
		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// QueueCounts reports the current queue depth by state.
type QueueCounts func() (waiting, active, completed, failed int)

// RegisterQueueGauges exposes the queue counts as gauges read at scrape time.
func (m *Metrics) RegisterQueueGauges(counts QueueCounts) {
	gauge := func(state string, pick func(w, a, c, f int) int) {
		m.factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   m.namespace,
			Subsystem:   "queue",
			Name:        "jobs",
			Help:        "Current number of jobs by state",
			ConstLabels: prometheus.Labels{"state": state},
		}, func() float64 {
			return float64(pick(counts()))
		})
	}
	gauge("waiting", func(w, _, _, _ int) int { return w })
	gauge("active", func(_, a, _, _ int) int { return a })
	gauge("completed", func(_, _, c, _ int) int { return c })
	gauge("failed", func(_, _, _, f int) int { return f })
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordOrderSubmitted increments the submitted orders counter.
func RecordOrderSubmitted() {
	DefaultMetrics.OrdersSubmitted.Inc()
}

// RecordOrderRejected records a submission rejected before enqueue.
func RecordOrderRejected(reason string) {
	DefaultMetrics.OrdersRejected.WithLabelValues(reason).Inc()
}

// RecordOrderFinished records a terminal status and the run duration.
func RecordOrderFinished(status string, seconds float64) {
	DefaultMetrics.OrdersFinished.WithLabelValues(status).Inc()
	DefaultMetrics.OrderDuration.WithLabelValues(status).Observe(seconds)
}

// RecordRoutingDecision records the winning venue and the quote spread.
func RecordRoutingDecision(venue string, differencePct float64) {
	DefaultMetrics.RoutingWins.WithLabelValues(venue).Inc()
	DefaultMetrics.QuoteDifferences.Observe(differencePct)
}

// RecordJobOutcome records a worker dispatch outcome: completed, failed or retry.
func RecordJobOutcome(outcome string) {
	DefaultMetrics.JobsProcessed.WithLabelValues(outcome).Inc()
}

// RecordJobDeduplicated increments the deduplicated enqueue counter.
func RecordJobDeduplicated() {
	DefaultMetrics.JobsDeduplicated.Inc()
}

// RecordLiveUpdate records whether a pushed update reached a subscriber.
func RecordLiveUpdate(delivered bool) {
	result := "dropped"
	if delivered {
		result = "delivered"
	}
	DefaultMetrics.LiveUpdates.WithLabelValues(result).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
