package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/instqa-go/internal/retrieval"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the route pattern rather than the raw URL path, so chat IDs do not
	// explode cardinality.
	labelHandler = "handler"
)

// Metrics holds all Prometheus collectors owned by the service.
// A single instance is created at startup so that tests can inject a fresh
// prometheus.Registry without polluting the default one.
type Metrics struct {
	// exchangeTotal counts SendMessage and Ask calls by outcome: "ok" or a
	// session error kind.
	exchangeTotal *prometheus.CounterVec

	// exchangeDurationSeconds records the wall-clock duration of each
	// exchange, dominated by the answer service call.
	exchangeDurationSeconds *prometheus.HistogramVec

	// retrievalTotal counts retrievals by status: ok, no_context or error.
	retrievalTotal *prometheus.CounterVec

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, route pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// NewMetrics registers all metrics against reg and returns the populated
// Metrics. promauto.With(reg) is used so that each call registers into the
// provided registry rather than the global default.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		exchangeTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instqa",
			Subsystem: "exchange",
			Name:      "total",
			Help:      "Total number of question/answer exchanges, partitioned by outcome.",
		}, []string{"outcome"}),

		exchangeDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "instqa",
			Subsystem: "exchange",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of exchanges from receipt to persisted answer.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),

		retrievalTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instqa",
			Subsystem: "retrieval",
			Name:      "total",
			Help:      "Total number of retrievals, partitioned by status.",
		}, []string{"status"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instqa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "instqa",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// ObserveExchange records one exchange. It matches session.Config.Observe.
func (m *Metrics) ObserveExchange(outcome string, elapsed time.Duration) {
	m.exchangeTotal.WithLabelValues(outcome).Inc()
	m.exchangeDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveRetrieval records one retrieval. It matches retrieval.Config.Observe.
func (m *Metrics) ObserveRetrieval(status retrieval.Status) {
	m.retrievalTotal.WithLabelValues(string(status)).Inc()
}
