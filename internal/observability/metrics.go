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
	// Queue metrics
	OrdersEnqueued *prometheus.CounterVec
	OrdersPending  prometheus.Gauge

	// Strike metrics
	StrikesTotal     *prometheus.CounterVec
	StrikeDuration   prometheus.Histogram
	OrdersSettled    *prometheus.CounterVec
	OrdersRequeued   prometheus.Counter
	AUMClamps        prometheus.Counter
	MetadataFailures *prometheus.CounterVec

	// Settlement metrics
	SettlementLatency *prometheus.HistogramVec
	UnresolvedOpen    prometheus.Gauge
	LateSettlements   prometheus.Counter
	RPCCallLatency    *prometheus.HistogramVec

	// Fund metrics
	FundNAV    prometheus.Gauge
	FundAUM    prometheus.Gauge
	FundShares prometheus.Gauge

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulStrike prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "nav_strike"
	}

	return &Metrics{
		// Queue metrics
		OrdersEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "orders_enqueued_total",
			Help:      "Total number of orders accepted by kind",
		}, []string{"kind"}),
		OrdersPending: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "orders_pending",
			Help:      "Orders waiting for the next strike",
		}),

		// Strike metrics
		StrikesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strike",
			Name:      "runs_total",
			Help:      "Total number of strike executions by status",
		}, []string{"status"}),
		StrikeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "strike",
			Name:      "duration_seconds",
			Help:      "Strike execution duration in seconds",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		}),
		OrdersSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strike",
			Name:      "orders_settled_total",
			Help:      "Orders processed by strikes, by kind and outcome",
		}, []string{"kind", "outcome"}),
		OrdersRequeued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strike",
			Name:      "orders_requeued_total",
			Help:      "Failed orders re-enqueued by the retry policy",
		}),
		AUMClamps: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strike",
			Name:      "aum_clamps_total",
			Help:      "Strikes that ended with AUM clamped at zero",
		}),
		MetadataFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strike",
			Name:      "metadata_publish_failures_total",
			Help:      "Failed fund metadata writes by key",
		}, []string{"key"}),

		// Settlement metrics
		SettlementLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "latency_seconds",
			Help:      "Submit to final confirmation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		UnresolvedOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "unresolved_open",
			Help:      "Timed-out settlements awaiting reconciliation",
		}),
		LateSettlements: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "late_confirmations_total",
			Help:      "Settlements confirmed by reconciliation after timing out",
		}),
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "rpc_call_latency_seconds",
			Help:      "Ledger RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		// Fund metrics
		FundNAV: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fund",
			Name:      "nav",
			Help:      "NAV fixed at the latest strike",
		}),
		FundAUM: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fund",
			Name:      "total_aum",
			Help:      "Total assets under management",
		}),
		FundShares: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fund",
			Name:      "shares_outstanding",
			Help:      "Total fund shares outstanding",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulStrike: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_strike_timestamp",
			Help:      "Unix timestamp of last completed strike",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordEnqueue counts an accepted order.
func RecordEnqueue(kind string) {
	DefaultMetrics.OrdersEnqueued.WithLabelValues(kind).Inc()
}

// SetPending sets the pending orders gauge.
func SetPending(n int) {
	DefaultMetrics.OrdersPending.Set(float64(n))
}

// RecordStrike records a strike run.
func RecordStrike(status string, durationSeconds float64) {
	DefaultMetrics.StrikesTotal.WithLabelValues(status).Inc()
	DefaultMetrics.StrikeDuration.Observe(durationSeconds)
}

// RecordOrderOutcome counts one settled or failed order.
func RecordOrderOutcome(kind, outcome string) {
	DefaultMetrics.OrdersSettled.WithLabelValues(kind, outcome).Inc()
}

// RecordRequeued counts orders re-enqueued by the retry policy.
func RecordRequeued(n int) {
	DefaultMetrics.OrdersRequeued.Add(float64(n))
}

// RecordAUMClamp counts a clamped strike.
func RecordAUMClamp() {
	DefaultMetrics.AUMClamps.Inc()
}

// RecordMetadataFailure counts a failed metadata write.
func RecordMetadataFailure(key string) {
	DefaultMetrics.MetadataFailures.WithLabelValues(key).Inc()
}

// RecordSettlementLatency records submit to confirmation latency.
func RecordSettlementLatency(kind string, seconds float64) {
	DefaultMetrics.SettlementLatency.WithLabelValues(kind).Observe(seconds)
}

// SetUnresolved sets the open unresolved settlements gauge.
func SetUnresolved(n int) {
	DefaultMetrics.UnresolvedOpen.Set(float64(n))
}

// RecordLateSettlement counts a late confirmation applied by reconciliation.
func RecordLateSettlement() {
	DefaultMetrics.LateSettlements.Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// UpdateFund mirrors fund state into gauges.
func UpdateFund(nav, aum, shares float64) {
	DefaultMetrics.FundNAV.Set(nav)
	DefaultMetrics.FundAUM.Set(aum)
	DefaultMetrics.FundShares.Set(shares)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// MarkStrikeSuccess stamps the last successful strike time.
func MarkStrikeSuccess(unixSeconds int64) {
	DefaultMetrics.LastSuccessfulStrike.Set(float64(unixSeconds))
}
