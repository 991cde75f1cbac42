package metrics

import "github.com/prometheus/client_golang/prometheus"

// QueueDepth tracks how many intents are currently buffered per symbol.
var QueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "matchcore_engine_queue_depth",
		Help: "Number of intents currently buffered in a symbol's engine queue",
	},
	[]string{"symbol"},
)

// FillLatency records wall-clock time spent inside a Submit transaction.
var FillLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "matchcore_submit_duration_seconds",
		Help:    "Time spent processing a Submit intent end to end",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"symbol"},
)

// Rejections counts Submit rejections by reason.
var Rejections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "matchcore_rejections_total",
		Help: "Total number of rejected submit intents by reason",
	},
	[]string{"symbol", "reason"},
)

// InvariantViolations counts fatal invariant breaks observed by an engine.
var InvariantViolations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "matchcore_invariant_violations_total",
		Help: "Total number of fatal invariant violations observed by a symbol's engine",
	},
	[]string{"symbol"},
)

// Database connection pool gauges, mirroring sql.DBStats.
var (
	DBOpenConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "matchcore_db_open_connections",
		Help: "Number of open connections in the database pool",
	})
	DBInUseConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "matchcore_db_in_use_connections",
		Help: "Number of in-use connections in the database pool",
	})
	DBIdleConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "matchcore_db_idle_connections",
		Help: "Number of idle connections in the database pool",
	})
)

func init() {
	prometheus.MustRegister(QueueDepth, FillLatency, Rejections, InvariantViolations)
	prometheus.MustRegister(DBOpenConns, DBInUseConns, DBIdleConns)
}
