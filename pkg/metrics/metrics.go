package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PricesComputed counts snapshot price computations by side (buy/sell)
var PricesComputed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ecobridge_prices_computed_total",
		Help: "Total number of dynamic prices computed by the snapshot engine",
	},
	[]string{"side"},
)

// SnapshotLatency records latency distribution for full market snapshot cycles
var SnapshotLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "ecobridge_snapshot_cycle_latency_seconds",
		Help:    "Latency in seconds to recompute the full market price snapshot",
		Buckets: prometheus.DefBuckets,
	},
)

// Price adjustment event metrics
var (
	EventsDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ecobridge_price_events_dispatched_total",
			Help: "Number of price adjustment events dispatched to listeners",
		},
	)

	ListenerInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecobridge_listener_invocations_total",
			Help: "Listener invocations by listener name and result",
		},
		[]string{"listener", "result"},
	)

	EventMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecobridge_price_event_mutations_total",
			Help: "Audited price mutations by kind (transform/overwrite)",
		},
		[]string{"kind"},
	)
)

// Macro economy gauges
var (
	InflationRate = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ecobridge_inflation_rate",
			Help: "Current smoothed inflation rate",
		},
	)

	StabilityFactor = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ecobridge_stability_factor",
			Help: "Current market stability factor (0.0-1.0)",
		},
	)

	MarketHeat = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ecobridge_market_heat",
			Help: "Accumulated circulation heat used for inflation derivation",
		},
	)

	PhaseTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecobridge_market_phase_transitions_total",
			Help: "Market phase transitions by target phase",
		},
		[]string{"phase"},
	)
)

// Persistence pipeline metrics
var (
	AuditQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ecobridge_audit_queue_depth",
			Help: "Entries currently buffered in the async audit logger",
		},
	)

	AuditRowsWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ecobridge_audit_rows_written_total",
			Help: "Audit rows flushed to the economy log table",
		},
	)

	AuditRowsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ecobridge_audit_rows_dropped_total",
			Help: "Audit rows dropped due to backpressure",
		},
	)
)

// Cross-server sync metrics
var (
	SyncPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecobridge_sync_messages_published_total",
			Help: "Trade sync messages published by backend (redis/kafka)",
		},
		[]string{"backend"},
	)

	SyncQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ecobridge_sync_offline_queue_depth",
			Help: "Messages parked in the offline queue awaiting reconnection",
		},
	)

	SyncReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ecobridge_sync_reconnects_total",
			Help: "Reconnection attempts against the sync backend",
		},
	)
)

// Transfer audit metrics
var TransfersAudited = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ecobridge_transfers_audited_total",
		Help: "Transfer audits by regulator ruling code",
	},
	[]string{"code"},
)

// Hot cache metrics
var (
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecobridge_cache_hits_total",
			Help: "Cache hits by cache name",
		},
		[]string{"cache"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecobridge_cache_misses_total",
			Help: "Cache misses by cache name",
		},
		[]string{"cache"},
	)
)

// Database connection pool metrics
var (
	DBOpenConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ecobridge_db_open_connections",
			Help: "Number of open connections in the DB pool",
		},
		[]string{"db"},
	)

	DBIdleConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ecobridge_db_idle_connections",
			Help: "Number of idle connections in the DB pool",
		},
		[]string{"db"},
	)

	DBInUseConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ecobridge_db_in_use_connections",
			Help: "Number of in-use connections in the DB pool",
		},
		[]string{"db"},
	)
)

func init() {
	prometheus.MustRegister(PricesComputed, SnapshotLatency)
	prometheus.MustRegister(EventsDispatched, ListenerInvocations, EventMutations)
	prometheus.MustRegister(InflationRate, StabilityFactor, MarketHeat, PhaseTransitions)
	prometheus.MustRegister(AuditQueueDepth, AuditRowsWritten, AuditRowsDropped)
	prometheus.MustRegister(SyncPublished, SyncQueued, SyncReconnects)
	prometheus.MustRegister(TransfersAudited)
	prometheus.MustRegister(CacheHits, CacheMisses)
	prometheus.MustRegister(DBOpenConns, DBIdleConns, DBInUseConns)
}
