package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the market service.
type Metrics struct {
	// Trading
	PositionsOpened   prometheus.Counter
	PositionsClosed   *prometheus.CounterVec // outcome: closed|liquidated|emergency
	OpsRejected       *prometheus.CounterVec // op, reason
	TradingVolume     prometheus.Counter     // whole quote units
	SocializedLoss    prometheus.Gauge       // whole quote units

	// Market
	MarkPrice     prometheus.Gauge
	OraclePrice   prometheus.Gauge
	OpenInterest  *prometheus.GaugeVec // side: long|short
	FundingRate   prometheus.Gauge
	FundingEpochs prometheus.Counter

	// Treasury
	FeesCollected prometheus.Counter // whole quote units

	// Persistence
	EventsPersisted  prometheus.Counter
	PersistBatchDur  prometheus.Histogram
	PersistErrors    *prometheus.CounterVec // error_type
	PersistRetries   prometheus.Counter
	SnapshotsTaken   prometheus.Counter
	SnapshotDuration prometheus.Histogram

	// Feed
	OracleUpdates prometheus.Counter
	PublishDrops  prometheus.Counter

	// API
	HTTPRequests *prometheus.CounterVec // route, status
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics registers on the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics on the given registerer. Tests
// pass a fresh registry to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		PositionsOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_positions_opened_total",
			Help: "Positions opened",
		}),
		PositionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_positions_closed_total",
			Help: "Positions removed from the book",
		}, []string{"outcome"}),
		OpsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_operations_rejected_total",
			Help: "Operations rejected with a named error",
		}, []string{"op", "reason"}),
		TradingVolume: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_trading_volume_quote_total",
			Help: "Cumulative notional traded, whole quote units",
		}),
		SocializedLoss: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_socialized_loss_quote",
			Help: "Cumulative losses clipped beyond margin, whole quote units",
		}),

		MarkPrice: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_mark_price",
			Help: "Current vAMM mark price, whole quote units",
		}),
		OraclePrice: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_oracle_price",
			Help: "Latest oracle price, whole quote units",
		}),
		OpenInterest: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_open_interest_base",
			Help: "Outstanding position size per side, whole base units",
		}, []string{"side"}),
		FundingRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_funding_rate",
			Help: "Last applied per-period funding rate",
		}),
		FundingEpochs: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_funding_epochs_total",
			Help: "Funding index advances",
		}),

		FeesCollected: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_fees_collected_quote_total",
			Help: "Trading fees forwarded to the treasury, whole quote units",
		}),

		EventsPersisted: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_persist_events_written_total",
			Help: "Audit events written to Postgres",
		}),
		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),
		PersistRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_persist_retry_total",
			Help: "Persistence retries",
		}),
		SnapshotsTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_snapshot_taken_total",
			Help: "State snapshots written",
		}),
		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_snapshot_duration_seconds",
			Help:    "Snapshot write time",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),

		OracleUpdates: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_oracle_updates_total",
			Help: "Oracle prices accepted from the feed",
		}),
		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_http_requests_total",
			Help: "API requests",
		}, []string{"route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_http_request_duration_seconds",
			Help:    "API request latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"route"}),
	}
}
