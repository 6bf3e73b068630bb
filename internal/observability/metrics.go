package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the margin ledger.
type Metrics struct {
	// --- Price feed ---
	TicksProcessed *prometheus.CounterVec
	TicksMalformed prometheus.Counter
	TickLag        *prometheus.HistogramVec
	SweepDuration  *prometheus.HistogramVec

	// --- Ledger ---
	PositionsOpened   *prometheus.CounterVec
	PositionsClosed   *prometheus.CounterVec
	LiquidationsTotal *prometheus.CounterVec
	OpenPositions     prometheus.Gauge
	CashBalance       prometheus.Gauge

	// --- Outbound ---
	UpdatesPublished prometheus.Counter
	PublishDrops     prometheus.Counter

	// --- API ---
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	sweepBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005,
	}

	return &Metrics{
		TicksProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_ticks_processed_total",
			Help: "Price ticks processed by the feed adapter",
		}, []string{"asset"}),

		TicksMalformed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "margin_ticks_malformed_total",
			Help: "Price ticks skipped as unparsable",
		}),

		TickLag: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "margin_tick_lag_seconds",
			Help:    "Tick receive to sweep complete",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"asset"}),

		SweepDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "margin_sweep_duration_seconds",
			Help:    "Time for one liquidation sweep of an asset",
			Buckets: sweepBuckets,
		}, []string{"asset"}),

		PositionsOpened: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_positions_opened_total",
			Help: "Positions opened",
		}, []string{"asset", "side"}),

		PositionsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_positions_closed_total",
			Help: "Positions closed, by reason (user or liquidation)",
		}, []string{"reason"}),

		LiquidationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_liquidations_total",
			Help: "Forced closures by the sweeper",
		}, []string{"asset"}),

		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "margin_open_positions",
			Help: "Currently open positions",
		}),

		CashBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "margin_cash_balance",
			Help: "Current cash balance",
		}),

		UpdatesPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "margin_updates_published_total",
			Help: "Outbound market updates published",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "margin_publish_drops_total",
			Help: "Outbound updates dropped (publish failed)",
		}),

		APIRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_api_requests_total",
			Help: "API requests",
		}, []string{"endpoint", "status"}),

		APIDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "margin_api_duration_seconds",
			Help:    "API request latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}
