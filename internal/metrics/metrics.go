// Package metrics exposes Prometheus metrics and the health endpoint of the
// signal daemon.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"barsignal/internal/model"
	"barsignal/internal/strategy"
)

// Metrics holds all Prometheus metrics for the signal engine.
type Metrics struct {
	BarsTotal        *prometheus.CounterVec // labels: instrument
	RejectedBars     *prometheus.CounterVec // labels: instrument
	WarmupHolds      *prometheus.CounterVec // labels: instrument
	SignalsTotal     *prometheus.CounterVec // labels: instrument, signal
	TransitionsTotal *prometheus.CounterVec // labels: instrument, transition, reason

	// Per-instrument position state
	PositionSide  *prometheus.GaugeVec // -1 short, 0 flat, 1 long
	TrailingStop  *prometheus.GaugeVec
	AdverseCloses *prometheus.GaugeVec

	ProcessDur prometheus.Histogram
	BarLag     prometheus.Gauge

	// Journal
	JournalCommitDur prometheus.Histogram
	JournalRows      prometheus.Counter

	// Redis
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
	PendingReclaimed         prometheus.Counter

	FanoutDropsTotal *prometheus.CounterVec // labels: subscriber
	WSClients        prometheus.Gauge

	CheckpointsTotal *prometheus.CounterVec // labels: store
	CheckpointErrors *prometheus.CounterVec // labels: store
	NotifyErrors     prometheus.Counter
}

// NewMetrics creates every metric and registers it with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	inst := []string{"instrument"}
	m := &Metrics{
		BarsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "barsignal_bars_total",
			Help: "Bars processed by the engine",
		}, inst),
		RejectedBars: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "barsignal_rejected_bars_total",
			Help: "Bars rejected as malformed or out of order",
		}, inst),
		WarmupHolds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "barsignal_warmup_holds_total",
			Help: "Bars held because indicator history was insufficient",
		}, inst),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "barsignal_signals_total",
			Help: "Signals emitted by value",
		}, []string{"instrument", "signal"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "barsignal_transitions_total",
			Help: "Position transitions by kind and exit reason",
		}, []string{"instrument", "transition", "reason"}),

		PositionSide: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "barsignal_position_side",
			Help: "Current position side (-1 short, 0 flat, 1 long)",
		}, inst),
		TrailingStop: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "barsignal_trailing_stop",
			Help: "Current trailing stop level, 0 when flat",
		}, inst),
		AdverseCloses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "barsignal_adverse_closes",
			Help: "Consecutive adverse closes of the open position",
		}, inst),

		ProcessDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "barsignal_process_duration_seconds",
			Help:    "Engine latency per bar",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),
		BarLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "barsignal_bar_lag_seconds",
			Help: "Wall clock minus the timestamp of the last processed bar",
		}),

		JournalCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "barsignal_journal_commit_duration_seconds",
			Help:    "SQLite journal batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		JournalRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "barsignal_journal_rows_total",
			Help: "Events written to the SQLite journal",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "barsignal_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "barsignal_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "barsignal_redis_buffered_writes_total",
			Help: "Signal writes buffered locally while Redis was unavailable",
		}),
		PendingReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "barsignal_pending_bars_reclaimed_total",
			Help: "Unacknowledged bars re-delivered at startup",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "barsignal_fanout_drops_total",
			Help: "Events dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "barsignal_ws_clients",
			Help: "Connected WebSocket clients",
		}),

		CheckpointsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "barsignal_checkpoints_total",
			Help: "Engine checkpoints saved per store",
		}, []string{"store"}),
		CheckpointErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "barsignal_checkpoint_errors_total",
			Help: "Failed checkpoint saves per store",
		}, []string{"store"}),
		NotifyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "barsignal_notify_errors_total",
			Help: "Failed notification deliveries",
		}),
	}

	reg.MustRegister(
		m.BarsTotal,
		m.RejectedBars,
		m.WarmupHolds,
		m.SignalsTotal,
		m.TransitionsTotal,
		m.PositionSide,
		m.TrailingStop,
		m.AdverseCloses,
		m.ProcessDur,
		m.BarLag,
		m.JournalCommitDur,
		m.JournalRows,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.PendingReclaimed,
		m.FanoutDropsTotal,
		m.WSClients,
		m.CheckpointsTotal,
		m.CheckpointErrors,
		m.NotifyErrors,
	)

	return m
}

// Observe records one engine event and how long the engine took on it.
func (m *Metrics) Observe(ev strategy.Event, dur time.Duration) {
	inst := ev.Instrument
	m.BarsTotal.WithLabelValues(inst).Inc()
	m.ProcessDur.Observe(dur.Seconds())

	if ev.Rejected != "" {
		m.RejectedBars.WithLabelValues(inst).Inc()
		return
	}
	if ev.Warmup() {
		m.WarmupHolds.WithLabelValues(inst).Inc()
	}
	if ev.Signal != model.SignalHold {
		m.SignalsTotal.WithLabelValues(inst, ev.Signal.String()).Inc()
	}
	if ev.Transition != model.TransitionNone {
		m.TransitionsTotal.WithLabelValues(inst, string(ev.Transition), string(ev.Reason)).Inc()
	}

	m.PositionSide.WithLabelValues(inst).Set(float64(ev.State.Side))
	m.TrailingStop.WithLabelValues(inst).Set(ev.State.TrailingStop)
	m.AdverseCloses.WithLabelValues(inst).Set(float64(ev.State.AdverseCloses))
	m.BarLag.Set(time.Since(ev.Bar.TS).Seconds())
}
