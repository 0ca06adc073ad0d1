// Package metrics exposes the engine's Prometheus instrumentation:
// adapter reconnects, synchronizer lag, signals emitted per tier, and
// open/closed position counts. Grounded on chidi150c-coinbase's
// metrics.go — CounterVec/GaugeVec with label dimensions, a package-level
// registration point, and thin setter/incrementer helpers — adapted from
// a package-global registry to one owned by a constructed Registry value
// so multiple engine instances in the same test binary don't collide on
// prometheus' default global registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every metric the engine updates during operation.
type Registry struct {
	reg *prometheus.Registry

	AdapterReconnects *prometheus.CounterVec // labels: adapter
	AdapterUpdates    *prometheus.CounterVec // labels: adapter
	SynchronizerLagMs prometheus.Gauge
	SignalsEmitted    *prometheus.CounterVec // labels: tier
	PositionsOpen     prometheus.Gauge
	PositionsClosed   *prometheus.CounterVec // labels: result (win|loss)
	RealizedPnL       prometheus.Gauge
	RiskPaused        prometheus.Gauge // 1 when the risk manager is paused, else 0
}

// New constructs a Registry with every metric registered against its own
// prometheus.Registry (not prometheus's global DefaultRegisterer).
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		AdapterReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_adapter_reconnects_total",
			Help: "Reconnect attempts per stream adapter.",
		}, []string{"adapter"}),
		AdapterUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_adapter_updates_total",
			Help: "Updates received per stream adapter.",
		}, []string{"adapter"}),
		SynchronizerLagMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_synchronizer_lag_ms",
			Help: "Most recent spot-to-oracle lag in milliseconds.",
		}),
		SignalsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_signals_emitted_total",
			Help: "Signals emitted by the evaluator, split by tier.",
		}, []string{"tier"}),
		PositionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_positions_open",
			Help: "Number of currently open positions.",
		}),
		PositionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_positions_closed_total",
			Help: "Closed positions, split by result.",
		}, []string{"result"}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_realized_pnl",
			Help: "Cumulative realized P&L across closed positions.",
		}),
		RiskPaused: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_risk_paused",
			Help: "1 when the risk manager is currently pausing new entries, else 0.",
		}),
	}

	reg.MustRegister(
		m.AdapterReconnects,
		m.AdapterUpdates,
		m.SynchronizerLagMs,
		m.SignalsEmitted,
		m.PositionsOpen,
		m.PositionsClosed,
		m.RealizedPnL,
		m.RiskPaused,
	)
	return m
}

// Registry exposes the underlying prometheus.Registry for wiring into an
// HTTP /metrics handler (out of spec.md's scope — "any HTTP control API"
// is an explicit Non-goal — so this module stops at the registry and
// leaves serving it to the embedding application).
func (m *Registry) Gatherer() prometheus.Gatherer { return m.reg }

// RecordTradeResult updates the position/PnL gauges after a position
// closes.
func (m *Registry) RecordTradeResult(pnl float64, cumulativeRealized float64) {
	result := "win"
	if pnl < 0 {
		result = "loss"
	}
	m.PositionsClosed.WithLabelValues(result).Inc()
	m.RealizedPnL.Set(cumulativeRealized)
}

// SetRiskPaused mirrors a boolean onto the 0/1 gauge, matching
// chidi150c-coinbase's SetModelModeMetric pattern of flipping a gauge
// between 0 and 1 to represent a boolean state for dashboards.
func (m *Registry) SetRiskPaused(paused bool) {
	if paused {
		m.RiskPaused.Set(1)
	} else {
		m.RiskPaused.Set(0)
	}
}
