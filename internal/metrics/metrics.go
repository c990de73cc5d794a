// Package metrics exposes the agent's Prometheus metrics. The teacher's
// own metrics wrapper (a ComponentRegistry abstraction imported by its
// x/publisher and internal/network packages) is not itself present
// anywhere in the retrieval pack, so this package talks to
// prometheus/client_golang directly rather than reconstructing an
// unseen wrapper.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every metric the agent publishes, collected under its own
// prometheus.Registry rather than the global default so a process can run
// more than one agent instance in tests without collector collisions.
type Registry struct {
	reg *prometheus.Registry

	StrategiesMinted    prometheus.Gauge
	RateAdjustments     *prometheus.CounterVec
	ExecutionFailures   *prometheus.CounterVec
	HaltState           prometheus.Gauge
	MintCycles          prometheus.Counter
	SwapVolumeCycles    prometheus.Counter
	ProviderScore       *prometheus.GaugeVec
	StrategyTickSeconds prometheus.Histogram
}

// New builds a Registry and registers every collector on it.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		StrategiesMinted: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ir_manager",
			Name:      "strategies_minted",
			Help:      "Number of strategies currently minted.",
		}),
		RateAdjustments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ir_manager",
			Name:      "rate_adjustments_total",
			Help:      "Committed setNewRate calls, by action (increase/decrease).",
		}, []string{"action"}),
		ExecutionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ir_manager",
			Name:      "execution_failures_total",
			Help:      "Failed strategy executions, by error kind.",
		}, []string{"kind"}),
		HaltState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ir_manager",
			Name:      "halt_state",
			Help:      "Current halt state as an ordinal: 0=functional, 1=halting_in_progress, 2=halted.",
		}),
		MintCycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ir_manager",
			Name:      "mint_cycles_total",
			Help:      "Completed ckETH mint cycles.",
		}),
		SwapVolumeCycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ir_manager",
			Name:      "swap_cycles_total",
			Help:      "Total cycles accepted by the ckETH swap path.",
		}),
		ProviderScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ir_manager",
			Name:      "provider_reputation_score",
			Help:      "Current reputation score per RPC provider endpoint.",
		}, []string{"endpoint"}),
		StrategyTickSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ir_manager",
			Name:      "strategy_tick_seconds",
			Help:      "Wall-clock duration of one hourly strategy evaluation tick.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Gatherer exposes the underlying registry for promhttp.HandlerFor.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// HaltStateOrdinal converts a halt-state string to the ordinal HaltState
// gauge expects.
func HaltStateOrdinal(state string) float64 {
	switch state {
	case "functional":
		return 0
	case "halting_in_progress":
		return 1
	case "halted":
		return 2
	default:
		return -1
	}
}
