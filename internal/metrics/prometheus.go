package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "lp_hedge_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics  *Metrics
	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
	}
	ordersPlaced := counter("orders_placed_total", "Total number of hedge orders placed.")
	ordersFailed := counter("orders_failed_total", "Total number of hedge order failures.")
	cyclesSkipped := counter("cycles_skipped_total", "Adjustment cycles skipped because a cycle was already running.")
	snapshotsPushed := counter("snapshots_pushed_total", "Hedge snapshots pushed to the position store.")
	snapshotsFailed := counter("snapshots_failed_total", "Hedge snapshot pushes that failed.")
	rebalancesDone := counter("rebalances_done_total", "Rebalance cycles completed.")
	rebalancesFailed := counter("rebalances_failed_total", "Rebalance state handlers that returned an error.")
	remapsFailed := counter("remaps_failed_total", "Hedge remap calls that failed after a rebalance.")

	registry.MustRegister(ordersPlaced, ordersFailed, cyclesSkipped, snapshotsPushed,
		snapshotsFailed, rebalancesDone, rebalancesFailed, remapsFailed)

	return &Prometheus{
		Metrics: &Metrics{
			OrdersPlaced:     promCounter{ordersPlaced},
			OrdersFailed:     promCounter{ordersFailed},
			CyclesSkipped:    promCounter{cyclesSkipped},
			SnapshotsPushed:  promCounter{snapshotsPushed},
			SnapshotsFailed:  promCounter{snapshotsFailed},
			RebalancesDone:   promCounter{rebalancesDone},
			RebalancesFailed: promCounter{rebalancesFailed},
			RemapsFailed:     promCounter{remapsFailed},
		},
		registry: registry,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
