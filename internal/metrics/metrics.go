package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TicksTotal counts reconcile ticks, converged or not.
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orbitd_reconcile_ticks_total",
		Help: "Number of reconcile ticks run.",
	})

	// ActionsTotal counts emitted actions by type.
	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orbitd_reconcile_actions_total",
		Help: "Reconcile actions emitted, by action type.",
	}, []string{"type"})

	// TrackedInstances gauges the current instance set by phase.
	TrackedInstances = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "orbitd_tracked_instances",
		Help: "Instances currently tracked by the reconciler, by phase.",
	}, []string{"phase"})
)

// RegisterMetrics registers the Prometheus handler in the provided mux.
func RegisterMetrics(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}
