package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ReconcileRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleet",
		Subsystem: "kpi",
		Name:      "reconcile_runs_total",
		Help:      "KPI reconcile runs by result",
	}, []string{"result"})

	ReconcileTargets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleet",
		Subsystem: "kpi",
		Name:      "reconcile_targets_total",
		Help:      "Display targets visited by reconcile runs, by status",
	}, []string{"status"})

	ActiveSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleet",
		Subsystem: "kpi",
		Name:      "active_subscriptions",
		Help:      "Dashboard views currently subscribed to KPI reconciliation",
	})

	CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleet",
		Subsystem: "asset_cache",
		Name:      "lookups_total",
		Help:      "Asset cache lookups by strategy and outcome",
	}, []string{"strategy", "outcome"})

	EmailsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleet",
		Subsystem: "email",
		Name:      "sent_total",
		Help:      "Relayed emails by transport and status",
	}, []string{"transport", "status"})

	ProcessRestarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleet",
		Subsystem: "supervisor",
		Name:      "restarts_total",
		Help:      "Supervised process restarts by reason",
	}, []string{"app", "reason"})
)

func init() {
	prometheus.MustRegister(
		ReconcileRuns, ReconcileTargets, ActiveSubscriptions,
		CacheLookups, EmailsSent, ProcessRestarts,
	)
}
