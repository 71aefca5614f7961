package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		upgradeTransitionsTotal,
		upgradeRevenueTotal,
		upgradeNoopTotal,
		reconcilerRunsTotal,
	)
}

var (
	upgradeTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upgrade_transitions_total",
			Help: "User upgrade status transitions, labeled by upgrade type and new status.",
		},
		[]string{"upgrade_type", "status"},
	)

	upgradeRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upgrade_revenue_total",
			Help: "Minor units collected by completed upgrades, labeled by currency.",
		},
		[]string{"currency"},
	)

	upgradeNoopTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "upgrade_duplicate_processing_total",
			Help: "ProcessUpgrade calls ignored because the upgrade was already settled.",
		},
	)

	reconcilerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upgrade_reconciler_items_total",
			Help: "Unsettled upgrades picked up by the reconciler, labeled by outcome.",
		},
		[]string{"outcome"}, // 'submitted', 'dropped', 'failed'
	)
)

func IncUpgradeTransition(upgradeType, status string) {
	upgradeTransitionsTotal.WithLabelValues(norm(upgradeType), norm(status)).Inc()
}

func AddUpgradeRevenue(currency string, amount int64) {
	upgradeRevenueTotal.WithLabelValues(norm(currency)).Add(float64(amount))
}

func IncDuplicateProcessing() { upgradeNoopTotal.Inc() }

func IncReconciler(outcome string) {
	reconcilerRunsTotal.WithLabelValues(norm(outcome)).Inc()
}
