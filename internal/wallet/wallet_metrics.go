package wallet

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// walletOpsTotal counts ledger operations by type.
	walletOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "celfd",
			Name:      "wallet_operations_total",
			Help:      "Total wallet ledger operations by type.",
		},
		[]string{"type"},
	)

	// walletOpDuration observes operation latency by type.
	walletOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "celfd",
			Name:      "wallet_operation_duration_seconds",
			Help:      "Wallet ledger operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"type"},
	)

	// accrualsAppliedTotal counts accrual records credited to pending.
	accrualsAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "celfd",
			Name:      "accruals_applied_total",
			Help:      "Total accrual records applied to the ledger.",
		},
	)

	// flaggedAccrualsTotal counts applied accruals carrying the anomaly flag.
	flaggedAccrualsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "celfd",
			Name:      "flagged_accruals_total",
			Help:      "Total applied accruals flagged for review.",
		},
	)

	// rejectionsTotal counts server-rejected transactions.
	rejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "celfd",
			Name:      "transaction_rejections_total",
			Help:      "Total transactions rejected by the authoritative ledger.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		walletOpsTotal,
		walletOpDuration,
		accrualsAppliedTotal,
		flaggedAccrualsTotal,
		rejectionsTotal,
	)
}

// observeOp increments the operation counter and returns a function to observe duration.
func observeOp(opType string) func() {
	walletOpsTotal.WithLabelValues(opType).Inc()
	start := time.Now()
	return func() {
		walletOpDuration.WithLabelValues(opType).Observe(time.Since(start).Seconds())
	}
}
