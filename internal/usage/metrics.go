package usage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// OpsTotal counts ledger operations by type.
	OpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "consultcredit",
			Name:      "usage_operations_total",
			Help:      "Total usage ledger operations by type.",
		},
		[]string{"op"},
	)

	// OpDuration observes operation latency by type.
	OpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "consultcredit",
			Name:      "usage_operation_duration_seconds",
			Help:      "Usage ledger operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"op"},
	)

	// TokensSpent counts consumed tokens by the balance they were drawn from.
	TokensSpent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "consultcredit",
			Name:      "usage_tokens_spent_total",
			Help:      "Tokens consumed, by source balance (free or purchased).",
		},
		[]string{"source"},
	)

	// MonthlyResets counts free-allowance resets by trigger (lazy or manual).
	MonthlyResets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "consultcredit",
			Name:      "usage_monthly_resets_total",
			Help:      "Free allowance resets by trigger.",
		},
		[]string{"trigger"},
	)

	// Overdrafts counts consumes that left purchasedUsed above purchasedTotal.
	Overdrafts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "consultcredit",
			Name:      "usage_overdrafts_total",
			Help:      "Consume operations that ended with the purchased balance overdrawn.",
		},
	)

	// StoreConflictRetries counts account writes retried after a conflict.
	StoreConflictRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "consultcredit",
			Name:      "usage_store_conflict_retries_total",
			Help:      "Account updates retried after a write conflict, by store.",
		},
		[]string{"store"},
	)
)

func init() {
	prometheus.MustRegister(OpsTotal, OpDuration, TokensSpent, MonthlyResets, Overdrafts, StoreConflictRetries)
}

// observeOp increments the operation counter and returns a function to observe duration.
func observeOp(op string) func() {
	OpsTotal.WithLabelValues(op).Inc()
	start := time.Now()
	return func() {
		OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
