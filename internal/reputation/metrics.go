package reputation

import "github.com/prometheus/client_golang/prometheus"

var (
	// RankingRecomputeDuration observes how long a full population recompute takes.
	RankingRecomputeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "consultcredit",
			Name:      "ranking_recompute_duration_seconds",
			Help:      "Duration of a full expert ranking recompute in seconds.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
	)

	// RankingExperts is the population size at the last recompute.
	RankingExperts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "consultcredit",
			Name:      "ranking_experts",
			Help:      "Number of experts ranked in the last recompute.",
		},
	)
)

func init() {
	prometheus.MustRegister(RankingRecomputeDuration, RankingExperts)
}
