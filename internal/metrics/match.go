package metrics

import "github.com/prometheus/client_golang/prometheus"

// Matching pipeline metrics.
var (
	MatchRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trialscope",
			Name:      "match_runs_total",
			Help:      "Total matching runs by rank outcome",
		},
		[]string{"outcome"},
	)

	MatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "trialscope",
			Name:      "match_duration_seconds",
			Help:      "End-to-end matching run duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	MatchCandidates = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "trialscope",
			Name:      "match_candidates",
			Help:      "Candidates surviving the structured filter per run",
			Buckets:   []float64{0, 1, 5, 10, 50, 100, 500, 1000},
		},
	)
)

var matchMetricsRegistered bool

// RegisterMatchMetrics registers the matching metrics. Call once from main.
func RegisterMatchMetrics() {
	if matchMetricsRegistered {
		return
	}
	prometheus.MustRegister(MatchRunsTotal)
	prometheus.MustRegister(MatchDuration)
	prometheus.MustRegister(MatchCandidates)
	matchMetricsRegistered = true
}
