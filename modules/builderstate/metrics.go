package builderstate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricOutstandingDecisions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dfcore",
		Subsystem: "builderstate",
		Name:      "outstanding_decisions",
		Help:      "Number of trigger decisions currently assigned and unacknowledged.",
	}, []string{"connection"})

	metricIsBusy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dfcore",
		Subsystem: "builderstate",
		Name:      "is_busy",
		Help:      "1 if this builder connection is currently marked busy, 0 otherwise.",
	}, []string{"connection"})

	metricCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "builderstate",
		Name:      "completed_total",
		Help:      "Total number of trigger decisions completed on this builder connection.",
	}, []string{"connection"})

	metricCompletionLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dfcore",
		Subsystem: "builderstate",
		Name:      "completion_latency_seconds",
		Help:      "Time from assignment to completion for a trigger decision.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"connection"})
)
