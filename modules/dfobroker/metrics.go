package dfobroker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricOutstandingDecisions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dfcore",
		Subsystem: "dfobroker",
		Name:      "outstanding_decisions",
		Help:      "Number of trigger decisions currently outstanding across all DFOs.",
	})

	metricHeartbeatsSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "dfobroker",
		Name:      "heartbeats_sent_total",
		Help:      "Total number of DataflowHeartbeat messages published.",
	})

	metricTokensIgnoredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "dfobroker",
		Name:      "tokens_ignored_total",
		Help:      "Total number of TriggerDecisionToken/DFODecision messages dropped by reason.",
	}, []string{"reason"})

	metricDecisionsForwardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "dfobroker",
		Name:      "decisions_forwarded_total",
		Help:      "Total number of TriggerDecisions forwarded to a TRB on behalf of an active DFO.",
	})
)
