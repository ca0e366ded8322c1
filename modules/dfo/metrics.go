package dfo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricDecisionsReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "dfo",
		Name:      "decisions_received_total",
		Help:      "Total number of trigger decisions received for assignment.",
	})

	metricDecisionsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "dfo",
		Name:      "decisions_sent_total",
		Help:      "Total number of trigger decisions successfully dispatched, by connection.",
	}, []string{"connection"})

	metricHeartbeatsReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "dfo",
		Name:      "heartbeats_received_total",
		Help:      "Total number of dataflow heartbeats received from the DFO Broker.",
	})

	metricIncompleteTriggerDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "dfo",
		Name:      "incomplete_trigger_decisions_total",
		Help:      "Total number of trigger decisions flushed, still outstanding, at stop, by connection.",
	}, []string{"connection"})

	metricDispatchFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "dfo",
		Name:      "dispatch_failures_total",
		Help:      "Total number of trigger decision dispatch attempts that exhausted their retries, by connection.",
	}, []string{"connection"})

	metricBusyStateChangesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "dfo",
		Name:      "busy_state_changes_total",
		Help:      "Total number of times the aggregate busy/free signal flipped.",
	})

	metricConnectionsInError = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dfcore",
		Subsystem: "dfo",
		Name:      "connections_in_error",
		Help:      "Number of Trigger Record Builder connections currently marked in error.",
	})
)
