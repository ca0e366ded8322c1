package trb

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPendingTriggerRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dfcore",
		Subsystem: "trb",
		Name:      "pending_trigger_records",
		Help:      "Number of TriggerRecords currently outstanding (incomplete or unsent).",
	})

	metricPendingFragments = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dfcore",
		Subsystem: "trb",
		Name:      "pending_fragments",
		Help:      "Number of Fragments still expected across all outstanding TriggerRecords.",
	})

	metricReceivedTriggerDecisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "trb",
		Name:      "received_trigger_decisions_total",
		Help:      "Total number of TriggerDecisions accepted for the current run.",
	})

	metricUnexpectedTriggerDecisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "trb",
		Name:      "unexpected_trigger_decisions_total",
		Help:      "Total number of TriggerDecisions dropped for run number mismatch.",
	})

	metricDuplicatedTriggerIDsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "trb",
		Name:      "duplicated_trigger_ids_total",
		Help:      "Total number of sequence slices dropped because their TriggerId was already on record.",
	})

	metricGeneratedTriggerRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "trb",
		Name:      "generated_trigger_records_total",
		Help:      "Total number of TriggerRecords successfully sent downstream.",
	})

	metricAbandonedTriggerRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "trb",
		Name:      "abandoned_trigger_records_total",
		Help:      "Total number of TriggerRecords that could not be sent and were dropped.",
	})

	metricTimedOutTriggerRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "trb",
		Name:      "timed_out_trigger_records_total",
		Help:      "Total number of TriggerRecords force-emitted after exceeding the trigger timeout.",
	})

	metricUnexpectedFragmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "trb",
		Name:      "unexpected_fragments_total",
		Help:      "Total number of Fragments dropped: unknown TriggerId or not a requested component.",
	})

	metricLostFragmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "trb",
		Name:      "lost_fragments_total",
		Help:      "Total number of lost Fragments: those never received, counted when their TriggerRecord is emitted, plus every received Fragment of an abandoned TriggerRecord.",
	})

	metricInvalidRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "trb",
		Name:      "invalid_requests_total",
		Help:      "Total number of DataRequests dropped because no sender is configured for their source id.",
	})

	metricGeneratedDataRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "trb",
		Name:      "generated_data_requests_total",
		Help:      "Total number of DataRequests successfully sent to a producer.",
	})

	metricDataWaitingTimeSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dfcore",
		Subsystem: "trb",
		Name:      "data_waiting_time_seconds",
		Help:      "Time between a TriggerRecord's creation and its emission (success, timeout, or drain).",
		Buckets:   prometheus.DefBuckets,
	})
)
