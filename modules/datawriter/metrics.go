package datawriter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRecordsReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "datawriter",
		Name:      "records_received_total",
		Help:      "Total number of TriggerRecords received for the current run.",
	})

	metricRecordsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "datawriter",
		Name:      "records_written_total",
		Help:      "Total number of TriggerRecords successfully written to the sink.",
	})

	metricUnexpectedRunNumberTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "datawriter",
		Name:      "unexpected_run_number_total",
		Help:      "Total number of TriggerRecords dropped for run number mismatch.",
	})

	metricWriteRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "datawriter",
		Name:      "write_retries_total",
		Help:      "Total number of retryable sink write failures.",
	})

	metricIgnoredWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "datawriter",
		Name:      "ignored_writes_total",
		Help:      "Total number of writes dropped as ignorable storage problems (e.g. already-written time slices).",
	})

	metricTokensSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "datawriter",
		Name:      "tokens_sent_total",
		Help:      "Total number of TriggerDecisionTokens successfully sent.",
	})

	metricBytesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "datawriter",
		Name:      "bytes_written_total",
		Help:      "Approximate total bytes of TriggerRecord payloads written to the sink.",
	})

	metricTimeSlicesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "datawriter",
		Name:      "timeslices_written_total",
		Help:      "Total number of TimeSlices successfully written to the sink.",
	})
)
