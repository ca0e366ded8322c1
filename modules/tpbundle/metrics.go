package tpbundle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricOpenAccumulators = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dfcore",
		Subsystem: "tpbundle",
		Name:      "open_accumulators",
		Help:      "Number of time slice accumulators currently being filled.",
	})

	metricTPSetsAddedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "tpbundle",
		Name:      "tpsets_added_total",
		Help:      "Total number of TPSets folded into an accumulator.",
	})

	metricTPSetsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "tpbundle",
		Name:      "tpsets_dropped_total",
		Help:      "Total number of TPSets dropped, by reason.",
	}, []string{"reason"})

	metricTimeSlicesEmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dfcore",
		Subsystem: "tpbundle",
		Name:      "timeslices_emitted_total",
		Help:      "Total number of TimeSlices emitted, aged or flushed.",
	})
)
