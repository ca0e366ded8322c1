package tpbundle

import (
	"sort"
	"sync"
	"time"

	"github.com/go-kit/log/level"

	"github.com/dunedaq/dfcore/pkg/dferrors"
	"github.com/dunedaq/dfcore/pkg/dfmessages"
	"github.com/dunedaq/dfcore/pkg/util/log"
)

// Handler is the TP Bundle Handler of spec.md §4.4: it fans each incoming
// TPSet out to every time slice accumulator it overlaps, and emits
// TimeSlices once their accumulator has gone quiet for the configured
// cooling-off period. Safe for concurrent use.
type Handler struct {
	cfg       Config
	runNumber dfmessages.RunNumber

	mu           sync.Mutex
	offset       int64
	offsetIsSet  bool
	accumulators map[uint64]*accumulator
}

// New creates a Handler for one run.
func New(cfg Config, runNumber dfmessages.RunNumber) *Handler {
	return &Handler{
		cfg:          cfg,
		runNumber:    runNumber,
		accumulators: make(map[uint64]*accumulator),
	}
}

// AddTPSet folds tpset into every time slice accumulator it overlaps,
// creating new accumulators as needed. Grounded on
// TPBundleHandler::add_tpset: a TPSet whose window spans multiple slices is
// copied into each of them.
func (h *Handler) AddTPSet(tpset dfmessages.TPSet) {
	sliceInterval := uint64(h.cfg.SliceInterval)
	tsidxBegin := uint64(tpset.StartTime) / sliceInterval
	tsidxEnd := uint64(tpset.EndTime) / sliceInterval

	h.mu.Lock()
	if !h.offsetIsSet {
		h.offset = int64(tsidxBegin) - 1
		h.offsetIsSet = true
	}
	offset := h.offset
	h.mu.Unlock()

	sliceNumberFor := func(tsidx uint64) int64 { return int64(tsidx) - offset }

	if sliceNumberFor(tsidxBegin) <= 0 {
		level.Warn(log.Logger).Log("msg", string(dferrors.IssueTardyTPSetReceived),
			"source_id", tpset.Origin.String(), "start_time", tpset.StartTime, "timeslice_id", sliceNumberFor(tsidxBegin))
		metricTPSetsDroppedTotal.WithLabelValues("tardy").Inc()
		return
	}

	for tsidx := tsidxBegin + 1; tsidx <= tsidxEnd; tsidx++ {
		h.accumulatorFor(tsidx, sliceInterval, sliceNumberFor(tsidx)).addTPSet(tpset)
	}
	h.accumulatorFor(tsidxBegin, sliceInterval, sliceNumberFor(tsidxBegin)).addTPSet(tpset)

	metricTPSetsAddedTotal.Inc()
	metricOpenAccumulators.Set(float64(h.openAccumulatorCount()))
}

func (h *Handler) accumulatorFor(tsidx, sliceInterval uint64, sliceNumber int64) *accumulator {
	h.mu.Lock()
	defer h.mu.Unlock()

	acc, ok := h.accumulators[tsidx]
	if !ok {
		begin := dfmessages.Timestamp(tsidx * sliceInterval)
		end := dfmessages.Timestamp((tsidx + 1) * sliceInterval)
		acc = newAccumulator(begin, end, uint64(sliceNumber), h.runNumber)
		h.accumulators[tsidx] = acc
	}
	return acc
}

func (h *Handler) openAccumulatorCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.accumulators)
}

// GetProperlyAgedTimeSlices emits and removes every accumulator that has
// gone quiet for at least the configured cooling-off time.
func (h *Handler) GetProperlyAgedTimeSlices() []dfmessages.TimeSlice {
	now := time.Now()

	h.mu.Lock()
	var aged []uint64
	for tsidx, acc := range h.accumulators {
		if now.Sub(acc.lastUpdateTime()) >= h.cfg.CoolingOffTime {
			aged = append(aged, tsidx)
		}
	}
	sort.Slice(aged, func(i, j int) bool { return aged[i] < aged[j] })
	h.mu.Unlock()

	out := make([]dfmessages.TimeSlice, 0, len(aged))
	h.mu.Lock()
	for _, tsidx := range aged {
		if acc, ok := h.accumulators[tsidx]; ok {
			out = append(out, acc.getTimeSlice())
			delete(h.accumulators, tsidx)
		}
	}
	h.mu.Unlock()

	metricTimeSlicesEmittedTotal.Add(float64(len(out)))
	metricOpenAccumulators.Set(float64(h.openAccumulatorCount()))
	return out
}

// GetAllRemainingTimeSlices emits and removes every accumulator
// unconditionally, regardless of how recently it was updated. Used on run
// stop so no buffered data is lost.
func (h *Handler) GetAllRemainingTimeSlices() []dfmessages.TimeSlice {
	h.mu.Lock()
	tsidxs := make([]uint64, 0, len(h.accumulators))
	for tsidx := range h.accumulators {
		tsidxs = append(tsidxs, tsidx)
	}
	sort.Slice(tsidxs, func(i, j int) bool { return tsidxs[i] < tsidxs[j] })

	out := make([]dfmessages.TimeSlice, 0, len(tsidxs))
	for _, tsidx := range tsidxs {
		out = append(out, h.accumulators[tsidx].getTimeSlice())
		delete(h.accumulators, tsidx)
	}
	h.mu.Unlock()

	metricTimeSlicesEmittedTotal.Add(float64(len(out)))
	metricOpenAccumulators.Set(0)
	return out
}
