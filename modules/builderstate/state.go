package builderstate

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/dunedaq/dfcore/pkg/arena"
	"github.com/dunedaq/dfcore/pkg/dferrors"
	"github.com/dunedaq/dfcore/pkg/dfmessages"
)

// AssignedDecision is a TriggerDecision that has been handed to this
// builder connection but not yet completed. Grounded on the original's
// AssignedTriggerDecision, minus the connection_name field (redundant here:
// a State already belongs to exactly one connection).
type AssignedDecision struct {
	Decision     dfmessages.TriggerDecision
	AssignedTime time.Time
}

type latencySample struct {
	at      time.Time
	elapsed time.Duration
}

// State is the DFO's bookkeeping for one Trigger Record Builder connection:
// which trigger decisions are outstanding, whether the connection is
// currently busy, and recent completion latencies. It is safe for
// concurrent use. Grounded on TriggerRecordBuilderData.
type State struct {
	cfg Config

	mu       sync.Mutex
	byHandle *arena.Arena[AssignedDecision]
	byTrig   map[dfmessages.TriggerNumber]arena.Handle
	order    []arena.Handle

	latMu   sync.Mutex
	latency []latencySample

	isBusy  atomic.Bool
	inError atomic.Bool

	completeCounter atomic.Uint64

	ackMu             sync.Mutex
	recentCompletions map[dfmessages.TriggerNumber]struct{}
}

// New creates a State for one builder connection. cfg must already have
// passed Validate.
func New(cfg Config) *State {
	return &State{
		cfg:               cfg,
		byHandle:          arena.New[AssignedDecision](),
		byTrig:            make(map[dfmessages.TriggerNumber]arena.Handle),
		recentCompletions: make(map[dfmessages.TriggerNumber]struct{}),
	}
}

// ConnectionName returns the name this State was constructed for.
func (s *State) ConnectionName() string { return s.cfg.ConnectionName }

// HasSlot reports whether another decision can be assigned right now.
func (s *State) HasSlot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.inError.Load() && uint64(len(s.order)) < s.cfg.BusyThreshold
}

// AvailableSlots reports how many more decisions can be assigned before this
// connection hits its busy threshold; zero while in error.
func (s *State) AvailableSlots() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inError.Load() {
		return 0
	}
	used := uint64(len(s.order))
	if used >= s.cfg.BusyThreshold {
		return 0
	}
	return s.cfg.BusyThreshold - used
}

// IsBusy reports the current busy/free hysteresis state.
func (s *State) IsBusy() bool { return s.isBusy.Load() }

// IsInError reports whether this connection has been marked unusable.
func (s *State) IsInError() bool { return s.inError.Load() }

// SetInError marks the connection unusable (or clears that mark), per the
// reconnection-clears-error behavior supplemented from original_source/.
func (s *State) SetInError(err bool) { s.inError.Store(err) }

// MakeAssignment wraps decision for this connection, stamping the current
// time as the assignment time.
func (s *State) MakeAssignment(decision dfmessages.TriggerDecision) AssignedDecision {
	return AssignedDecision{Decision: decision, AssignedTime: time.Now()}
}

// AddAssignment records assignment as outstanding. It returns
// dferrors.IssueNoSlotsAvailable if the connection is in error; callers
// should check HasSlot/AvailableSlots before calling in the normal path,
// but AddAssignment enforces the invariant regardless.
func (s *State) AddAssignment(assignment AssignedDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inError.Load() {
		return dferrors.New(dferrors.IssueNoSlotsAvailable, "no slots available on %s: connection is in error", s.cfg.ConnectionName)
	}

	h := s.byHandle.Put(assignment)
	s.byTrig[assignment.Decision.TriggerNumber] = h
	s.order = append(s.order, h)

	if uint64(len(s.order)) >= s.cfg.BusyThreshold {
		s.isBusy.Store(true)
	}

	metricOutstandingDecisions.WithLabelValues(s.cfg.ConnectionName).Set(float64(len(s.order)))
	s.updateBusyMetric()
	return nil
}

// GetAssignment returns the outstanding assignment for trigNo, if any.
func (s *State) GetAssignment(trigNo dfmessages.TriggerNumber) (AssignedDecision, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.byTrig[trigNo]
	if !ok {
		return AssignedDecision{}, false
	}
	return s.byHandle.Get(h)
}

// ExtractAssignment removes and returns the outstanding assignment for
// trigNo, if any, and updates the busy/free hysteresis.
func (s *State) ExtractAssignment(trigNo dfmessages.TriggerNumber) (AssignedDecision, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extractLocked(trigNo)
}

func (s *State) extractLocked(trigNo dfmessages.TriggerNumber) (AssignedDecision, bool) {
	h, ok := s.byTrig[trigNo]
	if !ok {
		return AssignedDecision{}, false
	}
	delete(s.byTrig, trigNo)

	for i, oh := range s.order {
		if oh == h {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	v, _ := s.byHandle.Take(h)

	if uint64(len(s.order)) <= s.cfg.FreeThreshold {
		s.isBusy.Store(false)
	}

	metricOutstandingDecisions.WithLabelValues(s.cfg.ConnectionName).Set(float64(len(s.order)))
	s.updateBusyMetric()
	return v, true
}

func (s *State) updateBusyMetric() {
	v := 0.0
	if s.isBusy.Load() {
		v = 1.0
	}
	metricIsBusy.WithLabelValues(s.cfg.ConnectionName).Set(v)
}

// Complete extracts the assignment for trigNo, records its completion
// latency, and returns it. It returns false if no such assignment was
// outstanding (the AssignedTriggerDecisionNotFound case of the original).
func (s *State) Complete(trigNo dfmessages.TriggerNumber) (AssignedDecision, bool) {
	s.mu.Lock()
	assignment, ok := s.extractLocked(trigNo)
	s.mu.Unlock()
	if !ok {
		return AssignedDecision{}, false
	}

	now := time.Now()
	elapsed := now.Sub(assignment.AssignedTime)

	s.latMu.Lock()
	s.latency = append(s.latency, latencySample{at: now, elapsed: elapsed})
	window := s.cfg.LatencyWindow
	if window <= 0 {
		window = 1000
	}
	if len(s.latency) > window {
		s.latency = s.latency[len(s.latency)-window:]
	}
	s.latMu.Unlock()

	s.completeCounter.Inc()
	metricCompletedTotal.WithLabelValues(s.cfg.ConnectionName).Inc()
	metricCompletionLatencySeconds.WithLabelValues(s.cfg.ConnectionName).Observe(elapsed.Seconds())

	return assignment, true
}

// AverageLatency returns the mean completion latency over samples recorded
// at or after since. It returns zero if there are no such samples.
func (s *State) AverageLatency(since time.Time) time.Duration {
	s.latMu.Lock()
	defer s.latMu.Unlock()

	var sum time.Duration
	var count int
	for i := len(s.latency) - 1; i >= 0; i-- {
		if s.latency[i].at.Before(since) {
			break
		}
		sum += s.latency[i].elapsed
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / time.Duration(count)
}

// Flush clears all outstanding assignments and latency history, resetting
// the busy and error flags, and returns whatever was outstanding. Used on
// run stop per spec.md §4.1.
func (s *State) Flush() []AssignedDecision {
	s.mu.Lock()
	out := make([]AssignedDecision, 0, len(s.order))
	for _, h := range s.order {
		if v, ok := s.byHandle.Get(h); ok {
			out = append(out, v)
		}
	}
	s.byHandle.Drain()
	s.byTrig = make(map[dfmessages.TriggerNumber]arena.Handle)
	s.order = nil
	s.isBusy.Store(false)
	s.inError.Store(false)
	s.mu.Unlock()

	s.latMu.Lock()
	s.latency = nil
	s.latMu.Unlock()

	metricOutstandingDecisions.WithLabelValues(s.cfg.ConnectionName).Set(0)
	s.updateBusyMetric()
	return out
}

// OutstandingCount reports how many decisions are currently assigned.
func (s *State) OutstandingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// UpdateAckList merges newly-reported completions into the to-be-acknowledged
// set, per update_completions_to_acknowledge_list in the original.
func (s *State) UpdateAckList(tns []dfmessages.TriggerNumber) {
	s.ackMu.Lock()
	defer s.ackMu.Unlock()
	for _, tn := range tns {
		s.recentCompletions[tn] = struct{}{}
	}
}

// ExtractAckList drains the to-be-acknowledged set for piggybacking on the
// next DFODecision, per get_acknowledgements in the original.
func (s *State) ExtractAckList() []dfmessages.TriggerNumber {
	s.ackMu.Lock()
	defer s.ackMu.Unlock()
	out := make([]dfmessages.TriggerNumber, 0, len(s.recentCompletions))
	for tn := range s.recentCompletions {
		out = append(out, tn)
	}
	s.recentCompletions = make(map[dfmessages.TriggerNumber]struct{})
	return out
}
