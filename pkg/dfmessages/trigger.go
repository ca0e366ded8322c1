package dfmessages

import "time"

// ComponentRequest is one producer's readout window within a TriggerDecision
// or, once clamped to a sequence slice, within a DataRequest.
type ComponentRequest struct {
	SourceID    SourceID  `json:"source_id"`
	WindowBegin Timestamp `json:"window_begin"`
	WindowEnd   Timestamp `json:"window_end"`
}

// Intersects reports whether the request overlaps [begin, end).
func (c ComponentRequest) Intersects(begin, end Timestamp) bool {
	return c.WindowBegin < end && begin < c.WindowEnd
}

// Clamp returns c with its window clamped to [begin, end). The caller must
// check Intersects first; a non-intersecting clamp produces an empty window.
func (c ComponentRequest) Clamp(begin, end Timestamp) ComponentRequest {
	if c.WindowBegin < begin {
		c.WindowBegin = begin
	}
	if c.WindowEnd > end {
		c.WindowEnd = end
	}
	return c
}

// TriggerDecision is the authoritative request to build one trigger record
// (spec.md §3). Invariants: WindowBegin <= WindowEnd for every component,
// at least one component, RunNumber equal to the active run.
type TriggerDecision struct {
	TriggerNumber    TriggerNumber      `json:"trigger_number"`
	RunNumber        RunNumber          `json:"run_number"`
	TriggerTimestamp Timestamp          `json:"trigger_timestamp"`
	TriggerType      uint64             `json:"trigger_type"`
	ReadoutType      string             `json:"readout_type"`
	Components       []ComponentRequest `json:"components"`
}

// Span returns [min(WindowBegin), max(WindowEnd)) across all components.
func (d TriggerDecision) Span() (begin, end Timestamp) {
	if len(d.Components) == 0 {
		return 0, 0
	}
	begin, end = d.Components[0].WindowBegin, d.Components[0].WindowEnd
	for _, c := range d.Components[1:] {
		if c.WindowBegin < begin {
			begin = c.WindowBegin
		}
		if c.WindowEnd > end {
			end = c.WindowEnd
		}
	}
	return begin, end
}

// Validate checks the TriggerDecision invariants of spec.md §3 that do not
// require knowledge of the active run (callers validate RunNumber separately
// against their own current-run state, per the at-ingress rule of §7).
func (d TriggerDecision) Validate() error {
	if len(d.Components) == 0 {
		return errNoComponents
	}
	for _, c := range d.Components {
		if c.WindowBegin > c.WindowEnd {
			return errBadWindow
		}
	}
	return nil
}

// AssignedTriggerDecision is a TriggerDecision bound to one builder
// connection; it exists iff the trigger is outstanding at exactly one
// builder (spec.md §3).
type AssignedTriggerDecision struct {
	Decision       TriggerDecision `json:"decision"`
	ConnectionName string          `json:"connection_name"`
	AssignedTime   time.Time       `json:"assigned_time"`
}

// DataRequest is emitted per component per sequence (spec.md §3); at-least-once
// delivery, no reply required on cancel.
type DataRequest struct {
	TriggerNumber    TriggerNumber    `json:"trigger_number"`
	SequenceNumber   SequenceNumber   `json:"sequence_number"`
	RunNumber        RunNumber        `json:"run_number"`
	TriggerTimestamp Timestamp        `json:"trigger_timestamp"`
	ReadoutType      string           `json:"readout_type"`
	Component        ComponentRequest `json:"component"`
	DataDestination  string           `json:"data_destination"`
}

// FragmentErrorBits mirrors the header error_bits field of TriggerRecord.
type FragmentErrorBits uint32

const (
	// ErrBitIncomplete is set on a TriggerRecord when it is emitted with
	// missing fragments (timeout or drain).
	ErrBitIncomplete FragmentErrorBits = 1 << iota
)

// Fragment is produced by a producer in response to a DataRequest (spec.md §3).
// The (TriggerNumber, SequenceNumber, ElementID) triple uniquely identifies a
// fragment within a run.
type Fragment struct {
	TriggerNumber  TriggerNumber  `json:"trigger_number"`
	SequenceNumber SequenceNumber `json:"sequence_number"`
	RunNumber      RunNumber      `json:"run_number"`
	ElementID      SourceID       `json:"element_id"`
	WindowBegin    Timestamp      `json:"window_begin"`
	WindowEnd      Timestamp      `json:"window_end"`
	Payload        []byte         `json:"payload"`
	FragmentType   string         `json:"fragment_type"`
	ErrorBits      uint32         `json:"error_bits"`
}

// TriggerID returns the (trigger, sequence, run) key this fragment belongs to.
func (f Fragment) TriggerID() TriggerID {
	return TriggerID{TriggerNumber: f.TriggerNumber, SequenceNumber: f.SequenceNumber, RunNumber: f.RunNumber}
}

// TriggerRecordHeader carries the fixed fields of a TriggerRecord (spec.md §3).
type TriggerRecordHeader struct {
	TriggerNumber     TriggerNumber  `json:"trigger_number"`
	SequenceNumber    SequenceNumber `json:"sequence_number"`
	MaxSequenceNumber SequenceNumber `json:"max_sequence_number"`
	RunNumber         RunNumber      `json:"run_number"`
	TriggerTimestamp  Timestamp      `json:"trigger_timestamp"`
	TriggerType       uint64         `json:"trigger_type"`
	ElementID         SourceID       `json:"element_id"`
	ErrorBits         uint32         `json:"error_bits"`
}

// TriggerRecord is the assembled output of the TRB: header + fragments +
// the expected component requests (spec.md §3).
//
// Invariants: len(Fragments) <= len(Requested); SequenceNumber <=
// MaxSequenceNumber; ErrBitIncomplete is set iff fragments are missing.
type TriggerRecord struct {
	Header    TriggerRecordHeader `json:"header"`
	Fragments []Fragment          `json:"fragments"`
	Requested []ComponentRequest  `json:"requested"`
}

// Complete reports whether every requested component has a fragment.
func (t TriggerRecord) Complete() bool {
	return len(t.Fragments) == len(t.Requested)
}

// Incomplete reports whether the header's incomplete bit is set.
func (t TriggerRecord) Incomplete() bool {
	return t.Header.ErrorBits&uint32(ErrBitIncomplete) != 0
}

// TriggerDecisionToken is sent by the Data Writer once it has handled every
// sequence of a trigger, whether or not a record was written.
type TriggerDecisionToken struct {
	TriggerNumber TriggerNumber `json:"trigger_number"`
	RunNumber     RunNumber     `json:"run_number"`
	ReplyTo       string        `json:"reply_to"`
}

// DFODecision is forwarded by a DFO to the DFO Broker, piggybacking
// completions the DFO has not yet acknowledged (spec.md §4.2).
type DFODecision struct {
	DFOID                  string          `json:"dfo_id"`
	Decision               TriggerDecision `json:"decision"`
	AcknowledgedCompletion []TriggerNumber `json:"acknowledged_completions"`
}

// DataflowHeartbeat is the broker's stateless snapshot to DFOs (spec.md §3).
type DataflowHeartbeat struct {
	RunNumber              RunNumber       `json:"run_number"`
	DecisionDestination    string          `json:"decision_destination"`
	Outstanding            []TriggerNumber `json:"outstanding_trigger_numbers"`
	RecentlyCompleted      []TriggerNumber `json:"recently_completed_trigger_numbers"`
}

// TriggerInhibit is the busy/free signal sent to the trigger source.
type TriggerInhibit struct {
	Busy      bool      `json:"busy"`
	RunNumber RunNumber `json:"run_number"`
}

// TRMonRequest asks the TRB for a live monitoring copy of TRs of a given type.
type TRMonRequest struct {
	TriggerType     uint64 `json:"trigger_type"`
	DataDestination string `json:"data_destination"`
}
