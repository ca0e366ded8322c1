// Package dfmessages is the shared data model of the dataflow core: trigger
// decisions, assignments, data requests, fragments, trigger records,
// completion tokens, heartbeats and TP/timeslice structures (spec.md §3).
//
// These are the payloads carried by the typed connections of §6; the
// connections themselves are pkg/endpoint.Sender[T]/Receiver[T].
package dfmessages

import "fmt"

// RunNumber is a monotonic per-run integer chosen by the run controller.
type RunNumber uint64

// TriggerNumber is monotonic within a run, assigned by the trigger source.
type TriggerNumber uint64

// SequenceNumber indexes a sub-slice within one trigger, in [0, MaxSequenceNumber].
type SequenceNumber uint32

// Timestamp is a 64-bit detector-clock tick.
type Timestamp uint64

// Subsystem names the producer subsystem of a SourceID.
type Subsystem int

const (
	SubsystemUnknown Subsystem = iota
	SubsystemDetectorReadout
	SubsystemTrigger
	SubsystemTRBuilder
)

func (s Subsystem) String() string {
	switch s {
	case SubsystemDetectorReadout:
		return "DetectorReadout"
	case SubsystemTrigger:
		return "Trigger"
	case SubsystemTRBuilder:
		return "TRBuilder"
	default:
		return "Unknown"
	}
}

// SourceID is the (subsystem, id) address of a producer.
type SourceID struct {
	Subsystem Subsystem `json:"subsystem"`
	ID        uint32    `json:"id"`
}

func (s SourceID) String() string {
	return fmt.Sprintf("%s#%d", s.Subsystem, s.ID)
}

// TriggerID uniquely names one sequence of one trigger within one run; it is
// the key of the TRB's trigger_records map (spec.md §4.5).
type TriggerID struct {
	TriggerNumber  TriggerNumber  `json:"trigger_number"`
	SequenceNumber SequenceNumber `json:"sequence_number"`
	RunNumber      RunNumber      `json:"run_number"`
}

func (t TriggerID) String() string {
	return fmt.Sprintf("trig=%d seq=%d run=%d", t.TriggerNumber, t.SequenceNumber, t.RunNumber)
}
