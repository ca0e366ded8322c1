package dfmessages

// TPSetType distinguishes a real batch of trigger primitives from a
// heartbeat-only TPSet used to advance quiescence tracking.
type TPSetType int

const (
	TPSetPayload TPSetType = iota
	TPSetHeartbeat
)

// TriggerPrimitive is an opaque detector-produced primitive; the bundle
// handler never interprets its contents, only its containing TPSet's window.
type TriggerPrimitive struct {
	Time    Timestamp `json:"time"`
	Payload []byte    `json:"payload"`
}

// TPSet is a batch of trigger primitives from one origin within one time
// window (spec.md §3). TPs lie within [StartTime, EndTime); Seqno is
// monotonic per Origin.
type TPSet struct {
	Origin    SourceID           `json:"origin"`
	Seqno     uint64             `json:"seqno"`
	StartTime Timestamp          `json:"start_time"`
	EndTime   Timestamp          `json:"end_time"`
	Type      TPSetType          `json:"type"`
	TPs       []TriggerPrimitive `json:"tps"`
}

// TimeSlice is a fixed-duration bucket of TPs, one Fragment per contributing
// source, ready for durable writing (spec.md §3).
type TimeSlice struct {
	SliceNumber uint64     `json:"slice_number"`
	RunNumber   RunNumber  `json:"run_number"`
	ElementID   SourceID   `json:"element_id"`
	Fragments   []Fragment `json:"fragments"`
}

// GroupType names the logical HDF5 group a StorageKey addresses (spec.md §3/§4.7).
type GroupType int

const (
	GroupTriggerRecordHeader GroupType = iota
	GroupTPC
	GroupPDS
	GroupTrigger
	GroupTPCTP
)

func (g GroupType) String() string {
	switch g {
	case GroupTriggerRecordHeader:
		return "TriggerRecordHeader"
	case GroupTPC:
		return "TPC"
	case GroupPDS:
		return "PDS"
	case GroupTrigger:
		return "Trigger"
	case GroupTPCTP:
		return "TPC_TP"
	default:
		return "Unknown"
	}
}

// StorageKey uniquely names a leaf object in the store (spec.md §3).
type StorageKey struct {
	RunNumber         RunNumber
	TriggerNumber     TriggerNumber
	SequenceNumber    SequenceNumber
	MaxSequenceNumber SequenceNumber
	GroupType         GroupType
	RegionNumber       uint32
	ElementNumber      uint32
}
