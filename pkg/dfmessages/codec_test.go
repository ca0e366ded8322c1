package dfmessages

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalTriggerRecord_RoundTripYieldsEqualRecord(t *testing.T) {
	// Given
	tr := TriggerRecord{
		Header: TriggerRecordHeader{
			TriggerNumber:     42,
			SequenceNumber:    1,
			MaxSequenceNumber: 2,
			RunNumber:         7,
			TriggerTimestamp:  1000,
			TriggerType:       0b101,
			ElementID:         SourceID{Subsystem: SubsystemTRBuilder, ID: 1},
			ErrorBits:         uint32(ErrBitIncomplete),
		},
		Fragments: []Fragment{
			{
				TriggerNumber:  42,
				SequenceNumber: 1,
				RunNumber:      7,
				ElementID:      SourceID{Subsystem: SubsystemDetectorReadout, ID: 3},
				WindowBegin:    100,
				WindowEnd:      200,
				Payload:        []byte{1, 2, 3, 4},
				FragmentType:   "TPC",
			},
		},
		Requested: []ComponentRequest{
			{SourceID: SourceID{Subsystem: SubsystemDetectorReadout, ID: 3}, WindowBegin: 100, WindowEnd: 200},
			{SourceID: SourceID{Subsystem: SubsystemDetectorReadout, ID: 4}, WindowBegin: 100, WindowEnd: 200},
		},
	}

	// When
	b, err := MarshalTriggerRecord(tr)
	require.NoError(t, err)
	got, err := UnmarshalTriggerRecord(b)

	// Then
	require.NoError(t, err)
	require.Equal(t, tr, got)
}

func TestMarshalTimeSlice_RoundTripYieldsEqualSlice(t *testing.T) {
	// Given
	ts := TimeSlice{
		SliceNumber: 3,
		RunNumber:   7,
		ElementID:   SourceID{Subsystem: SubsystemTRBuilder, ID: 1},
		Fragments: []Fragment{
			{ElementID: SourceID{Subsystem: SubsystemDetectorReadout, ID: 9}, Payload: []byte{9, 9}},
		},
	}

	// When
	b, err := MarshalTimeSlice(ts)
	require.NoError(t, err)
	got, err := UnmarshalTimeSlice(b)

	// Then
	require.NoError(t, err)
	require.Equal(t, ts, got)
}
