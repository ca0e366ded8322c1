package tpbundle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dunedaq/dfcore/pkg/dfmessages"
)

func testConfig() Config {
	return Config{SliceInterval: 100, CoolingOffTime: 50 * time.Millisecond}
}

func tp(t dfmessages.Timestamp) dfmessages.TriggerPrimitive {
	return dfmessages.TriggerPrimitive{Time: t, Payload: []byte("x")}
}

func TestHandler_AddTPSetCreatesAccumulatorForWindow(t *testing.T) {
	// Given
	h := New(testConfig(), 1)

	// When
	h.AddTPSet(dfmessages.TPSet{
		Origin:    dfmessages.SourceID{Subsystem: dfmessages.SubsystemTrigger, ID: 1},
		StartTime: 10, EndTime: 20,
		TPs: []dfmessages.TriggerPrimitive{tp(10), tp(15)},
	})

	// Then
	require.Equal(t, 1, h.openAccumulatorCount())
}

func TestHandler_AddTPSetSpanningSlicesFansOutToBoth(t *testing.T) {
	// Given: slice interval 100, a TPSet from 90 to 110 spans slice 0 and 1
	h := New(testConfig(), 1)

	// When
	h.AddTPSet(dfmessages.TPSet{
		Origin:    dfmessages.SourceID{Subsystem: dfmessages.SubsystemTrigger, ID: 1},
		StartTime: 90, EndTime: 110,
		TPs: []dfmessages.TriggerPrimitive{tp(90), tp(105)},
	})

	// Then
	require.Equal(t, 2, h.openAccumulatorCount())
}

func TestHandler_GetProperlyAgedTimeSlicesWaitsForCoolingOff(t *testing.T) {
	// Given
	h := New(testConfig(), 1)
	h.AddTPSet(dfmessages.TPSet{
		Origin:    dfmessages.SourceID{Subsystem: dfmessages.SubsystemTrigger, ID: 1},
		StartTime: 10, EndTime: 20,
		TPs: []dfmessages.TriggerPrimitive{tp(10)},
	})

	// When: immediately, nothing is aged yet
	require.Empty(t, h.GetProperlyAgedTimeSlices())

	// Then: after the cooling-off period it is emitted
	require.Eventually(t, func() bool {
		return len(h.GetProperlyAgedTimeSlices()) == 1
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, 0, h.openAccumulatorCount())
}

func TestHandler_GetTimeSliceProducesOneFragmentPerSource(t *testing.T) {
	// Given
	h := New(testConfig(), 7)
	srcA := dfmessages.SourceID{Subsystem: dfmessages.SubsystemTrigger, ID: 1}
	srcB := dfmessages.SourceID{Subsystem: dfmessages.SubsystemTrigger, ID: 2}

	h.AddTPSet(dfmessages.TPSet{Origin: srcA, StartTime: 10, EndTime: 20, TPs: []dfmessages.TriggerPrimitive{tp(10)}})
	h.AddTPSet(dfmessages.TPSet{Origin: srcB, StartTime: 10, EndTime: 20, TPs: []dfmessages.TriggerPrimitive{tp(12)}})

	// When
	slices := h.GetAllRemainingTimeSlices()

	// Then
	require.Len(t, slices, 1)
	require.Len(t, slices[0].Fragments, 2)
	require.Equal(t, dfmessages.RunNumber(7), slices[0].RunNumber)
}

func TestHandler_TardyTPSetIsDropped(t *testing.T) {
	// Given: a TPSet entirely outside [0,100) relative to an already-offset handler
	h := New(testConfig(), 1)
	h.AddTPSet(dfmessages.TPSet{Origin: dfmessages.SourceID{ID: 1}, StartTime: 500, EndTime: 510, TPs: []dfmessages.TriggerPrimitive{tp(500)}})
	before := h.openAccumulatorCount()

	// When: tardy TPSet, far behind the established offset
	h.AddTPSet(dfmessages.TPSet{Origin: dfmessages.SourceID{ID: 1}, StartTime: 0, EndTime: 10, TPs: []dfmessages.TriggerPrimitive{tp(0)}})

	// Then
	require.Equal(t, before, h.openAccumulatorCount())
}

func TestHandler_DuplicateStartTimeIsIgnored(t *testing.T) {
	// Given
	h := New(testConfig(), 1)
	src := dfmessages.SourceID{ID: 1}
	h.AddTPSet(dfmessages.TPSet{Origin: src, StartTime: 10, EndTime: 20, TPs: []dfmessages.TriggerPrimitive{tp(10)}})

	// When: same source, same start time, different payload
	h.AddTPSet(dfmessages.TPSet{Origin: src, StartTime: 10, EndTime: 20, TPs: []dfmessages.TriggerPrimitive{tp(10), tp(11), tp(12)}})

	// Then: the first write wins
	slices := h.GetAllRemainingTimeSlices()
	require.Len(t, slices, 1)
	require.Len(t, slices[0].Fragments, 1)
}
