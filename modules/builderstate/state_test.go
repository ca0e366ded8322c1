package builderstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dunedaq/dfcore/pkg/dfmessages"
)

func decision(trigNo dfmessages.TriggerNumber) dfmessages.TriggerDecision {
	return dfmessages.TriggerDecision{TriggerNumber: trigNo, RunNumber: 1}
}

func TestState_AddAssignmentTripsBusyAtThreshold(t *testing.T) {
	// Given
	s := New(Config{ConnectionName: "trb-0", BusyThreshold: 2, FreeThreshold: 1})
	require.True(t, s.HasSlot())

	// When
	require.NoError(t, s.AddAssignment(s.MakeAssignment(decision(1))))
	require.True(t, s.HasSlot())
	require.NoError(t, s.AddAssignment(s.MakeAssignment(decision(2))))

	// Then
	require.False(t, s.HasSlot())
	require.True(t, s.IsBusy())
	require.Equal(t, uint64(0), s.AvailableSlots())
}

func TestState_ExtractAssignmentClearsBusyAtFreeThreshold(t *testing.T) {
	// Given
	s := New(Config{ConnectionName: "trb-0", BusyThreshold: 2, FreeThreshold: 1})
	require.NoError(t, s.AddAssignment(s.MakeAssignment(decision(1))))
	require.NoError(t, s.AddAssignment(s.MakeAssignment(decision(2))))
	require.True(t, s.IsBusy())

	// When
	_, ok := s.ExtractAssignment(2)

	// Then
	require.True(t, ok)
	require.False(t, s.IsBusy())
	require.Equal(t, 1, s.OutstandingCount())
}

func TestState_ExtractAssignmentMissingReturnsFalse(t *testing.T) {
	s := New(Config{ConnectionName: "trb-0", BusyThreshold: 2, FreeThreshold: 1})
	_, ok := s.ExtractAssignment(99)
	require.False(t, ok)
}

func TestState_CompleteRecordsLatencyAndRemovesAssignment(t *testing.T) {
	// Given
	s := New(Config{ConnectionName: "trb-0", BusyThreshold: 2, FreeThreshold: 1})
	require.NoError(t, s.AddAssignment(s.MakeAssignment(decision(1))))

	// When
	assignment, ok := s.Complete(1)

	// Then
	require.True(t, ok)
	require.Equal(t, dfmessages.TriggerNumber(1), assignment.Decision.TriggerNumber)
	require.Equal(t, 0, s.OutstandingCount())
	require.GreaterOrEqual(t, s.AverageLatency(time.Now().Add(-time.Minute)), time.Duration(0))
}

func TestState_CompleteUnknownTriggerReturnsFalse(t *testing.T) {
	s := New(Config{ConnectionName: "trb-0", BusyThreshold: 2, FreeThreshold: 1})
	_, ok := s.Complete(42)
	require.False(t, ok)
}

func TestState_LatencyWindowIsBounded(t *testing.T) {
	// Given
	s := New(Config{ConnectionName: "trb-0", BusyThreshold: 1000, FreeThreshold: 1, LatencyWindow: 3})

	// When
	for i := dfmessages.TriggerNumber(0); i < 10; i++ {
		require.NoError(t, s.AddAssignment(s.MakeAssignment(decision(i))))
		_, ok := s.Complete(i)
		require.True(t, ok)
	}

	// Then
	require.Len(t, s.latency, 3)
}

func TestState_AddAssignmentWhileInErrorFails(t *testing.T) {
	// Given
	s := New(Config{ConnectionName: "trb-0", BusyThreshold: 2, FreeThreshold: 1})
	s.SetInError(true)

	// When
	err := s.AddAssignment(s.MakeAssignment(decision(1)))

	// Then
	require.Error(t, err)
	require.Equal(t, 0, s.OutstandingCount())
}

func TestState_FlushClearsOutstandingAndResetsFlags(t *testing.T) {
	// Given
	s := New(Config{ConnectionName: "trb-0", BusyThreshold: 1, FreeThreshold: 1})
	require.NoError(t, s.AddAssignment(s.MakeAssignment(decision(1))))
	require.True(t, s.IsBusy())
	s.SetInError(true)

	// When
	flushed := s.Flush()

	// Then
	require.Len(t, flushed, 1)
	require.Equal(t, 0, s.OutstandingCount())
	require.False(t, s.IsBusy())
	require.False(t, s.IsInError())
}
