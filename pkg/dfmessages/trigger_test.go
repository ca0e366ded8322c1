package dfmessages

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTriggerDecision_SpanReturnsUnionOfComponentWindows(t *testing.T) {
	// Given
	d := TriggerDecision{
		Components: []ComponentRequest{
			{WindowBegin: 100, WindowEnd: 200},
			{WindowBegin: 50, WindowEnd: 150},
		},
	}

	// When
	begin, end := d.Span()

	// Then
	require.Equal(t, Timestamp(50), begin)
	require.Equal(t, Timestamp(200), end)
}

func TestTriggerDecision_ValidateRejectsEmptyComponents(t *testing.T) {
	require.Error(t, TriggerDecision{}.Validate())
}

func TestTriggerDecision_ValidateRejectsInvertedWindow(t *testing.T) {
	d := TriggerDecision{Components: []ComponentRequest{{WindowBegin: 200, WindowEnd: 100}}}
	require.Error(t, d.Validate())
}

func TestComponentRequest_ClampNarrowsToSliceWindow(t *testing.T) {
	// Given
	c := ComponentRequest{WindowBegin: 0, WindowEnd: 250}

	// When
	clamped := c.Clamp(100, 200)

	// Then
	require.Equal(t, Timestamp(100), clamped.WindowBegin)
	require.Equal(t, Timestamp(200), clamped.WindowEnd)
}

func TestComponentRequest_IntersectsIsFalseForDisjointWindows(t *testing.T) {
	c := ComponentRequest{WindowBegin: 0, WindowEnd: 100}
	require.False(t, c.Intersects(100, 200))
	require.True(t, c.Intersects(99, 200))
}
