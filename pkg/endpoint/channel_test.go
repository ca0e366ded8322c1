package endpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChan_SendThenReceiveRoundTrips(t *testing.T) {
	// Given
	c := NewChan[int](1)

	// When
	require.NoError(t, c.Send(context.Background(), 42, time.Second))
	got, err := c.Receive(context.Background(), time.Second)

	// Then
	require.NoError(t, err)
	require.Equal(t, 42, got)
}

func TestChan_SendToFullBufferTimesOut(t *testing.T) {
	// Given
	c := NewChan[int](1)
	require.NoError(t, c.Send(context.Background(), 1, time.Second))

	// When
	err := c.Send(context.Background(), 2, 10*time.Millisecond)

	// Then
	require.ErrorIs(t, err, ErrTimeout)
}

func TestChan_ReceiveFromEmptyTimesOut(t *testing.T) {
	c := NewChan[int](1)
	_, err := c.Receive(context.Background(), 10*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestChan_SendAfterCloseReturnsErrClosed(t *testing.T) {
	c := NewChan[int](1)
	c.Close()
	err := c.Send(context.Background(), 1, time.Second)
	require.ErrorIs(t, err, ErrClosed)
}

func TestTopic_PublishFansOutToAllSubscribers(t *testing.T) {
	// Given
	topic := NewTopic[string]()
	a := topic.Subscribe(1)
	b := topic.Subscribe(1)

	// When
	topic.Publish(context.Background(), "hello", time.Second)

	// Then
	gotA, err := a.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, "hello", gotA)

	gotB, err := b.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, "hello", gotB)
}
