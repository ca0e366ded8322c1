package dfo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/grafana/dskit/backoff"
	"github.com/stretchr/testify/require"

	"github.com/dunedaq/dfcore/modules/builderstate"
	"github.com/dunedaq/dfcore/pkg/dfmessages"
	"github.com/dunedaq/dfcore/pkg/endpoint"
)

const testDFOID = "dfo-under-test"

func testConnections(names ...string) []ConnectionConfig {
	var out []ConnectionConfig
	for _, n := range names {
		out = append(out, ConnectionConfig{
			Name:   n,
			Config: builderstate.Config{BusyThreshold: 2, FreeThreshold: 1, LatencyWindow: 1000},
		})
	}
	return out
}

func newTestOrchestrator(t *testing.T, names ...string) (*Orchestrator, *endpoint.Chan[dfmessages.TriggerDecision], *endpoint.Chan[dfmessages.DataflowHeartbeat], *endpoint.Chan[dfmessages.TriggerInhibit], *endpoint.Chan[dfmessages.DFODecision]) {
	t.Helper()

	cfg := Config{
		Connections:  testConnections(names...),
		QueueTimeout: time.Second,
		StopTimeout:  200 * time.Millisecond,
		DispatchBackoff: backoff.Config{
			MinBackoff: time.Millisecond,
			MaxBackoff: 5 * time.Millisecond,
			MaxRetries: 2,
		},
		DefaultBuilderConfig: builderstate.Config{BusyThreshold: 2, FreeThreshold: 1, LatencyWindow: 1000},
	}

	decisionCh := endpoint.NewChan[dfmessages.TriggerDecision](4)
	heartbeatCh := endpoint.NewChan[dfmessages.DataflowHeartbeat](4)
	busyCh := endpoint.NewChan[dfmessages.TriggerInhibit](16)
	decisionSendCh := endpoint.NewChan[dfmessages.DFODecision](4)

	o, err := New(cfg, testDFOID, decisionCh, heartbeatCh, busyCh, decisionSendCh)
	require.NoError(t, err)

	return o, decisionCh, heartbeatCh, busyCh, decisionSendCh
}

func TestOrchestrator_FindSlotRoundRobinsAcrossConnections(t *testing.T) {
	// Given
	o, _, _, _, _ := newTestOrchestrator(t, "trb-0", "trb-1")

	// When
	name1, _, ok1 := o.findSlot(dfmessages.TriggerDecision{TriggerNumber: 1})
	name2, _, ok2 := o.findSlot(dfmessages.TriggerDecision{TriggerNumber: 2})
	name3, _, ok3 := o.findSlot(dfmessages.TriggerDecision{TriggerNumber: 3})

	// Then
	require.True(t, ok1 && ok2 && ok3)
	require.NotEqual(t, name1, name2)
	require.Equal(t, name1, name3)
}

func TestOrchestrator_FindSlotSkipsConnectionsInError(t *testing.T) {
	// Given
	o, _, _, _, _ := newTestOrchestrator(t, "trb-0", "trb-1")
	o.states["trb-0"].SetInError(true)

	// When
	name, _, ok := o.findSlot(dfmessages.TriggerDecision{TriggerNumber: 1})

	// Then
	require.True(t, ok)
	require.Equal(t, "trb-1", name)
}

func TestOrchestrator_FindSlotFailsWhenAllInError(t *testing.T) {
	o, _, _, _, _ := newTestOrchestrator(t, "trb-0")
	o.states["trb-0"].SetInError(true)

	_, _, ok := o.findSlot(dfmessages.TriggerDecision{TriggerNumber: 1})
	require.False(t, ok)
}

func TestOrchestrator_HandleDecisionDispatchesDFODecisionAndRecordsAssignment(t *testing.T) {
	// Given
	o, decisionCh, _, _, decisionSendCh := newTestOrchestrator(t, "trb-0")
	o.SetRunNumber(1)
	require.NoError(t, o.starting(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = o.running(ctx) }()

	// When
	require.NoError(t, decisionCh.Send(ctx, dfmessages.TriggerDecision{TriggerNumber: 5, RunNumber: 1}, time.Second))

	// Then
	forwarded, err := decisionSendCh.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, testDFOID, forwarded.DFOID)
	require.Equal(t, dfmessages.TriggerNumber(5), forwarded.Decision.TriggerNumber)
	require.Eventually(t, func() bool { return o.states["trb-0"].OutstandingCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestOrchestrator_DispatchPiggybacksAcknowledgedCompletions(t *testing.T) {
	// Given: trb-0 has a completion pending acknowledgement before any
	// decision is dispatched to it.
	o, decisionCh, _, _, decisionSendCh := newTestOrchestrator(t, "trb-0")
	o.SetRunNumber(1)
	o.states["trb-0"].UpdateAckList([]dfmessages.TriggerNumber{42})
	require.NoError(t, o.starting(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = o.running(ctx) }()

	// When
	require.NoError(t, decisionCh.Send(ctx, dfmessages.TriggerDecision{TriggerNumber: 6, RunNumber: 1}, time.Second))

	// Then
	forwarded, err := decisionSendCh.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, []dfmessages.TriggerNumber{42}, forwarded.AcknowledgedCompletion)

	// And the ack list has been drained: a second decision carries none.
	require.NoError(t, decisionCh.Send(ctx, dfmessages.TriggerDecision{TriggerNumber: 7, RunNumber: 1}, time.Second))
	forwarded2, err := decisionSendCh.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.Empty(t, forwarded2.AcknowledgedCompletion)
}

func TestOrchestrator_BusySignalIsEdgeTriggered(t *testing.T) {
	// Given: BusyThreshold 1 means a single assignment trips busy immediately.
	o, decisionCh, _, busyCh, _ := newTestOrchestrator(t, "trb-0")
	o.states["trb-0"] = builderstate.New(builderstate.Config{ConnectionName: "trb-0", BusyThreshold: 1, FreeThreshold: 1, LatencyWindow: 1000})
	o.SetRunNumber(1)
	require.NoError(t, o.starting(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = o.running(ctx) }()

	// When
	require.NoError(t, decisionCh.Send(ctx, dfmessages.TriggerDecision{TriggerNumber: 1, RunNumber: 1}, time.Second))

	// Then: exactly one busy=true notification, no duplicate
	msg, err := busyCh.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, msg.Busy)

	_, err = busyCh.Receive(ctx, 50*time.Millisecond)
	require.ErrorIs(t, err, endpoint.ErrTimeout)
}

func TestOrchestrator_HeartbeatCompletesAssignmentAndClearsError(t *testing.T) {
	// Given
	o, decisionCh, heartbeatCh, _, decisionSendCh := newTestOrchestrator(t, "trb-0")
	o.SetRunNumber(1)
	require.NoError(t, o.starting(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = o.running(ctx) }()

	require.NoError(t, decisionCh.Send(ctx, dfmessages.TriggerDecision{TriggerNumber: 1, RunNumber: 1}, time.Second))
	_, err := decisionSendCh.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return o.states["trb-0"].OutstandingCount() == 1 }, time.Second, 5*time.Millisecond)

	o.states["trb-0"].SetInError(true)

	// When
	require.NoError(t, heartbeatCh.Send(ctx, dfmessages.DataflowHeartbeat{
		RunNumber:           1,
		DecisionDestination: "trb-0",
		RecentlyCompleted:   []dfmessages.TriggerNumber{1},
	}, time.Second))

	// Then: the assignment completed and the connection's error is cleared.
	require.Eventually(t, func() bool { return o.states["trb-0"].OutstandingCount() == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !o.states["trb-0"].IsInError() }, time.Second, 5*time.Millisecond)

	// And trigger number 1 is now queued for the next dispatch's
	// acknowledgement piggyback.
	require.Eventually(t, func() bool {
		return len(o.states["trb-0"].ExtractAckList()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestOrchestrator_HeartbeatHotPlugsUnknownDestination(t *testing.T) {
	// Given: no connections configured at all.
	o, _, heartbeatCh, _, _ := newTestOrchestrator(t)
	o.SetRunNumber(1)
	require.NoError(t, o.starting(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = o.running(ctx) }()

	// When
	require.NoError(t, heartbeatCh.Send(ctx, dfmessages.DataflowHeartbeat{
		RunNumber:           1,
		DecisionDestination: "dfo-broker",
	}, time.Second))

	// Then
	require.Eventually(t, func() bool {
		_, ok := o.State("dfo-broker")
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestOrchestrator_HeartbeatRunMismatchIsDropped(t *testing.T) {
	// Given
	o, _, heartbeatCh, _, _ := newTestOrchestrator(t, "trb-0")
	o.SetRunNumber(1)
	o.states["trb-0"].UpdateAckList(nil)
	require.NoError(t, o.starting(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = o.running(ctx) }()

	// When: a heartbeat from a stale run should not mark trb-0 complete.
	require.NoError(t, heartbeatCh.Send(ctx, dfmessages.DataflowHeartbeat{
		RunNumber:           9,
		DecisionDestination: "trb-0",
		RecentlyCompleted:   []dfmessages.TriggerNumber{1},
	}, time.Second))

	// Then: no completion is recorded (ack list stays empty).
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, o.states["trb-0"].ExtractAckList())
}

func TestOrchestrator_StoppingFlushesOutstandingAsIncomplete(t *testing.T) {
	// Given
	o, decisionCh, _, _, decisionSendCh := newTestOrchestrator(t, "trb-0")
	o.SetRunNumber(1)
	require.NoError(t, o.starting(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = o.running(ctx) }()

	require.NoError(t, decisionCh.Send(ctx, dfmessages.TriggerDecision{TriggerNumber: 3, RunNumber: 1}, time.Second))
	_, err := decisionSendCh.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return o.states["trb-0"].OutstandingCount() == 1 }, time.Second, 5*time.Millisecond)

	// When
	require.NoError(t, o.stopping(nil))

	// Then: stopping flushed the still-outstanding assignment.
	require.Equal(t, 0, o.states["trb-0"].OutstandingCount())
}

func TestOrchestrator_StatusHandlerRendersOneRowPerConnection(t *testing.T) {
	// Given
	o, decisionCh, _, _, decisionSendCh := newTestOrchestrator(t, "trb-0", "trb-1")
	o.SetRunNumber(1)
	require.NoError(t, o.starting(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = o.running(ctx) }()

	require.NoError(t, decisionCh.Send(ctx, dfmessages.TriggerDecision{TriggerNumber: 1, RunNumber: 1}, time.Second))
	_, err := decisionSendCh.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return o.states["trb-0"].OutstandingCount() == 1 }, time.Second, 5*time.Millisecond)

	// When
	rec := httptest.NewRecorder()
	o.StatusHandler(rec, httptest.NewRequest(http.MethodGet, "/status/dfo", nil))

	// Then
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "trb-0")
	require.Contains(t, body, "trb-1")
	require.Contains(t, body, "avg_latency_1m")
}
