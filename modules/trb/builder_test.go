package trb

import (
	"context"
	"testing"
	"time"

	"github.com/grafana/dskit/backoff"
	"github.com/stretchr/testify/require"

	"github.com/dunedaq/dfcore/pkg/dfmessages"
	"github.com/dunedaq/dfcore/pkg/endpoint"
)

func testConfig() Config {
	return Config{
		SelfSourceID:       dfmessages.SourceID{Subsystem: dfmessages.SubsystemTRBuilder, ID: 1},
		ReplyConnection:    "fragment_input",
		QueueTimeout:       time.Second,
		StaleCheckInterval: 10 * time.Millisecond,
		DispatchBackoff:    backoff.Config{MinBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, MaxRetries: 2},
	}
}

type testHarness struct {
	b            *Builder
	decisionCh   *endpoint.Chan[dfmessages.TriggerDecision]
	fragmentCh   *endpoint.Chan[dfmessages.Fragment]
	recordCh     *endpoint.Chan[dfmessages.TriggerRecord]
	dataReqChans map[dfmessages.SourceID]*endpoint.Chan[dfmessages.DataRequest]
}

func newHarness(t *testing.T, cfg Config, sourceIDs ...dfmessages.SourceID) *testHarness {
	t.Helper()

	decisionCh := endpoint.NewChan[dfmessages.TriggerDecision](4)
	fragmentCh := endpoint.NewChan[dfmessages.Fragment](4)
	recordCh := endpoint.NewChan[dfmessages.TriggerRecord](4)

	dataReqSenders := make(map[dfmessages.SourceID]endpoint.Sender[dfmessages.DataRequest])
	dataReqChans := make(map[dfmessages.SourceID]*endpoint.Chan[dfmessages.DataRequest])
	for _, sid := range sourceIDs {
		ch := endpoint.NewChan[dfmessages.DataRequest](4)
		dataReqSenders[sid] = ch
		dataReqChans[sid] = ch
	}

	b := New(cfg, decisionCh, fragmentCh, recordCh, dataReqSenders, nil, nil)
	return &testHarness{b: b, decisionCh: decisionCh, fragmentCh: fragmentCh, recordCh: recordCh, dataReqChans: dataReqChans}
}

func (h *testHarness) start(ctx context.Context, t *testing.T, run dfmessages.RunNumber) {
	t.Helper()
	h.b.SetRunNumber(run)
	require.NoError(t, h.b.starting(ctx))
	go func() { _ = h.b.running(ctx) }()
}

func TestBuilder_HandleDecisionCreatesSingleSequenceAndRequestsData(t *testing.T) {
	// Given: no MaxTimeWindow configured, so one decision becomes one sequence.
	src := dfmessages.SourceID{Subsystem: dfmessages.SubsystemDetectorReadout, ID: 1}
	h := newHarness(t, testConfig(), src)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.start(ctx, t, 1)

	// When
	decision := dfmessages.TriggerDecision{
		TriggerNumber: 7, RunNumber: 1, TriggerTimestamp: 100,
		Components: []dfmessages.ComponentRequest{{SourceID: src, WindowBegin: 0, WindowEnd: 100}},
	}
	require.NoError(t, h.decisionCh.Send(ctx, decision, time.Second))

	// Then
	req, err := h.dataReqChans[src].Receive(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, dfmessages.TriggerNumber(7), req.TriggerNumber)
	require.Equal(t, dfmessages.SequenceNumber(0), req.SequenceNumber)
	require.Eventually(t, func() bool { return h.b.Outstanding() == 1 }, time.Second, 5*time.Millisecond)
}

func TestBuilder_MaxTimeWindowSplitsIntoMultipleSequences(t *testing.T) {
	// Given: a 100-tick window with a 40-tick max window produces 3 sequences.
	src := dfmessages.SourceID{Subsystem: dfmessages.SubsystemDetectorReadout, ID: 1}
	cfg := testConfig()
	cfg.MaxTimeWindow = 40
	h := newHarness(t, cfg, src)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.start(ctx, t, 1)

	decision := dfmessages.TriggerDecision{
		TriggerNumber: 1, RunNumber: 1,
		Components: []dfmessages.ComponentRequest{{SourceID: src, WindowBegin: 0, WindowEnd: 100}},
	}
	require.NoError(t, h.decisionCh.Send(ctx, decision, time.Second))

	require.Eventually(t, func() bool { return h.b.Outstanding() == 3 }, time.Second, 5*time.Millisecond)
}

func TestBuilder_FragmentCompletesAndEmitsRecord(t *testing.T) {
	// Given
	src := dfmessages.SourceID{Subsystem: dfmessages.SubsystemDetectorReadout, ID: 1}
	h := newHarness(t, testConfig(), src)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.start(ctx, t, 1)

	decision := dfmessages.TriggerDecision{
		TriggerNumber: 9, RunNumber: 1,
		Components: []dfmessages.ComponentRequest{{SourceID: src, WindowBegin: 0, WindowEnd: 100}},
	}
	require.NoError(t, h.decisionCh.Send(ctx, decision, time.Second))
	_, err := h.dataReqChans[src].Receive(ctx, time.Second)
	require.NoError(t, err)

	// When
	frag := dfmessages.Fragment{TriggerNumber: 9, SequenceNumber: 0, RunNumber: 1, ElementID: src}
	require.NoError(t, h.fragmentCh.Send(ctx, frag, time.Second))

	// Then
	record, err := h.recordCh.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, record.Complete())
	require.False(t, record.Incomplete())
	require.Eventually(t, func() bool { return h.b.Outstanding() == 0 }, time.Second, 5*time.Millisecond)
}

func TestBuilder_UnexpectedFragmentIsDropped(t *testing.T) {
	// Given: a fragment for an unknown trigger id
	src := dfmessages.SourceID{Subsystem: dfmessages.SubsystemDetectorReadout, ID: 1}
	h := newHarness(t, testConfig(), src)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.start(ctx, t, 1)

	// When
	frag := dfmessages.Fragment{TriggerNumber: 404, SequenceNumber: 0, RunNumber: 1, ElementID: src}
	require.NoError(t, h.fragmentCh.Send(ctx, frag, time.Second))

	// Then: nothing is emitted
	_, err := h.recordCh.Receive(ctx, 50*time.Millisecond)
	require.ErrorIs(t, err, endpoint.ErrTimeout)
}

func TestBuilder_DuplicateTriggerIDIsRejected(t *testing.T) {
	// Given: the book already holds trigger 1, sequence 0
	h := newHarness(t, testConfig())
	require.NoError(t, h.b.starting(context.Background()))
	id := dfmessages.TriggerID{TriggerNumber: 1, SequenceNumber: 0, RunNumber: 1}
	require.True(t, h.b.book.insert(id, dfmessages.TriggerRecord{}))

	// When
	ok := h.b.book.insert(id, dfmessages.TriggerRecord{})

	// Then
	require.False(t, ok)
}

func TestBuilder_UnexpectedRunNumberIsDropped(t *testing.T) {
	// Given
	h := newHarness(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.start(ctx, t, 1)

	// When: a decision for a different run
	decision := dfmessages.TriggerDecision{TriggerNumber: 1, RunNumber: 2, Components: []dfmessages.ComponentRequest{{WindowBegin: 0, WindowEnd: 10}}}
	require.NoError(t, h.decisionCh.Send(ctx, decision, time.Second))

	// Then
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, h.b.Outstanding())
}

func TestBuilder_StopDrainsIncompleteRecords(t *testing.T) {
	// Given: a decision with a component whose fragment never arrives
	src := dfmessages.SourceID{Subsystem: dfmessages.SubsystemDetectorReadout, ID: 1}
	h := newHarness(t, testConfig(), src)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.start(ctx, t, 1)

	decision := dfmessages.TriggerDecision{
		TriggerNumber: 3, RunNumber: 1,
		Components: []dfmessages.ComponentRequest{{SourceID: src, WindowBegin: 0, WindowEnd: 10}},
	}
	require.NoError(t, h.decisionCh.Send(ctx, decision, time.Second))
	_, err := h.dataReqChans[src].Receive(ctx, time.Second)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.b.Outstanding() == 1 }, time.Second, 5*time.Millisecond)

	// When
	require.NoError(t, h.b.stopping(nil))

	// Then
	record, err := h.recordCh.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, record.Incomplete())
	require.Equal(t, 0, h.b.Outstanding())
}
