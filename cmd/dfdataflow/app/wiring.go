package app

import (
	"context"
	"fmt"
	"time"

	"github.com/dunedaq/dfcore/modules/datawriter"
	"github.com/dunedaq/dfcore/modules/dfo"
	"github.com/dunedaq/dfcore/modules/dfobroker"
	"github.com/dunedaq/dfcore/modules/storage/local"
	"github.com/dunedaq/dfcore/modules/trb"
	"github.com/dunedaq/dfcore/pkg/dfmessages"
	"github.com/dunedaq/dfcore/pkg/endpoint"
)

// monitoringDestination is the one monitoring-copy destination name this
// process resolves TRMonRequest.DataDestination against; a harness observes
// copies on App.MonitoringRecordOutput. The original lets a request name any
// registered connection, but a single-process demo only ever has the one.
const monitoringDestination = "monitoring"

// connections holds the in-memory endpoints built once in wireConnections
// but not needed until Start constructs the per-run TP Bundle Handler
// service (modules.go's initTPBundleHandler).
type connections struct {
	tpsetRecv  endpoint.Receiver[dfmessages.TPSet]
	tsliceSend endpoint.Sender[dfmessages.TimeSlice]
}

// wireConnections builds every named connection of spec.md §6 as an
// in-memory pkg/endpoint.Chan or Topic and constructs every component
// around them, mirroring cmd/tempo/app/modules.go's initDistributor /
// initIngester style of direct construction, but done eagerly here since
// none of these connections carry their own lifecycle (only the components
// using them do, via the module manager built next in setupModuleManager).
func (t *App) wireConnections() {
	cfg := t.cfg
	bufSize := cfg.ConnectionQueueSize

	// trigger_decision (source leg): external TriggerSource -> DFO, direct
	// (spec.md §6; a single-DFO process has no other DFO to multiplex
	// between, so the DFO consumes it straight from the harness rather than
	// via the broker).
	tdToDFO := endpoint.NewChan[dfmessages.TriggerDecision](bufSize)
	t.TriggerDecisionInput = tdToDFO

	// dfo_decision: DFO -> Broker (spec.md §6; confirmed against the
	// original's get_acknowledgements/dispatch, which piggybacks completions
	// onto exactly this message before handing it to the broker).
	dfoDecisionChan := endpoint.NewChan[dfmessages.DFODecision](bufSize)

	// token: DataWriter -> Broker only (spec.md §6); the DFO learns of
	// completions via the broker's heartbeat republication, not a direct
	// token feed (see modules/dfo/orchestrator.go's handleHeartbeat).
	tokenChan := endpoint.NewChan[dfmessages.TriggerDecisionToken](bufSize)

	// trigger_decision (broker leg): Broker -> TRB, the single downstream
	// connection (spec.md §4.2's "Outputs: TriggerDecision to the single
	// downstream TRB connection").
	brokerToTRB := endpoint.NewChan[dfmessages.TriggerDecision](bufSize)

	// heartbeat: Broker -> DFO(s), pub/sub; also exposed externally since
	// this process runs only one live Orchestrator.
	heartbeatTopic := endpoint.NewTopic[dfmessages.DataflowHeartbeat]()
	heartbeatSend := endpoint.SenderFunc[dfmessages.DataflowHeartbeat](
		func(ctx context.Context, msg dfmessages.DataflowHeartbeat, timeout time.Duration) error {
			heartbeatTopic.Publish(ctx, msg, timeout)
			return nil
		})
	dfoHeartbeatRecv := heartbeatTopic.Subscribe(bufSize)
	t.HeartbeatOutput = heartbeatTopic.Subscribe(bufSize)

	t.broker = dfobroker.New(cfg.DFOBroker, cfg.DFOIDs, tokenChan, dfoDecisionChan, heartbeatSend, brokerToTRB)

	// trigger_inhibit: DFO -> external trigger-throttling consumer.
	busyChan := endpoint.NewChan[dfmessages.TriggerInhibit](bufSize)
	t.TriggerInhibitOutput = busyChan

	orchestrator, err := dfo.New(cfg.DFO, cfg.DFOIDs[0], tdToDFO, dfoHeartbeatRecv, busyChan, dfoDecisionChan)
	if err != nil {
		// cfg.DFO is validated by RegisterFlagsAndApplyDefaults defaults plus
		// whatever a config file overrides; a malformed connection list is a
		// startup-time operator error, not a recoverable condition here.
		panic(fmt.Sprintf("invalid dataflow orchestrator configuration: %v", err))
	}
	t.orchestrator = orchestrator

	// data_request / fragment_input: TRB -> synthesized DetectorReadout
	// producers, and producers -> TRB, both exposed for a harness to drive
	// (spec.md Non-goals: detector readout is out of scope).
	dataReqSenders := make(map[dfmessages.SourceID]endpoint.Sender[dfmessages.DataRequest], cfg.NumProducers)
	t.DataRequestOutputs = make(map[dfmessages.SourceID]endpoint.Receiver[dfmessages.DataRequest], cfg.NumProducers)
	for i := 0; i < cfg.NumProducers; i++ {
		id := dfmessages.SourceID{Subsystem: dfmessages.SubsystemDetectorReadout, ID: uint32(i)}
		ch := endpoint.NewChan[dfmessages.DataRequest](bufSize)
		dataReqSenders[id] = ch
		t.DataRequestOutputs[id] = ch
	}

	fragmentChan := endpoint.NewChan[dfmessages.Fragment](bufSize)
	t.FragmentInput = fragmentChan

	// trigger_record: TRB -> DataWriter.
	recordChan := endpoint.NewChan[dfmessages.TriggerRecord](bufSize)

	// mon_request / monitoring copy: external -> TRB, TRB -> external.
	monReqChan := endpoint.NewChan[dfmessages.TRMonRequest](bufSize)
	t.MonitoringRequestInput = monReqChan
	monRecordChan := endpoint.NewChan[dfmessages.TriggerRecord](bufSize)
	t.MonitoringRecordOutput = monRecordChan
	monResolver := trb.MonitoringSenderResolver(func(name string) (endpoint.Sender[dfmessages.TriggerRecord], bool) {
		if name == monitoringDestination {
			return monRecordChan, true
		}
		return nil, false
	})

	t.builder = trb.New(cfg.TRB, brokerToTRB, fragmentChan, recordChan, dataReqSenders, monReqChan, monResolver)

	// tpset_input / timeslice: external TP source -> TPBundleHandler ->
	// DataWriter. The Handler itself is constructed per-run (it bakes in
	// the run number), so only the connections are built here; see
	// modules.go's initTPBundleHandler and App.Start.
	tpsetChan := endpoint.NewChan[dfmessages.TPSet](bufSize)
	t.TPSetInput = tpsetChan
	tsliceChan := endpoint.NewChan[dfmessages.TimeSlice](bufSize)
	t.conns = &connections{tpsetRecv: tpsetChan, tsliceSend: tsliceChan}

	sink, err := local.New(cfg.Storage)
	if err != nil {
		panic(fmt.Sprintf("invalid storage configuration: %v", err))
	}
	t.sink = sink

	t.writer = datawriter.New(cfg.DataWriter, recordChan, tsliceChan, tokenChan, t.sink)
}
