package trb

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
	"github.com/grafana/dskit/services"
	"go.uber.org/atomic"

	"github.com/dunedaq/dfcore/pkg/dferrors"
	"github.com/dunedaq/dfcore/pkg/dfmessages"
	"github.com/dunedaq/dfcore/pkg/endpoint"
	"github.com/dunedaq/dfcore/pkg/util/log"
)

// MonitoringSenderResolver looks up the typed output connection a
// TRMonRequest asked its copy sent to. TRMonRequest.DataDestination is
// chosen per-request by the requester, so the resolver stands in for the
// original's ad hoc iomanager::IOManager::get()->get_sender(name) lookup.
type MonitoringSenderResolver func(connectionName string) (endpoint.Sender[dfmessages.TriggerRecord], bool)

// Builder is the Trigger Record Builder of spec.md §4.5. It slices each
// TriggerDecision into sequences, requests the matching Fragments, and
// assembles and emits completed (or timed-out, or drained) TriggerRecords.
type Builder struct {
	services.Service

	cfg Config

	decisionRecv   endpoint.Receiver[dfmessages.TriggerDecision]
	fragmentRecv   endpoint.Receiver[dfmessages.Fragment]
	recordSend     endpoint.Sender[dfmessages.TriggerRecord]
	dataReqSenders map[dfmessages.SourceID]endpoint.Sender[dfmessages.DataRequest]

	monRecv     endpoint.Receiver[dfmessages.TRMonRequest]
	monResolver MonitoringSenderResolver

	runNumber atomic.Uint64
	book      *book

	monMu       sync.Mutex
	monRequests []dfmessages.TRMonRequest

	receivedTriggerDecisions atomic.Uint64
	generatedTriggerRecords  atomic.Uint64
	generatedDataRequests    atomic.Uint64
}

// New creates a Builder. dataReqSenders must have one entry per source id
// the TRB will ever be asked to request data from; monRecv/monResolver may
// both be nil to disable the monitoring-copy path.
func New(cfg Config,
	decisionRecv endpoint.Receiver[dfmessages.TriggerDecision],
	fragmentRecv endpoint.Receiver[dfmessages.Fragment],
	recordSend endpoint.Sender[dfmessages.TriggerRecord],
	dataReqSenders map[dfmessages.SourceID]endpoint.Sender[dfmessages.DataRequest],
	monRecv endpoint.Receiver[dfmessages.TRMonRequest],
	monResolver MonitoringSenderResolver,
) *Builder {
	b := &Builder{
		cfg:            cfg,
		decisionRecv:   decisionRecv,
		fragmentRecv:   fragmentRecv,
		recordSend:     recordSend,
		dataReqSenders: dataReqSenders,
		monRecv:        monRecv,
		monResolver:    monResolver,
		book:           newBook(),
	}
	b.Service = services.NewBasicService(b.starting, b.running, b.stopping)
	return b
}

func (b *Builder) starting(_ context.Context) error {
	b.book = newBook()
	b.monMu.Lock()
	b.monRequests = nil
	b.monMu.Unlock()
	return nil
}

func (b *Builder) running(ctx context.Context) error {
	level.Info(log.Logger).Log("msg", "trb running", "source_id", b.cfg.SelfSourceID.String())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.decisionLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		b.fragmentLoop(ctx)
	}()

	if b.monRecv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.monLoop(ctx)
		}()
	}

	if b.cfg.TriggerTimeout > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.staleLoop(ctx)
		}()
	}

	wg.Wait()
	return nil
}

// stopping drains every outstanding TriggerRecord, marking it incomplete if
// it is missing fragments, matching the original's post-loop drain phase.
func (b *Builder) stopping(_ error) error {
	ctx := context.Background()
	ids := b.book.allIDs()
	level.Info(log.Logger).Log("msg", "trb draining", "outstanding", len(ids))
	for _, id := range ids {
		b.finalizeAndSend(ctx, id)
	}
	level.Info(log.Logger).Log("msg", "trb stopped")
	return nil
}

// SetRunNumber sets the run number used to validate incoming decisions.
func (b *Builder) SetRunNumber(run dfmessages.RunNumber) {
	b.runNumber.Store(uint64(run))
}

func (b *Builder) decisionLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		decision, err := b.decisionRecv.Receive(ctx, b.cfg.QueueTimeout)
		if err != nil {
			continue
		}
		b.handleDecision(ctx, decision)
		b.refreshBookGauges()
	}
}

func (b *Builder) fragmentLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		frag, err := b.fragmentRecv.Receive(ctx, b.cfg.QueueTimeout)
		if err != nil {
			continue
		}
		b.handleFragment(ctx, frag)
		b.refreshBookGauges()
	}
}

func (b *Builder) monLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		req, err := b.monRecv.Receive(ctx, b.cfg.QueueTimeout)
		if err != nil {
			continue
		}
		b.monMu.Lock()
		b.monRequests = append(b.monRequests, req)
		b.monMu.Unlock()
	}
}

// staleLoop periodically force-emits any TriggerRecord that has been
// outstanding longer than cfg.TriggerTimeout, mirroring check_stale_requests.
func (b *Builder) staleLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.StaleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range b.book.staleIDs(b.cfg.TriggerTimeout) {
				level.Warn(log.Logger).Log("msg", string(dferrors.IssueTimedOutTriggerDecision), "trigger_id", id.String())
				metricTimedOutTriggerRecordsTotal.Inc()
				b.finalizeAndSend(ctx, id)
			}
			b.refreshBookGauges()
		}
	}
}

// handleDecision validates the run number, then slices td into sequences
// per spec.md §4.5's decision-ingestion algorithm.
func (b *Builder) handleDecision(ctx context.Context, td dfmessages.TriggerDecision) {
	if td.RunNumber != dfmessages.RunNumber(b.runNumber.Load()) {
		level.Warn(log.Logger).Log("msg", string(dferrors.IssueUnexpectedTriggerDecision),
			"trigger_number", td.TriggerNumber, "decision_run", td.RunNumber, "current_run", b.runNumber.Load())
		metricUnexpectedTriggerDecisionsTotal.Inc()
		return
	}
	b.receivedTriggerDecisions.Inc()
	metricReceivedTriggerDecisionsTotal.Inc()

	begin, end := td.Span()
	width := int64(end) - int64(begin)

	var maxSequence dfmessages.SequenceNumber
	if b.cfg.MaxTimeWindow > 0 && width > 0 {
		maxSequence = dfmessages.SequenceNumber((width - 1) / int64(b.cfg.MaxTimeWindow))
	}

	for seq := dfmessages.SequenceNumber(0); seq <= maxSequence; seq++ {
		sliceBegin := begin + dfmessages.Timestamp(uint64(seq))*b.cfg.MaxTimeWindow
		sliceEnd := end
		if b.cfg.MaxTimeWindow > 0 {
			candidate := sliceBegin + b.cfg.MaxTimeWindow
			if candidate < end {
				sliceEnd = candidate
			}
		}

		var sliceComponents []dfmessages.ComponentRequest
		for _, c := range td.Components {
			if !c.Intersects(sliceBegin, sliceEnd) {
				continue
			}
			sliceComponents = append(sliceComponents, c.Clamp(sliceBegin, sliceEnd))
		}

		id := dfmessages.TriggerID{TriggerNumber: td.TriggerNumber, SequenceNumber: seq, RunNumber: td.RunNumber}
		record := dfmessages.TriggerRecord{
			Header: dfmessages.TriggerRecordHeader{
				TriggerNumber:     td.TriggerNumber,
				SequenceNumber:    seq,
				MaxSequenceNumber: maxSequence,
				RunNumber:         td.RunNumber,
				TriggerTimestamp:  td.TriggerTimestamp,
				TriggerType:       td.TriggerType,
				ElementID:         b.cfg.SelfSourceID,
			},
			Requested: sliceComponents,
		}

		if !b.book.insert(id, record) {
			level.Error(log.Logger).Log("msg", string(dferrors.IssueDuplicatedTriggerDecision), "trigger_id", id.String())
			metricDuplicatedTriggerIDsTotal.Inc()
			continue
		}

		for _, component := range sliceComponents {
			req := dfmessages.DataRequest{
				TriggerNumber:    td.TriggerNumber,
				SequenceNumber:   seq,
				RunNumber:        td.RunNumber,
				TriggerTimestamp: td.TriggerTimestamp,
				ReadoutType:      td.ReadoutType,
				Component:        component,
				DataDestination:  b.cfg.ReplyConnection,
			}
			b.dispatchDataRequest(ctx, req, component.SourceID)
		}
	}
}

// dispatchDataRequest sends req to the sender configured for sourceID, with
// bounded retry on transient failures.
func (b *Builder) dispatchDataRequest(ctx context.Context, req dfmessages.DataRequest, sourceID dfmessages.SourceID) {
	sender, ok := b.dataReqSenders[sourceID]
	if !ok {
		level.Error(log.Logger).Log("msg", string(dferrors.IssueDRSenderLookupFailed), "source_id", sourceID.String(),
			"trigger_number", req.TriggerNumber, "sequence_number", req.SequenceNumber)
		metricInvalidRequestsTotal.Inc()
		return
	}

	bo := backoff.New(ctx, b.cfg.DispatchBackoff)
	for bo.Ongoing() {
		if err := sender.Send(ctx, req, b.cfg.QueueTimeout); err == nil {
			metricGeneratedDataRequestsTotal.Inc()
			b.generatedDataRequests.Inc()
			return
		}
		bo.Wait()
	}
	level.Warn(log.Logger).Log("msg", "failed to send data request after retries", "source_id", sourceID.String())
}

// handleFragment folds frag into its TriggerRecord and emits the record
// once every requested component has arrived.
func (b *Builder) handleFragment(ctx context.Context, frag dfmessages.Fragment) {
	id := frag.TriggerID()
	accepted, complete := b.book.addFragment(id, frag)
	if !accepted {
		level.Warn(log.Logger).Log("msg", string(dferrors.IssueUnexpectedFragment), "trigger_id", id.String(),
			"fragment_type", frag.FragmentType, "source_id", frag.ElementID.String())
		metricUnexpectedFragmentsTotal.Inc()
		return
	}
	if complete {
		b.finalizeAndSend(ctx, id)
	}
}

// finalizeAndSend extracts id's record, marks it incomplete if it is
// missing fragments, sends a monitoring copy if requested, and dispatches
// it downstream; a failed dispatch is recorded as abandoned rather than
// retried indefinitely (same bounded-retry substitution as dispatch() in
// modules/dfo).
func (b *Builder) finalizeAndSend(ctx context.Context, id dfmessages.TriggerID) {
	record, createdAt, ok := b.book.extract(id)
	if !ok {
		return
	}
	metricDataWaitingTimeSeconds.Observe(time.Since(createdAt).Seconds())

	missing := len(record.Requested) - len(record.Fragments)
	if missing > 0 {
		record.Header.ErrorBits |= uint32(dfmessages.ErrBitIncomplete)
		metricLostFragmentsTotal.Add(float64(missing))
	}

	b.sendMonitoringCopy(ctx, record)

	if b.dispatchTriggerRecord(ctx, record) {
		b.generatedTriggerRecords.Inc()
		metricGeneratedTriggerRecordsTotal.Inc()
		return
	}

	level.Error(log.Logger).Log("msg", string(dferrors.IssueAbandonedTriggerDecision), "trigger_id", id.String())
	metricAbandonedTriggerRecordsTotal.Inc()
	metricLostFragmentsTotal.Add(float64(len(record.Fragments)))
}

func (b *Builder) dispatchTriggerRecord(ctx context.Context, record dfmessages.TriggerRecord) bool {
	bo := backoff.New(ctx, b.cfg.DispatchBackoff)
	for bo.Ongoing() {
		if err := b.recordSend.Send(ctx, record, b.cfg.QueueTimeout); err == nil {
			return true
		}
		bo.Wait()
	}
	return false
}

// sendMonitoringCopy sends record to every outstanding TRMonRequest whose
// trigger type matches, best-effort, then discards those requests — a
// monitoring request is consumed whether or not its copy was deliverable,
// matching the original's unconditional m_mon_requests.erase(it).
func (b *Builder) sendMonitoringCopy(ctx context.Context, record dfmessages.TriggerRecord) {
	if b.monResolver == nil {
		return
	}

	b.monMu.Lock()
	var remaining []dfmessages.TRMonRequest
	var matched []dfmessages.TRMonRequest
	for _, req := range b.monRequests {
		if req.TriggerType == record.Header.TriggerType {
			matched = append(matched, req)
		} else {
			remaining = append(remaining, req)
		}
	}
	b.monRequests = remaining
	b.monMu.Unlock()

	for _, req := range matched {
		sender, ok := b.monResolver(req.DataDestination)
		if !ok {
			level.Warn(log.Logger).Log("msg", "no sender for monitoring destination", "destination", req.DataDestination)
			continue
		}
		if err := sender.Send(ctx, record, b.cfg.QueueTimeout); err != nil {
			level.Warn(log.Logger).Log("msg", "failed to send monitoring copy", "destination", req.DataDestination, "err", err)
		}
	}
}

func (b *Builder) refreshBookGauges() {
	metricPendingTriggerRecords.Set(float64(b.book.len()))
	metricPendingFragments.Set(float64(b.book.pendingFragments()))
}

// Outstanding reports how many TriggerRecords are currently in the book, for
// introspection and testing.
func (b *Builder) Outstanding() int { return b.book.len() }
