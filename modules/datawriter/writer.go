package datawriter

import (
	"context"
	"errors"
	"sync"

	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
	"github.com/grafana/dskit/services"
	"go.uber.org/atomic"

	"github.com/dunedaq/dfcore/modules/storage"
	"github.com/dunedaq/dfcore/pkg/dferrors"
	"github.com/dunedaq/dfcore/pkg/dfmessages"
	"github.com/dunedaq/dfcore/pkg/endpoint"
	"github.com/dunedaq/dfcore/pkg/util/log"
)

// Writer is the Data Writer of spec.md §4.6, grounded on DataWriterModule.
type Writer struct {
	services.Service

	cfg        Config
	recordRecv endpoint.Receiver[dfmessages.TriggerRecord]
	tsliceRecv endpoint.Receiver[dfmessages.TimeSlice]
	tokenSend  endpoint.Sender[dfmessages.TriggerDecisionToken]
	sink       storage.Sink

	runNumber      atomic.Uint64
	runIsForTest   atomic.Bool
	storageEnabled atomic.Bool

	recordsReceivedTotal atomic.Uint64
	recordsWrittenTotal  atomic.Uint64

	seqMu       sync.Mutex
	seqnoCounts map[dfmessages.TriggerNumber]dfmessages.SequenceNumber
}

// New creates a Writer. sink may be nil only if every run is started with
// storage disabled. tsliceRecv may be nil if this Writer is not wired to
// the timeslice connection (spec.md §6: TPBundleHandler -> DataWriter).
func New(cfg Config, recordRecv endpoint.Receiver[dfmessages.TriggerRecord],
	tsliceRecv endpoint.Receiver[dfmessages.TimeSlice],
	tokenSend endpoint.Sender[dfmessages.TriggerDecisionToken], sink storage.Sink) *Writer {

	w := &Writer{
		cfg:        cfg,
		recordRecv: recordRecv,
		tsliceRecv: tsliceRecv,
		tokenSend:  tokenSend,
		sink:       sink,
	}
	w.Service = services.NewBasicService(w.starting, w.running, w.stopping)
	return w
}

// SetRunParams configures the run this Writer is about to serve, mirroring
// do_start's reading of StartParams{run, production_vs_test, disable_data_storage}.
func (w *Writer) SetRunParams(run dfmessages.RunNumber, isForTest, storageEnabled bool) {
	w.runNumber.Store(uint64(run))
	w.runIsForTest.Store(isForTest)
	w.storageEnabled.Store(storageEnabled)
}

func (w *Writer) starting(ctx context.Context) error {
	w.seqMu.Lock()
	w.seqnoCounts = make(map[dfmessages.TriggerNumber]dfmessages.SequenceNumber)
	w.seqMu.Unlock()
	w.recordsReceivedTotal.Store(0)
	w.recordsWrittenTotal.Store(0)

	level.Debug(log.Logger).Log("msg", "sending initial announce token")
	announce := dfmessages.TriggerDecisionToken{RunNumber: 0, TriggerNumber: 0, ReplyTo: w.cfg.ReplyConnection}
	w.sendToken(ctx, announce, w.cfg.AnnounceBackoff)

	if w.storageEnabled.Load() {
		if w.sink == nil {
			return dferrors.New(dferrors.IssueInvalidOperationMode, "storage enabled for this run but no sink is configured")
		}
		if err := w.sink.PrepareForRun(dfmessages.RunNumber(w.runNumber.Load()), w.runIsForTest.Load()); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) running(ctx context.Context) error {
	level.Info(log.Logger).Log("msg", "data writer running", "run_number", w.runNumber.Load())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.recordLoop(ctx)
	}()

	if w.tsliceRecv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.tsliceLoop(ctx)
		}()
	}

	wg.Wait()
	return nil
}

func (w *Writer) stopping(_ error) error {
	if w.storageEnabled.Load() && w.sink != nil {
		if err := w.sink.FinishWithRun(dfmessages.RunNumber(w.runNumber.Load())); err != nil {
			level.Error(log.Logger).Log("msg", string(dferrors.IssueProblemDuringStop), "err", err)
		}
	}
	level.Info(log.Logger).Log("msg", "data writer stopped")
	return nil
}

func (w *Writer) recordLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		tr, err := w.recordRecv.Receive(ctx, w.cfg.QueueTimeout)
		if err != nil {
			continue
		}
		w.handleRecord(ctx, tr)
	}
}

func (w *Writer) tsliceLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		ts, err := w.tsliceRecv.Receive(ctx, w.cfg.QueueTimeout)
		if err != nil {
			continue
		}
		w.handleTimeSlice(ctx, ts)
	}
}

// handleTimeSlice writes a TimeSlice through the sink with the same
// run-number validation and growing-backoff retry as a TriggerRecord, minus
// the completion-token/sequence-aggregation machinery: time slices do not
// close the DFO credit loop (spec.md §6).
func (w *Writer) handleTimeSlice(ctx context.Context, ts dfmessages.TimeSlice) {
	if ts.RunNumber != dfmessages.RunNumber(w.runNumber.Load()) {
		level.Error(log.Logger).Log("msg", string(dferrors.IssueInvalidRunNumber), "received_run", ts.RunNumber,
			"current_run", w.runNumber.Load(), "slice_number", ts.SliceNumber)
		metricUnexpectedRunNumberTotal.Inc()
		return
	}
	if !w.storageEnabled.Load() {
		return
	}

	b := backoff.New(ctx, w.cfg.WriteRetryBackoff)
	for b.Ongoing() {
		err := w.sink.WriteTimeSlice(ts)
		if err == nil {
			metricTimeSlicesWrittenTotal.Inc()
			return
		}

		var dfErr *dferrors.Error
		if errors.As(err, &dfErr) && dfErr.Kind == dferrors.KindIgnorable {
			level.Warn(log.Logger).Log("msg", "ignoring storage problem", "err", err)
			metricIgnoredWritesTotal.Inc()
			return
		}

		level.Error(log.Logger).Log("msg", "time slice write failed", "slice_number", ts.SliceNumber,
			"run_number", ts.RunNumber, "err", err)
		metricWriteRetriesTotal.Inc()
		b.Wait()
	}
}

// handleRecord mirrors DataWriterModule::receive_trigger_record: count,
// validate run number, prescale, write-with-retry, then the sequence-number
// aggregation that gates sending a completion token.
func (w *Writer) handleRecord(ctx context.Context, tr dfmessages.TriggerRecord) {
	receivedCount := w.recordsReceivedTotal.Inc()
	metricRecordsReceivedTotal.Inc()

	if tr.Header.RunNumber != dfmessages.RunNumber(w.runNumber.Load()) {
		level.Error(log.Logger).Log("msg", string(dferrors.IssueInvalidRunNumber), "received_run", tr.Header.RunNumber,
			"current_run", w.runNumber.Load(), "trigger_number", tr.Header.TriggerNumber)
		metricUnexpectedRunNumberTotal.Inc()
		return
	}

	shouldWrite := w.cfg.DataStoragePrescale <= 1 || (receivedCount%w.cfg.DataStoragePrescale == 1)
	if shouldWrite && w.storageEnabled.Load() {
		w.writeWithRetry(ctx, tr)
	}

	w.maybeSendCompletionToken(ctx, tr)
}

// writeWithRetry retries sink writes with growing backoff while the run is
// going (spec.md §4.6 step 4), ignoring IssueTimeSliceAlreadyExists-class
// problems and logging IssueRetryableDataStoreProblem-class ones per attempt.
func (w *Writer) writeWithRetry(ctx context.Context, tr dfmessages.TriggerRecord) {
	b := backoff.New(ctx, w.cfg.WriteRetryBackoff)
	for b.Ongoing() {
		err := w.sink.WriteTriggerRecord(tr)
		if err == nil {
			w.recordsWrittenTotal.Inc()
			metricRecordsWrittenTotal.Inc()
			var payloadBytes int
			for _, frag := range tr.Fragments {
				payloadBytes += len(frag.Payload)
			}
			metricBytesWrittenTotal.Add(float64(payloadBytes))
			return
		}

		var dfErr *dferrors.Error
		if errors.As(err, &dfErr) && dfErr.Kind == dferrors.KindIgnorable {
			level.Warn(log.Logger).Log("msg", "ignoring storage problem", "err", err)
			metricIgnoredWritesTotal.Inc()
			return
		}

		level.Error(log.Logger).Log("msg", "trigger record write failed", "trigger_number", tr.Header.TriggerNumber,
			"sequence_number", tr.Header.SequenceNumber, "run_number", tr.Header.RunNumber, "err", err)
		metricWriteRetriesTotal.Inc()
		b.Wait()
	}
}

// maybeSendCompletionToken implements the sequence aggregation of spec.md
// §4.6 step 5: only once every sequence of a trigger has been seen does a
// TriggerDecisionToken go out, and the counter is erased at that point so
// premature extra sequences cannot resurrect it.
func (w *Writer) maybeSendCompletionToken(ctx context.Context, tr dfmessages.TriggerRecord) {
	trigno := tr.Header.TriggerNumber
	sendToken := true

	if tr.Header.MaxSequenceNumber > 0 {
		w.seqMu.Lock()
		w.seqnoCounts[trigno]++
		if w.seqnoCounts[trigno] > tr.Header.MaxSequenceNumber {
			delete(w.seqnoCounts, trigno)
		} else {
			sendToken = false
		}
		w.seqMu.Unlock()
	}

	if !sendToken {
		return
	}

	token := dfmessages.TriggerDecisionToken{
		RunNumber: tr.Header.RunNumber, TriggerNumber: trigno, ReplyTo: w.cfg.ReplyConnection,
	}
	w.sendToken(ctx, token, w.cfg.TokenSendBackoff)
}

func (w *Writer) sendToken(ctx context.Context, token dfmessages.TriggerDecisionToken, cfg backoff.Config) {
	b := backoff.New(ctx, cfg)
	for b.Ongoing() {
		if err := w.tokenSend.Send(ctx, token, w.cfg.QueueTimeout); err == nil {
			metricTokensSentTotal.Inc()
			return
		}
		level.Warn(log.Logger).Log("msg", "send with token output failed", "trigger_number", token.TriggerNumber)
		b.Wait()
	}
}

// RecordsReceived reports the number of TriggerRecords seen so far this run.
func (w *Writer) RecordsReceived() uint64 { return w.recordsReceivedTotal.Load() }

// RecordsWritten reports the number of TriggerRecords durably written so far.
func (w *Writer) RecordsWritten() uint64 { return w.recordsWrittenTotal.Load() }
