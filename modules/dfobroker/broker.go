package dfobroker

import (
	"context"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/atomic"

	"github.com/dunedaq/dfcore/pkg/dfmessages"
	"github.com/dunedaq/dfcore/pkg/endpoint"
	"github.com/dunedaq/dfcore/pkg/util/log"
)

type dfoInfo struct {
	active            bool
	recentCompletions map[dfmessages.TriggerNumber]struct{}
}

// Broker is the DFO Broker of spec.md §4.2. Exactly one DFO is active at a
// time (per do_enable_dfo in the original); the broker forwards to its
// downstream TRB only the trigger decisions that come from the active DFO,
// and republishes a
// stateless heartbeat of outstanding/recently-completed trigger numbers so
// standby DFOs can catch up without asking each other.
type Broker struct {
	services.Service

	cfg Config

	tokenRecv     endpoint.Receiver[dfmessages.TriggerDecisionToken]
	decisionRecv  endpoint.Receiver[dfmessages.DFODecision]
	heartbeatSend endpoint.Sender[dfmessages.DataflowHeartbeat]
	decisionSend  endpoint.Sender[dfmessages.TriggerDecision]

	runNumber atomic.Uint64

	mu          sync.Mutex
	dfos        map[string]*dfoInfo
	outstanding map[dfmessages.TriggerNumber]struct{}

	hbMu            sync.Mutex
	lastHeartbeatAt time.Time
}

// New creates a Broker for the given set of known DFO application ids, none
// of which are active until EnableDFO is called.
func New(cfg Config, dfoIDs []string, tokenRecv endpoint.Receiver[dfmessages.TriggerDecisionToken],
	decisionRecv endpoint.Receiver[dfmessages.DFODecision],
	heartbeatSend endpoint.Sender[dfmessages.DataflowHeartbeat],
	decisionSend endpoint.Sender[dfmessages.TriggerDecision]) *Broker {

	b := &Broker{
		cfg:           cfg,
		tokenRecv:     tokenRecv,
		decisionRecv:  decisionRecv,
		heartbeatSend: heartbeatSend,
		decisionSend:  decisionSend,
		dfos:          make(map[string]*dfoInfo, len(dfoIDs)),
		outstanding:   make(map[dfmessages.TriggerNumber]struct{}),
	}
	for _, id := range dfoIDs {
		b.dfos[id] = &dfoInfo{recentCompletions: make(map[dfmessages.TriggerNumber]struct{})}
	}

	b.Service = services.NewBasicService(b.starting, b.running, b.stopping)
	return b
}

// EnableDFO marks exactly one DFO active, deactivating every other known
// DFO, per do_enable_dfo in the original.
func (b *Broker) EnableDFO(dfoID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, info := range b.dfos {
		info.active = id == dfoID
	}
}

func (b *Broker) starting(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, info := range b.dfos {
		*info = dfoInfo{recentCompletions: make(map[dfmessages.TriggerNumber]struct{})}
	}
	return nil
}

func (b *Broker) running(ctx context.Context) error {
	level.Info(log.Logger).Log("msg", "dfo broker running", "dfo_count", len(b.dfos))

	b.hbMu.Lock()
	b.lastHeartbeatAt = time.Now()
	b.hbMu.Unlock()

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		b.tokenLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		b.decisionLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		b.heartbeatLoop(ctx)
	}()

	wg.Wait()
	return nil
}

func (b *Broker) stopping(_ error) error {
	deadline := time.Now().Add(b.cfg.StopTimeout)
	const steps = 20
	stepTimeout := b.cfg.StopTimeout / steps

	for b.outstandingCount() != 0 && time.Now().Before(deadline) {
		level.Info(log.Logger).Log("msg", "stop delayed waiting for trigger decisions to complete", "outstanding", b.outstandingCount())
		time.Sleep(stepTimeout)
	}

	b.mu.Lock()
	for _, info := range b.dfos {
		*info = dfoInfo{recentCompletions: make(map[dfmessages.TriggerNumber]struct{})}
	}
	b.mu.Unlock()

	level.Info(log.Logger).Log("msg", "dfo broker stopped")
	return nil
}

func (b *Broker) tokenLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		token, err := b.tokenRecv.Receive(ctx, 100*time.Millisecond)
		if err != nil {
			continue
		}
		b.receiveToken(token)
	}
}

func (b *Broker) decisionLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		decision, err := b.decisionRecv.Receive(ctx, 100*time.Millisecond)
		if err != nil {
			continue
		}
		b.receiveDecision(ctx, decision)
	}
}

func (b *Broker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.SendHeartbeatInterval / 25)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.sendHeartbeat(ctx, true)
			return
		case <-ticker.C:
			b.sendHeartbeat(ctx, false)
		}
	}
}

func (b *Broker) receiveToken(token dfmessages.TriggerDecisionToken) {
	if token.RunNumber == 0 && token.TriggerNumber == 0 {
		return
	}
	if dfmessages.RunNumber(token.RunNumber) != dfmessages.RunNumber(b.runNumber.Load()) {
		level.Error(log.Logger).Log("msg", "run number mismatch on trigger decision token",
			"received_run", token.RunNumber, "current_run", b.runNumber.Load(), "trigger_number", token.TriggerNumber)
		metricTokensIgnoredTotal.WithLabelValues("run-mismatch").Inc()
		return
	}

	b.mu.Lock()
	delete(b.outstanding, token.TriggerNumber)
	for _, info := range b.dfos {
		info.recentCompletions[token.TriggerNumber] = struct{}{}
	}
	metricOutstandingDecisions.Set(float64(len(b.outstanding)))
	b.mu.Unlock()

	b.sendHeartbeat(context.Background(), true)
}

func (b *Broker) receiveDecision(ctx context.Context, decision dfmessages.DFODecision) {
	if dfmessages.RunNumber(decision.Decision.RunNumber) != dfmessages.RunNumber(b.runNumber.Load()) {
		level.Error(log.Logger).Log("msg", "run number mismatch on dfo decision",
			"received_run", decision.Decision.RunNumber, "current_run", b.runNumber.Load(),
			"dfo_id", decision.DFOID, "trigger_number", decision.Decision.TriggerNumber)
		metricTokensIgnoredTotal.WithLabelValues("run-mismatch").Inc()
		return
	}

	b.mu.Lock()
	info, ok := b.dfos[decision.DFOID]
	if !ok {
		b.mu.Unlock()
		level.Error(log.Logger).Log("msg", "dfo decision for unknown dfo", "dfo_id", decision.DFOID)
		metricTokensIgnoredTotal.WithLabelValues("unknown-dfo").Inc()
		return
	}

	for _, ack := range decision.AcknowledgedCompletion {
		delete(info.recentCompletions, ack)
	}

	active := info.active
	if active {
		b.outstanding[decision.Decision.TriggerNumber] = struct{}{}
	}
	metricOutstandingDecisions.Set(float64(len(b.outstanding)))
	b.mu.Unlock()

	if active {
		if err := b.decisionSend.Send(ctx, decision.Decision, b.cfg.TDTimeout); err != nil {
			level.Error(log.Logger).Log("msg", "failed to forward trigger decision", "trigger_number", decision.Decision.TriggerNumber, "err", err)
		} else {
			metricDecisionsForwardedTotal.Inc()
		}
	}

	b.sendHeartbeat(ctx, true)
}

func (b *Broker) sendHeartbeat(ctx context.Context, skipTimeCheck bool) {
	b.hbMu.Lock()
	defer b.hbMu.Unlock()

	now := time.Now()
	if !skipTimeCheck && now.Sub(b.lastHeartbeatAt) < b.cfg.SendHeartbeatInterval {
		return
	}
	b.lastHeartbeatAt = now

	hb := dfmessages.DataflowHeartbeat{
		RunNumber:           dfmessages.RunNumber(b.runNumber.Load()),
		DecisionDestination: b.cfg.DFODConnection,
		Outstanding:         b.outstandingDecisions(),
		RecentlyCompleted:   b.recentCompletions(),
	}

	if err := b.heartbeatSend.Send(ctx, hb, b.cfg.SendHeartbeatTimeout); err != nil {
		level.Error(log.Logger).Log("msg", "failed to publish heartbeat", "err", err)
		return
	}
	metricHeartbeatsSentTotal.Inc()
}

func (b *Broker) outstandingDecisions() []dfmessages.TriggerNumber {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]dfmessages.TriggerNumber, 0, len(b.outstanding))
	for tn := range b.outstanding {
		out = append(out, tn)
	}
	return out
}

func (b *Broker) recentCompletions() []dfmessages.TriggerNumber {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := make(map[dfmessages.TriggerNumber]struct{})
	for _, info := range b.dfos {
		for tn := range info.recentCompletions {
			seen[tn] = struct{}{}
		}
	}
	out := make([]dfmessages.TriggerNumber, 0, len(seen))
	for tn := range seen {
		out = append(out, tn)
	}
	return out
}

func (b *Broker) outstandingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.outstanding)
}

// SetRunNumber sets the run number used to validate incoming messages,
// called at the start of a run (do_start in the original).
func (b *Broker) SetRunNumber(run dfmessages.RunNumber) {
	b.runNumber.Store(uint64(run))
}

// IsDFOActive reports whether dfoID is the currently active DFO.
func (b *Broker) IsDFOActive(dfoID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	info, ok := b.dfos[dfoID]
	return ok && info.active
}

// StatusHandler renders one row per known DFO id: active/standby, and how
// many recently-completed trigger numbers it has been told about. Grounded
// on backendscheduler.go's StatusHandler; surfaces DFOBrokerModule::get_info
// (known_dfo_count/outstanding_trigger_decisions) as an HTTP table instead
// of an opmon structured-info record.
func (b *Broker) StatusHandler(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	type row struct {
		id     string
		active bool
		recent int
	}
	rows := make([]row, 0, len(b.dfos))
	for id, info := range b.dfos {
		rows = append(rows, row{id: id, active: info.active, recent: len(info.recentCompletions)})
	}
	outstanding := len(b.outstanding)
	b.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i].id < rows[j].id })

	x := table.NewWriter()
	x.AppendHeader(table.Row{"dfo_id", "active", "recent_completions"})
	for _, r := range rows {
		x.AppendRow(table.Row{r.id, r.active, r.recent})
	}
	x.AppendSeparator()
	x.AppendFooter(table.Row{"outstanding_decisions", outstanding})

	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, x.Render())
}
