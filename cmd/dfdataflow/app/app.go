package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/grafana/dskit/modules"
	"github.com/grafana/dskit/services"
	"github.com/grafana/dskit/signals"

	"github.com/dunedaq/dfcore/modules/datawriter"
	"github.com/dunedaq/dfcore/modules/dfo"
	"github.com/dunedaq/dfcore/modules/dfobroker"
	"github.com/dunedaq/dfcore/modules/storage/local"
	"github.com/dunedaq/dfcore/modules/tpbundle"
	"github.com/dunedaq/dfcore/modules/trb"
	"github.com/dunedaq/dfcore/pkg/dfmessages"
	"github.com/dunedaq/dfcore/pkg/endpoint"
	"github.com/dunedaq/dfcore/pkg/util/log"
)

// App is the root datastructure, grounded on cmd/tempo/app.App: one struct
// holding every component plus the dskit modules.Manager that wires and
// starts them. Unlike the teacher there is exactly one deployment target
// (spec.md has no distributed-scaling concern to target-select between),
// so there is no t.cfg.Target/isModuleActive machinery.
type App struct {
	cfg Config

	router *mux.Router

	broker      *dfobroker.Broker
	orchestrator *dfo.Orchestrator
	builder     *trb.Builder
	tpBundle    *tpbundle.Service
	writer      *datawriter.Writer
	sink        *local.Store

	// External connections (spec.md §6) this process does not own a
	// producer/consumer for. A harness (or an integration test) dials
	// these directly; see wireConnections for how each is built.
	TriggerDecisionInput    endpoint.Sender[dfmessages.TriggerDecision]
	TriggerInhibitOutput    endpoint.Receiver[dfmessages.TriggerInhibit]
	FragmentInput           endpoint.Sender[dfmessages.Fragment]
	DataRequestOutputs      map[dfmessages.SourceID]endpoint.Receiver[dfmessages.DataRequest]
	TPSetInput              endpoint.Sender[dfmessages.TPSet]
	MonitoringRequestInput  endpoint.Sender[dfmessages.TRMonRequest]
	MonitoringRecordOutput  endpoint.Receiver[dfmessages.TriggerRecord]
	HeartbeatOutput         endpoint.Receiver[dfmessages.DataflowHeartbeat]

	// internal connections, held only so wireConnections and the init*
	// functions in modules.go can share them.
	conns *connections

	ModuleManager *modules.Manager
	serviceMap    map[string]services.Service
	deps          map[string][]string
}

// New makes a new App: wires every in-memory connection, then every
// component's Config-driven lifecycle via the module manager, mirroring
// cmd/tempo/app.New's setupAuthMiddleware-then-setupModuleManager shape.
func New(cfg Config) (*App, error) {
	t := &App{
		cfg:    cfg,
		router: mux.NewRouter(),
	}

	t.wireConnections()

	if err := t.setupModuleManager(); err != nil {
		return nil, fmt.Errorf("failed to setup module manager: %w", err)
	}

	return t, nil
}

// Start applies the run-control command of spec.md §6
// (start({run, production_vs_test, disable_data_storage})) to every
// component before the module manager's services are started. It must be
// called before Run: the TP Bundle Handler has no SetRunNumber of its own
// (its run number is baked in at construction, per TPBundleHandler's
// constructor in the original), so its Service is built here rather than in
// wireConnections, and Run's InitModuleServices call picks up t.tpBundle as
// already non-nil.
func (t *App) Start(rc RunConfig) {
	run := dfmessages.RunNumber(rc.RunNumber)

	t.broker.SetRunNumber(run)
	t.broker.EnableDFO(t.cfg.DFOIDs[0])
	t.orchestrator.SetRunNumber(run)
	t.writer.SetRunParams(run, !rc.ProductionVsTest, !rc.DisableDataStorage)
	t.builder.SetRunNumber(run)

	t.tpBundle = tpbundle.NewService(t.cfg.TPBundleHandler, run, t.cfg.ExternalSendTimeout, t.conns.tpsetRecv, t.conns.tsliceSend)
}

// Run starts every wired service and blocks until a signal is received,
// mirroring cmd/tempo/app.App.Run trimmed of the gRPC/auth/ring machinery
// this binary has no use for.
func (t *App) Run() error {
	serviceMap, err := t.ModuleManager.InitModuleServices(All)
	if err != nil {
		return fmt.Errorf("failed to init module services: %w", err)
	}
	t.serviceMap = serviceMap

	var servs []services.Service
	for _, s := range serviceMap {
		servs = append(servs, s)
	}

	sm, err := services.NewManager(servs...)
	if err != nil {
		return fmt.Errorf("failed to start service manager: %w", err)
	}

	t.router.Path("/ready").Handler(t.readyHandler(sm))
	t.router.Path("/status/dfo").HandlerFunc(t.orchestrator.StatusHandler)
	t.router.Path("/status/dfo-broker").HandlerFunc(t.broker.StatusHandler)

	httpServer := &http.Server{Addr: t.cfg.Server.HTTPListenAddress, Handler: t.router}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			level.Error(log.Logger).Log("msg", "status http server failed", "err", err)
		}
	}()

	healthy := func() { level.Info(log.Logger).Log("msg", "dfcore started") }
	stopped := func() { level.Info(log.Logger).Log("msg", "dfcore stopped") }
	serviceFailed := func(service services.Service) {
		sm.StopAsync()
		for m, s := range serviceMap {
			if s == service {
				level.Error(log.Logger).Log("msg", "module failed", "module", m, "err", service.FailureCase())
				return
			}
		}
	}
	sm.AddListener(services.NewManagerListener(healthy, stopped, serviceFailed))

	handler := signals.NewHandler(log.Logger)
	go func() {
		handler.Loop()
		sm.StopAsync()
	}()

	if err := sm.StartAsync(context.Background()); err != nil {
		return fmt.Errorf("failed to start service manager: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	return sm.AwaitStopped(ctx)
}

func (t *App) readyHandler(sm *services.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if sm.IsHealthy() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
}
