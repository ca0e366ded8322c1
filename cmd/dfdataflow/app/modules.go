package app

import (
	"github.com/grafana/dskit/modules"
	"github.com/grafana/dskit/services"

	"github.com/dunedaq/dfcore/pkg/util/log"
)

// Module names, mirroring cmd/tempo/app/modules.go's string-constant style
// (each a dskit modules.Manager node; All composes every leaf into one
// dependency-ordered start).
const (
	Storage         string = "storage"
	DFOBroker       string = "dfo-broker"
	DFO             string = "dfo"
	TRB             string = "trb"
	TPBundleHandler string = "tp-bundle-handler"
	DataWriter      string = "data-writer"
	All             string = "all"
)

func (t *App) setupModuleManager() error {
	mm := modules.NewManager(log.Logger)

	mm.RegisterModule(Storage, t.initStorage, modules.UserInvisibleModule)
	mm.RegisterModule(DFOBroker, t.initDFOBroker)
	mm.RegisterModule(DFO, t.initDFO)
	mm.RegisterModule(TRB, t.initTRB)
	mm.RegisterModule(TPBundleHandler, t.initTPBundleHandler)
	mm.RegisterModule(DataWriter, t.initDataWriter)
	mm.RegisterModule(All, nil)

	deps := map[string][]string{
		DataWriter: {Storage},
		All:        {DFOBroker, DFO, TRB, TPBundleHandler, DataWriter},
	}

	for mod, targets := range deps {
		if err := mm.AddDependency(mod, targets...); err != nil {
			return err
		}
	}

	t.ModuleManager = mm
	t.deps = deps
	return nil
}

// initStorage has nothing left to do: t.sink is already constructed by
// wireConnections, since local.New needs to run before New returns an error
// to the caller rather than surfacing it only once the module manager
// starts. It exists purely so DataWriter can depend on it in start order.
func (t *App) initStorage() (services.Service, error) {
	return nil, nil
}

func (t *App) initDFOBroker() (services.Service, error) {
	return t.broker, nil
}

func (t *App) initDFO() (services.Service, error) {
	return t.orchestrator, nil
}

func (t *App) initTRB() (services.Service, error) {
	return t.builder, nil
}

// initTPBundleHandler returns the Service App.Start already built; it runs
// after Start so t.tpBundle is guaranteed non-nil (see App.Start's doc
// comment for why construction can't happen eagerly in wireConnections).
func (t *App) initTPBundleHandler() (services.Service, error) {
	return t.tpBundle, nil
}

func (t *App) initDataWriter() (services.Service, error) {
	return t.writer, nil
}
