// Package app wires the dataflow core's components (spec.md §4) into one
// running process, following cmd/tempo/app/config.go's aggregate-Config and
// cmd/tempo/app/modules.go's dskit modules.Manager idiom.
//
// The core assumes transport is injected (spec.md §1 Non-goals): this
// binary is a single-process deployment in which every named connection of
// §6 is an in-memory pkg/endpoint.Chan or Topic. External actors the core
// does not implement (TriggerSource, data-producing readout applications,
// a TP source, a monitoring UI) are represented only by the endpoints App
// exposes for a harness to drive or observe.
package app

import (
	"flag"
	"time"

	"github.com/grafana/dskit/flagext"

	"github.com/dunedaq/dfcore/modules/builderstate"
	"github.com/dunedaq/dfcore/modules/datawriter"
	"github.com/dunedaq/dfcore/modules/dfo"
	"github.com/dunedaq/dfcore/modules/dfobroker"
	"github.com/dunedaq/dfcore/modules/storage/local"
	"github.com/dunedaq/dfcore/modules/tpbundle"
	"github.com/dunedaq/dfcore/modules/trb"
)

// ServerConfig is the trimmed HTTP-only server this binary starts,
// replacing cmd/tempo/app/server_service.go's dskit/server-backed
// TempoServer (gRPC + HTTP/2): nothing in spec.md calls for an RPC surface,
// so carrying the full gRPC stack here would only add unused dependencies
// (see DESIGN.md).
type ServerConfig struct {
	HTTPListenAddress string `yaml:"http_listen_address"`
}

// RegisterFlagsAndApplyDefaults registers this Config's flags under prefix.
func (c *ServerConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&c.HTTPListenAddress, prefix+".http-listen-address", ":8080", "Address the status/metrics HTTP server listens on.")
}

// RunConfig mirrors the start({run, production_vs_test, disable_data_storage})
// command payload of spec.md §6; it is control-plane state applied at Start,
// not a flag-registered tunable (hence no RegisterFlags method, and no yaml
// tags: it is never part of the on-disk config).
type RunConfig struct {
	RunNumber          uint64
	ProductionVsTest   bool
	DisableDataStorage bool
}

// Config is the root config for App, aggregating every component's Config
// exactly as cmd/tempo/app/config.go aggregates distributor.Config,
// ingester.Config, etc.
type Config struct {
	Server ServerConfig `yaml:"server,omitempty"`

	DFOBroker       dfobroker.Config `yaml:"dfo_broker,omitempty"`
	DFO             dfo.Config       `yaml:"dataflow_orchestrator,omitempty"`
	TRB             trb.Config       `yaml:"trigger_record_builder,omitempty"`
	TPBundleHandler tpbundle.Config  `yaml:"tp_bundle_handler,omitempty"`
	DataWriter      datawriter.Config `yaml:"data_writer,omitempty"`
	Storage         local.Config      `yaml:"storage,omitempty"`

	// DFOIDs lists the known DFO application identities the broker tracks
	// (DFOBrokerModule's session-configured dfo_id list). Exactly the first
	// one is wired up as the single live Orchestrator this process runs and
	// is enabled at start; the rest exist only in the broker's bookkeeping,
	// matching a single-process demo of an otherwise hot-standby design.
	DFOIDs []string `yaml:"dfo_ids"`

	// TRBConnectionName is the single Trigger Record Builder connection
	// name this process wires the DFO's round-robin table to.
	TRBConnectionName string `yaml:"trb_connection_name"`

	// NumProducers synthesizes that many DetectorReadout SourceIDs
	// (id 0..NumProducers-1) as the TRB's configured fragment producers,
	// standing in for a session's detector-readout application list.
	NumProducers int `yaml:"num_producers"`

	// ConnectionQueueSize is the buffer depth of every in-memory
	// pkg/endpoint.Chan/Topic subscription this process creates.
	ConnectionQueueSize int `yaml:"connection_queue_size"`

	// ExternalSendTimeout bounds each TimeSlice send and each TPSet receive
	// of the TP Bundle Handler.
	ExternalSendTimeout time.Duration `yaml:"external_send_timeout"`
}

// RegisterFlagsAndApplyDefaults registers this Config's flags under prefix.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.Server.RegisterFlagsAndApplyDefaults(prefix+".server", f)
	c.DFOBroker.RegisterFlagsAndApplyDefaults(prefix+".dfo-broker", f)
	c.DFO.RegisterFlagsAndApplyDefaults(prefix+".dfo", f)
	c.TRB.RegisterFlagsAndApplyDefaults(prefix+".trb", f)
	c.TPBundleHandler.RegisterFlagsAndApplyDefaults(prefix+".tpbundle", f)
	c.DataWriter.RegisterFlagsAndApplyDefaults(prefix+".datawriter", f)
	c.Storage.RegisterFlagsAndApplyDefaults(prefix+".storage", f)

	c.DFOIDs = []string{"dfo-0"}
	c.TRBConnectionName = "trb-0"
	c.NumProducers = 4
	c.ConnectionQueueSize = 64
	c.ExternalSendTimeout = 100 * time.Millisecond

	// c.DFO.RegisterFlagsAndApplyDefaults above has no opinion on which
	// Trigger Record Builder connections exist (that is session-specific,
	// per datafloworchestrator::ConfParams's dataflow_applications list); a
	// single-process deployment needs exactly one, matching
	// TRBConnectionName, so it is seeded here rather than left empty.
	c.DFO.Connections = []dfo.ConnectionConfig{{
		Name: c.TRBConnectionName,
		Config: builderstate.Config{
			BusyThreshold: 10,
			FreeThreshold: 10,
			LatencyWindow: 1000,
		},
	}}

	// The broker's published decision_destination is the bookkeeping key the
	// DFO matches a DataflowHeartbeat's completions back against (see
	// modules/dfo's handleHeartbeat); it must name the same connection the
	// DFO statically assigns to above; otherwise every completion hot-plugs
	// a second, unrelated builder that never receives an assignment.
	c.DFOBroker.DFODConnection = c.TRBConnectionName

	f.Var((*flagext.StringSlice)(&c.DFOIDs), prefix+".dfo-ids", "Known DFO application identity; repeat the flag to register more than one.")
	f.StringVar(&c.TRBConnectionName, prefix+".trb-connection-name", c.TRBConnectionName, "Name of the single Trigger Record Builder connection this process wires up.")
	f.IntVar(&c.NumProducers, prefix+".num-producers", c.NumProducers, "Number of synthetic detector-readout producer source ids to wire as TRB data-request destinations.")
	f.IntVar(&c.ConnectionQueueSize, prefix+".connection-queue-size", c.ConnectionQueueSize, "Buffer depth of every in-memory connection this process creates.")
	f.DurationVar(&c.ExternalSendTimeout, prefix+".external-send-timeout", c.ExternalSendTimeout, "Timeout for each TimeSlice send and TPSet receive of the TP Bundle Handler.")
}
