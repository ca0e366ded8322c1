// Package dfobroker implements the DFO Broker of spec.md §4.2: the single
// point of contact between trigger-decision sources and the (possibly
// several) DFO instances in a run, tracking which trigger numbers are
// outstanding and which have completed so it can answer heartbeats without
// asking the DFOs directly.
package dfobroker

import (
	"flag"
	"time"
)

// Config holds the DFO Broker's timing parameters, grounded on
// DFOBrokerConf's send_heartbeat_interval_ms/send_heartbeat_timeout_ms/
// td_timeout_ms/stop_timeout_ms.
type Config struct {
	SendHeartbeatInterval time.Duration `yaml:"send_heartbeat_interval"`
	SendHeartbeatTimeout  time.Duration `yaml:"send_heartbeat_timeout"`
	TDTimeout             time.Duration `yaml:"td_timeout"`
	StopTimeout           time.Duration `yaml:"stop_timeout"`

	// DFODConnection names the connection DFOs should send their
	// DFODecisions back to; published as DataflowHeartbeat.decision_destination
	// so a DFO that has never heard of this broker can hot-plug it, mirroring
	// m_dfod_connection in the original.
	DFODConnection string `yaml:"dfod_connection"`
}

// RegisterFlagsAndApplyDefaults registers this Config's flags under prefix.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.DurationVar(&c.SendHeartbeatInterval, prefix+".send-heartbeat-interval", time.Second, "Target interval between DataflowHeartbeat publications.")
	f.DurationVar(&c.SendHeartbeatTimeout, prefix+".send-heartbeat-timeout", 500*time.Millisecond, "Timeout for publishing a single DataflowHeartbeat.")
	f.DurationVar(&c.TDTimeout, prefix+".td-timeout", 500*time.Millisecond, "Timeout for forwarding a TriggerDecision to its destination TRB.")
	f.DurationVar(&c.StopTimeout, prefix+".stop-timeout", 10*time.Second, "Maximum time to wait, on stop, for outstanding trigger decisions to complete.")
	f.StringVar(&c.DFODConnection, prefix+".dfod-connection", "dfo-broker", "Connection name DFOs should send DFODecisions to; published on every heartbeat.")
}
