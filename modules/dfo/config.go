// Package dfo implements the Dataflow Orchestrator of spec.md §4.3: it
// receives trigger decisions, assigns each to a Trigger Record Builder
// connection in round-robin order skipping connections in error, dispatches
// the decision with bounded retry, and republishes a busy/free signal that
// flips only on change.
package dfo

import (
	"flag"
	"time"

	"github.com/grafana/dskit/backoff"

	"github.com/dunedaq/dfcore/modules/builderstate"
)

// ConnectionConfig names one Trigger Record Builder connection and its
// slot thresholds, grounded on datafloworchestrator::ConfParams's
// dataflow_applications list.
type ConnectionConfig struct {
	Name string `yaml:"decision_connection"`

	builderstate.Config `yaml:",inline"`
}

// Config is the DFO's configuration, grounded on
// datafloworchestrator::ConfParams.
type Config struct {
	Connections []ConnectionConfig `yaml:"dataflow_applications"`

	QueueTimeout time.Duration `yaml:"general_queue_timeout"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`

	// DispatchBackoff governs the retry loop used to dispatch a decision to
	// its assigned connection, replacing the original's plain decrementing
	// retry counter (dispatch()'s do/while loop) with the teacher's bounded
	// exponential backoff; MaxRetries takes over td_send_retries' role.
	DispatchBackoff backoff.Config `yaml:"dispatch_backoff,omitempty"`

	// DefaultBuilderConfig seeds the thresholds given to a builder connection
	// hot-plugged off an unrecognised heartbeat's decision_destination,
	// mirroring receive_dataflow_heartbeat's on-the-fly
	// TriggerRecordBuilderData construction in the original.
	DefaultBuilderConfig builderstate.Config `yaml:"default_builder,omitempty"`
}

// RegisterFlagsAndApplyDefaults registers this Config's flags under prefix.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.DurationVar(&c.QueueTimeout, prefix+".queue-timeout", 100*time.Millisecond, "Timeout for a single send on the trigger decision or busy-signal connections.")
	f.DurationVar(&c.StopTimeout, prefix+".stop-timeout", 10*time.Second, "Maximum time to wait, on stop, for outstanding trigger decisions to complete before flushing.")

	c.DispatchBackoff = backoff.Config{
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 200 * time.Millisecond,
		MaxRetries: 3,
	}

	c.DefaultBuilderConfig.RegisterFlagsAndApplyDefaults(prefix+".default-builder", f)
}
