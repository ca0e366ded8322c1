// Package trb implements the Trigger Record Builder of spec.md §4.5: the
// central state machine that slices each TriggerDecision into sequences,
// requests the matching fragments, assembles completed TriggerRecords, and
// drains whatever remains on timeout or stop.
package trb

import (
	"flag"
	"time"

	"github.com/grafana/dskit/backoff"

	"github.com/dunedaq/dfcore/pkg/dfmessages"
)

// Config is the TRB's configuration, grounded on appdal::TRBConf.
type Config struct {
	SelfSourceID dfmessages.SourceID `yaml:"source_id"`

	// ReplyConnection is the named connection producers must send their
	// Fragments to; stamped into every outgoing DataRequest.
	ReplyConnection string `yaml:"reply_connection"`

	QueueTimeout time.Duration `yaml:"queue_timeout"`

	// TriggerTimeout bounds how long a TriggerRecord may remain incomplete
	// before it is force-emitted with the incomplete bit set. Zero disables
	// the check entirely.
	TriggerTimeout time.Duration `yaml:"trigger_record_timeout"`

	// MaxTimeWindow is the per-sequence time window width; zero means the
	// whole TriggerDecision's span becomes a single sequence.
	MaxTimeWindow dfmessages.Timestamp `yaml:"max_time_window"`

	// DispatchBackoff governs retrying a transient send failure on the
	// DataRequest and TriggerRecord output connections, replacing the
	// original's unbounded do/while retry loops with the teacher's bounded
	// exponential backoff (same substitution as modules/dfo.Config).
	DispatchBackoff backoff.Config `yaml:"dispatch_backoff,omitempty"`

	// StaleCheckInterval paces how often outstanding TriggerRecords are
	// checked against TriggerTimeout.
	StaleCheckInterval time.Duration `yaml:"stale_check_interval,omitempty"`
}

// RegisterFlagsAndApplyDefaults registers this Config's flags under prefix.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.DurationVar(&c.QueueTimeout, prefix+".queue-timeout", 100*time.Millisecond, "Timeout for a single send or receive on any TRB connection.")
	f.DurationVar(&c.TriggerTimeout, prefix+".trigger-record-timeout", 0, "Maximum time a TriggerRecord may stay incomplete before being force-emitted. Zero disables the check.")
	f.Uint64Var((*uint64)(&c.MaxTimeWindow), prefix+".max-time-window", 0, "Width in detector-clock ticks of one sequence slice. Zero keeps the whole decision as a single sequence.")

	c.StaleCheckInterval = 100 * time.Millisecond
	c.DispatchBackoff = backoff.Config{
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 200 * time.Millisecond,
		MaxRetries: 3,
	}
}
