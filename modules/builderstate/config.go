// Package builderstate tracks, on behalf of the DFO, the outstanding trigger
// decisions assigned to one Trigger Record Builder connection. It replaces
// the DFO-side half of TriggerRecordBuilderData: the half that owns the
// busy/free bookkeeping and completion latencies, not the TRB's own record
// buffer (that lives in modules/trb).
package builderstate

import (
	"flag"

	"github.com/dunedaq/dfcore/pkg/dferrors"
)

// Config holds the slot thresholds for one builder connection, per spec.md
// §4.1. BusyThreshold must be at least FreeThreshold (hysteresis band).
type Config struct {
	ConnectionName string `yaml:"connection_name"`
	BusyThreshold  uint64 `yaml:"busy_threshold"`
	FreeThreshold  uint64 `yaml:"free_threshold"`

	// LatencyWindow bounds how many completion-latency samples are kept for
	// AverageLatency, mirroring the original's hardcoded 1000-entry cap.
	LatencyWindow int `yaml:"latency_window,omitempty"`
}

// RegisterFlagsAndApplyDefaults registers this Config's flags under prefix.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.LatencyWindow = 1000
	f.Uint64Var(&c.BusyThreshold, prefix+".busy-threshold", 10, "Number of outstanding assignments at which this builder is marked busy.")
	f.Uint64Var(&c.FreeThreshold, prefix+".free-threshold", 10, "Number of outstanding assignments at or below which a busy builder is marked free again.")
}

// Validate enforces the hysteresis invariant of spec.md §4.1.
func (c *Config) Validate() error {
	if c.BusyThreshold < c.FreeThreshold {
		return dferrors.New(dferrors.IssueDFOThresholdsNotConsistent,
			"busy_threshold %d is less than free_threshold %d for connection %q", c.BusyThreshold, c.FreeThreshold, c.ConnectionName)
	}
	return nil
}
