// Package tpbundle assembles per-source TPSets into fixed-width TimeSlices
// for durable writing, per spec.md §4.4 (the TP Bundle Handler). Each time
// slice accumulates TPSets from every contributing source until no update
// has been seen for a configured cooling-off period, then is emitted as one
// TimeSlice with one Fragment per source.
package tpbundle

import (
	"flag"
	"time"

	"github.com/dunedaq/dfcore/pkg/dfmessages"
)

// Config holds the TP Bundle Handler's slicing parameters, grounded on
// TPBundleHandler's constructor arguments (slice_interval, cooling_off_time).
type Config struct {
	SliceInterval  dfmessages.Timestamp `yaml:"slice_interval"`
	CoolingOffTime time.Duration        `yaml:"cooling_off_time"`
}

// RegisterFlagsAndApplyDefaults registers this Config's flags under prefix.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.Uint64Var((*uint64)(&c.SliceInterval), prefix+".slice-interval", 62500000, "Width, in detector timestamp ticks, of one time slice.")
	f.DurationVar(&c.CoolingOffTime, prefix+".cooling-off-time", 2*time.Second, "How long a time slice accumulator must go without an update before it is considered properly aged and emitted.")
}
