// Package datawriter implements the Data Writer (spec.md §4.6): it receives
// TriggerRecords from a typed input, writes them through a
// modules/storage.Sink with prescale and growing-backoff retry, and closes
// the completion-token loop back to the DFO Broker: once every sequence of a
// trigger has been handled it sends one token for that trigger, whether or
// not a record was written (a prescale skip, disabled storage or an ignored
// storage problem still sends the token).
package datawriter

import (
	"flag"
	"time"

	"github.com/grafana/dskit/backoff"
)

// Config holds the Data Writer's tunables, grounded on DataWriterModule's
// configuration schema (data_storage_prescale, min/max_write_retry_time_usec,
// write_retry_time_increase_factor, trigger_decision_connection).
type Config struct {
	QueueTimeout        time.Duration `yaml:"queue_timeout"`
	DataStoragePrescale uint64        `yaml:"data_storage_prescale"`
	ReplyConnection     string        `yaml:"trigger_decision_connection"`

	// WriteRetryBackoff replaces the original's manual min/max/increase-factor
	// retry loop around sink writes; dskit's built-in exponential growth
	// stands in for the configurable increase factor (see DESIGN.md).
	// MaxRetries of 0 means retry for as long as the run is going, matching
	// "forever while running" in spec.md §4.6.
	WriteRetryBackoff backoff.Config `yaml:"write_retry_backoff,omitempty"`

	// AnnounceBackoff bounds the initial announce-token send at start,
	// mirroring the original's fixed 5-attempt retry loop.
	AnnounceBackoff backoff.Config `yaml:"announce_backoff,omitempty"`

	// TokenSendBackoff governs the per-record completion token send; like
	// WriteRetryBackoff, MaxRetries 0 means retry for as long as the run is
	// going.
	TokenSendBackoff backoff.Config `yaml:"token_send_backoff,omitempty"`
}

// RegisterFlagsAndApplyDefaults registers this Config's flags under prefix.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.DurationVar(&c.QueueTimeout, prefix+".queue-timeout", 100*time.Millisecond, "Timeout for trigger record receives and token sends.")
	f.Uint64Var(&c.DataStoragePrescale, prefix+".data-storage-prescale", 1, "Write only every Nth trigger record; 1 or 0 writes every one.")
	f.StringVar(&c.ReplyConnection, prefix+".trigger-decision-connection", "trigger_decision", "Connection name carried in every TriggerDecisionToken's reply_to field.")

	c.WriteRetryBackoff = backoff.Config{MinBackoff: 10 * time.Millisecond, MaxBackoff: 2 * time.Second, MaxRetries: 0}
	c.AnnounceBackoff = backoff.Config{MinBackoff: 5 * time.Millisecond, MaxBackoff: 5 * time.Millisecond, MaxRetries: 5}
	c.TokenSendBackoff = backoff.Config{MinBackoff: 5 * time.Millisecond, MaxBackoff: 500 * time.Millisecond, MaxRetries: 0}
}
