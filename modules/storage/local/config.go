// Package local is a filesystem-backed implementation of the
// modules/storage.Sink contract (spec.md §4.7), grounded on
// plugins/HDF5DataStore.hpp/.cpp and plugins/HDF5KeyTranslator.hpp, with
// style borrowed from friggdb/backend/local/local.go (a reader/writer pair
// over plain files) and friggdb/wal/wal.go (one file per logical unit,
// rolled by size).
//
// The on-disk container is not byte-compatible with an actual HDF5 file;
// each "dataset" is written as one jsoniter-encoded file under a directory
// tree that mirrors the logical path grammar exactly, so the layout and
// filename contracts of spec.md §4.7 hold even though the binary format
// does not.
package local

import (
	"flag"

	"github.com/dunedaq/dfcore/modules/storage"
)

// Config wires modules/storage.Config plus the identity fields HDF5DataStore
// takes as constructor arguments (operational_environment, writer_identifier).
type Config struct {
	storage.Config `yaml:",inline"`

	OperationalEnvironment string `yaml:"operational_environment"`
	WriterIdentifier        string `yaml:"writer_identifier"`
	Enabled                 bool   `yaml:"enabled"`
}

// RegisterFlagsAndApplyDefaults registers this Config's flags under prefix.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&c.DirectoryPath, prefix+".directory-path", ".", "Directory in which output files are created.")
	f.StringVar(&c.Mode, prefix+".mode", storage.ModeAllPerFile, "File rolling mode: one-event-per-file or all-per-file.")
	f.Uint64Var(&c.MaxFileSize, prefix+".max-file-size", 4*1024*1024*1024, "Maximum size, in bytes, of one output file before rolling to a new file index.")
	f.BoolVar(&c.DisableUniqueFilenameSuffix, prefix+".disable-unique-filename-suffix", false, "Disable the unique timestamp suffix normally inserted into generated filenames.")
	f.Float64Var(&c.FreeSpaceSafetyFactor, prefix+".free-space-safety-factor", 2.0, "Required free disk space, as a multiple of the next record's size, before a write is attempted.")
	f.StringVar(&c.OperationalEnvironment, prefix+".operational-environment", "swtest", "Name of the operational environment, used as the leading component of generated filenames.")
	f.StringVar(&c.WriterIdentifier, prefix+".writer-identifier", "datawriter", "Identifier of this writer instance, appended to generated filenames.")
	f.BoolVar(&c.Enabled, prefix+".enabled", true, "Whether this sink actually writes to disk; false makes every write a no-op (data_storage_is_enabled).")

	c.FilenameParams = storage.FilenameParams{
		FileTypePrefix:     "tr",
		RunNumberPrefix:    "run",
		DigitsForRunNumber: 6,
		FileIndexPrefix:    "file",
		DigitsForFileIndex: 4,
	}
	c.FileLayoutParams = storage.FileLayoutParams{
		TriggerRecordNamePrefix: "TriggerRecord",
		DigitsForTriggerNumber:  6,
		PathParamList: []storage.PathParams{
			{DetectorGroupType: "TPC", DetectorGroupName: "TPC", RegionNamePrefix: "APA", DigitsForRegionNumber: 3, ElementNamePrefix: "Link", DigitsForElementNumber: 2},
			{DetectorGroupType: "PDS", DetectorGroupName: "PDS", RegionNamePrefix: "Region", DigitsForRegionNumber: 3, ElementNamePrefix: "Element", DigitsForElementNumber: 2},
			{DetectorGroupType: "Trigger", DetectorGroupName: "Trigger", RegionNamePrefix: "Region", DigitsForRegionNumber: 3, ElementNamePrefix: "Element", DigitsForElementNumber: 2},
			{DetectorGroupType: "TPC_TP", DetectorGroupName: "TPC_TP", RegionNamePrefix: "APA", DigitsForRegionNumber: 3, ElementNamePrefix: "Link", DigitsForElementNumber: 2},
		},
	}
	c.ApplyDefaults()
}
