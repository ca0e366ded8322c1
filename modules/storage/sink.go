// Package storage defines the Storage Sink contract (spec.md §4.7): a
// pluggable append-only store addressed by StorageKey. The specific
// container format is implementation choice; modules/storage/local provides
// a filesystem-backed one. Grounded on include/dfmodules/DataStore.hpp (the
// abstract interface) and plugins/HDF5DataStore.hpp (the write/prepare_for_run
// /finish_with_run contract actually exercised by the Data Writer).
package storage

import (
	"github.com/dunedaq/dfcore/pkg/dfmessages"
)

// Sink is the append-only store the Data Writer (modules/datawriter) and the
// TP Bundle Handler write through. Implementations must be safe to call from
// a single caller goroutine at a time per run; callers serialize writes.
type Sink interface {
	// PrepareForRun readies the sink for writes associated with run. It
	// validates the output destination and available disk space; a
	// returned error aborts start (dferrors.KindFatalConfig).
	PrepareForRun(run dfmessages.RunNumber, runIsForTest bool) error

	// WriteTriggerRecord appends tr. A *dferrors.Error with
	// IssueInsufficientDiskSpace (KindRetryableStorage) means the caller
	// should back off and retry; any other error is fatal to the write.
	WriteTriggerRecord(tr dfmessages.TriggerRecord) error

	// WriteTimeSlice appends ts. A *dferrors.Error with
	// IssueTimeSliceAlreadyExists (KindIgnorable) means the slice was
	// already durably written and the caller should just record a metric.
	WriteTimeSlice(ts dfmessages.TimeSlice) error

	// FinishWithRun closes any file left open for run.
	FinishWithRun(run dfmessages.RunNumber) error
}

// FilenameParams controls the grammar of a generated filename (spec.md
// §4.7): `<operational_env>_<file_type_prefix>_<run_prefix><run:N>_
// <file_prefix><idx:M>_<writer_id>.hdf5`.
type FilenameParams struct {
	FileTypePrefix      string `yaml:"file_type_prefix"`
	RunNumberPrefix     string `yaml:"run_number_prefix"`
	DigitsForRunNumber  int    `yaml:"digits_for_run_number"`
	FileIndexPrefix     string `yaml:"file_index_prefix"`
	DigitsForFileIndex  int    `yaml:"digits_for_file_index"`
}

// PathParams resolves one GroupType to the logical-layout group name and
// region/element zero-padding widths (spec.md §4.7, HDF5KeyTranslator's
// path_param_list).
type PathParams struct {
	GroupType             dfmessages.GroupType `yaml:"-"`
	DetectorGroupType     string               `yaml:"detector_group_type"`
	DetectorGroupName     string               `yaml:"detector_group_name"`
	RegionNamePrefix      string               `yaml:"region_name_prefix"`
	DigitsForRegionNumber int                  `yaml:"digits_for_region_number"`
	ElementNamePrefix     string               `yaml:"element_name_prefix"`
	DigitsForElementNumber int                 `yaml:"digits_for_element_number"`
}

// FileLayoutParams controls the logical layout grammar (spec.md §4.7):
// `<prefix><trigger:D>[.seq]/{TriggerRecordHeader | <group_name>/
// <region_prefix><region:D>/<element_prefix><element:D>}`.
type FileLayoutParams struct {
	TriggerRecordNamePrefix string       `yaml:"trigger_record_name_prefix"`
	DigitsForTriggerNumber  int          `yaml:"digits_for_trigger_number"`
	PathParamList           []PathParams `yaml:"path_param_list"`
}

// Config is shared by every Sink implementation; modules/storage/local wires
// it into a concrete filesystem layout.
type Config struct {
	Mode                       string         `yaml:"mode"`
	DirectoryPath              string         `yaml:"directory_path"`
	MaxFileSize                uint64         `yaml:"max_file_size"`
	DisableUniqueFilenameSuffix bool          `yaml:"disable_unique_filename_suffix"`
	FreeSpaceSafetyFactor      float64        `yaml:"free_space_safety_factor"`
	FilenameParams             FilenameParams `yaml:"filename_parameters"`
	FileLayoutParams           FileLayoutParams `yaml:"file_layout_parameters"`
}

const (
	ModeOneEventPerFile = "one-event-per-file"
	ModeAllPerFile      = "all-per-file"
)

// ApplyDefaults clamps and fills in the fields the HDF5 backend always
// requires, mirroring HDF5DataStore's constructor-time safety-factor clamp.
func (c *Config) ApplyDefaults() {
	if c.FreeSpaceSafetyFactor < 1.1 {
		c.FreeSpaceSafetyFactor = 1.1
	}
	if c.FilenameParams.DigitsForRunNumber == 0 {
		c.FilenameParams.DigitsForRunNumber = 6
	}
	if c.FilenameParams.DigitsForFileIndex == 0 {
		c.FilenameParams.DigitsForFileIndex = 4
	}
	if c.FileLayoutParams.DigitsForTriggerNumber == 0 {
		c.FileLayoutParams.DigitsForTriggerNumber = 6
	}
}
