package local

import (
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dunedaq/dfcore/pkg/dferrors"
	"github.com/dunedaq/dfcore/pkg/dfmessages"
)

func testCfg(t *testing.T) Config {
	t.Helper()
	var cfg Config
	cfg.RegisterFlagsAndApplyDefaults("storage", flag.NewFlagSet("test", flag.PanicOnError))
	cfg.DirectoryPath = t.TempDir()
	cfg.OperationalEnvironment = "test_env"
	cfg.WriterIdentifier = "writer0"
	cfg.DisableUniqueFilenameSuffix = true
	cfg.MaxFileSize = 1 << 20
	return cfg
}

func sampleRecord(trigger dfmessages.TriggerNumber, src dfmessages.SourceID) dfmessages.TriggerRecord {
	return dfmessages.TriggerRecord{
		Header: dfmessages.TriggerRecordHeader{TriggerNumber: trigger, RunNumber: 1},
		Requested: []dfmessages.ComponentRequest{{SourceID: src, WindowBegin: 0, WindowEnd: 10}},
		Fragments: []dfmessages.Fragment{{TriggerNumber: trigger, RunNumber: 1, ElementID: src, Payload: []byte("x")}},
	}
}

func TestStore_WriteTriggerRecordCreatesExpectedLayout(t *testing.T) {
	// Given
	cfg := testCfg(t)
	s, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.PrepareForRun(1, false))

	src := dfmessages.SourceID{Subsystem: dfmessages.SubsystemDetectorReadout, ID: 2}
	tr := sampleRecord(7, src)

	// When
	require.NoError(t, s.WriteTriggerRecord(tr))

	// Then: the file name follows the spec.md §4.7 grammar exactly
	wantDir := filepath.Join(cfg.DirectoryPath, "test_env_tr_run000001_file0000_writer0.hdf5")
	require.DirExists(t, wantDir)

	headerPath := filepath.Join(wantDir, "TriggerRecord000007", "TriggerRecordHeader.json")
	require.FileExists(t, headerPath)

	fragPath := filepath.Join(wantDir, "TriggerRecord000007", "TPC", "APA000", "Link02.json")
	require.FileExists(t, fragPath)

	var header dfmessages.TriggerRecordHeader
	raw, err := os.ReadFile(headerPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &header))
	require.Equal(t, dfmessages.TriggerNumber(7), header.TriggerNumber)
}

func TestStore_RollsToNewFileIndexWhenMaxSizeExceeded(t *testing.T) {
	// Given: a tiny max file size so any second record rolls
	cfg := testCfg(t)
	cfg.MaxFileSize = 1
	s, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.PrepareForRun(1, false))

	src := dfmessages.SourceID{Subsystem: dfmessages.SubsystemDetectorReadout, ID: 1}

	// When
	require.NoError(t, s.WriteTriggerRecord(sampleRecord(1, src)))
	require.NoError(t, s.WriteTriggerRecord(sampleRecord(2, src)))

	// Then
	require.DirExists(t, filepath.Join(cfg.DirectoryPath, "test_env_tr_run000001_file0000_writer0.hdf5"))
	require.DirExists(t, filepath.Join(cfg.DirectoryPath, "test_env_tr_run000001_file0001_writer0.hdf5"))
}

func TestStore_OneEventPerFileRollsOnRecordNumberChange(t *testing.T) {
	// Given
	cfg := testCfg(t)
	cfg.Mode = "one-event-per-file"
	s, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.PrepareForRun(1, false))

	src := dfmessages.SourceID{Subsystem: dfmessages.SubsystemDetectorReadout, ID: 1}

	// When
	require.NoError(t, s.WriteTriggerRecord(sampleRecord(1, src)))
	require.NoError(t, s.WriteTriggerRecord(sampleRecord(2, src)))

	// Then: each distinct trigger number gets its own file index
	require.DirExists(t, filepath.Join(cfg.DirectoryPath, "test_env_tr_run000001_file0000_writer0.hdf5"))
	require.DirExists(t, filepath.Join(cfg.DirectoryPath, "test_env_tr_run000001_file0001_writer0.hdf5"))
}

func TestStore_InsufficientFreeSpaceIsRetryableStorage(t *testing.T) {
	// Given: freeSpaceFn always reports zero bytes available
	cfg := testCfg(t)
	s, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.PrepareForRun(1, false))
	s.freeSpaceFn = func(string) (uint64, error) { return 0, nil }

	src := dfmessages.SourceID{Subsystem: dfmessages.SubsystemDetectorReadout, ID: 1}

	// When
	err = s.WriteTriggerRecord(sampleRecord(1, src))

	// Then
	require.Error(t, err)
	var dfErr *dferrors.Error
	require.ErrorAs(t, err, &dfErr)
	require.Equal(t, dferrors.IssueInsufficientDiskSpace, dfErr.Issue)
	require.Equal(t, dferrors.KindRetryableStorage, dfErr.Kind)
}

func TestStore_PrepareForRunFailsWhenFreeSpaceBelowMaxFileSize(t *testing.T) {
	// Given
	cfg := testCfg(t)
	s, err := New(cfg)
	require.NoError(t, err)
	s.freeSpaceFn = func(string) (uint64, error) { return 0, nil }

	// When
	err = s.PrepareForRun(1, false)

	// Then
	require.Error(t, err)
	var dfErr *dferrors.Error
	require.ErrorAs(t, err, &dfErr)
	require.Equal(t, dferrors.IssueInsufficientDiskSpace, dfErr.Issue)
}

func TestStore_WriteTimeSliceRejectsDuplicate(t *testing.T) {
	// Given
	cfg := testCfg(t)
	s, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.PrepareForRun(1, false))

	src := dfmessages.SourceID{Subsystem: dfmessages.SubsystemDetectorReadout, ID: 3}
	ts := dfmessages.TimeSlice{SliceNumber: 5, RunNumber: 1, Fragments: []dfmessages.Fragment{{ElementID: src}}}
	require.NoError(t, s.WriteTimeSlice(ts))

	// When: the same slice is written again
	err = s.WriteTimeSlice(ts)

	// Then
	require.Error(t, err)
	var dfErr *dferrors.Error
	require.ErrorAs(t, err, &dfErr)
	require.Equal(t, dferrors.IssueTimeSliceAlreadyExists, dfErr.Issue)
	require.Equal(t, dferrors.KindIgnorable, dfErr.Kind)
}

func TestStore_FinishWithRunClosesOpenFile(t *testing.T) {
	// Given
	cfg := testCfg(t)
	s, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.PrepareForRun(1, false))
	src := dfmessages.SourceID{Subsystem: dfmessages.SubsystemDetectorReadout, ID: 1}
	require.NoError(t, s.WriteTriggerRecord(sampleRecord(1, src)))
	require.NotEmpty(t, s.openDirName)

	// When
	require.NoError(t, s.FinishWithRun(1))

	// Then
	require.Empty(t, s.openDirName)
}

func TestStore_RejectsUnsupportedMode(t *testing.T) {
	// Given
	cfg := testCfg(t)
	cfg.Mode = "bogus"

	// When
	_, err := New(cfg)

	// Then
	require.Error(t, err)
	var dfErr *dferrors.Error
	require.ErrorAs(t, err, &dfErr)
	require.Equal(t, dferrors.IssueInvalidOperationMode, dfErr.Issue)
}
