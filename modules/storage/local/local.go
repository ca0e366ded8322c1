package local

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/dunedaq/dfcore/modules/storage"
	"github.com/dunedaq/dfcore/pkg/dferrors"
	"github.com/dunedaq/dfcore/pkg/dfmessages"
)

var localJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Store is the filesystem-backed Sink (spec.md §4.7), grounded on
// HDF5DataStore. One Store instance writes one run's worth of records at a
// time; callers serialize PrepareForRun/Write.../FinishWithRun per run.
type Store struct {
	cfg        Config
	translator *storage.KeyTranslator

	mu                  sync.Mutex
	runNumber           dfmessages.RunNumber
	runIsForTest        bool
	fileIndex           uint64
	recordedSize        uint64
	currentRecordNumber uint64
	haveRecordNumber    bool
	openDirName         string

	// freeSpaceFn abstracts statfs for tests; defaults to diskFreeSpace.
	freeSpaceFn func(path string) (uint64, error)
	// nowFn abstracts the unique-filename timestamp for tests.
	nowFn func() time.Time
}

// New constructs a Store. The mode is validated eagerly, mirroring
// HDF5DataStore's constructor-time InvalidOperationMode check.
func New(cfg Config) (*Store, error) {
	cfg.ApplyDefaults()
	if cfg.Mode != storage.ModeOneEventPerFile && cfg.Mode != storage.ModeAllPerFile {
		return nil, dferrors.New(dferrors.IssueInvalidOperationMode,
			"unsupported operation mode %q", cfg.Mode)
	}

	translator, err := storage.NewKeyTranslator(cfg.FileLayoutParams)
	if err != nil {
		return nil, err
	}

	return &Store{
		cfg:         cfg,
		translator:  translator,
		freeSpaceFn: diskFreeSpace,
		nowFn:       time.Now,
	}, nil
}

// PrepareForRun validates the output directory and available free space
// (spec.md §4.7 Per-run lifecycle), mirroring HDF5DataStore::prepare_for_run.
func (s *Store) PrepareForRun(run dfmessages.RunNumber, runIsForTest bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.cfg.DirectoryPath, 0o755); err != nil {
		return dferrors.Wrap(dferrors.IssueInvalidOutputPath, err,
			"output path %q is not usable", s.cfg.DirectoryPath)
	}

	free, err := s.freeSpaceFn(s.cfg.DirectoryPath)
	if err != nil {
		return dferrors.Wrap(dferrors.IssueInvalidOutputPath, err,
			"could not stat output path %q", s.cfg.DirectoryPath)
	}
	if free < s.cfg.MaxFileSize {
		return dferrors.New(dferrors.IssueInsufficientDiskSpace,
			"%d bytes free at %q, need at least the configured max file size of %d bytes", free, s.cfg.DirectoryPath, s.cfg.MaxFileSize)
	}

	s.runNumber = run
	s.runIsForTest = runIsForTest
	s.fileIndex = 0
	s.recordedSize = 0
	s.haveRecordNumber = false
	s.openDirName = ""
	return nil
}

// FinishWithRun closes any file left open for run, mirroring
// HDF5DataStore::finish_with_run.
func (s *Store) FinishWithRun(run dfmessages.RunNumber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.openDirName = ""
	s.runNumber = 0
	return nil
}

// WriteTriggerRecord appends tr, rolling files and checking free space per
// spec.md §4.7.
func (s *Store) WriteTriggerRecord(tr dfmessages.TriggerRecord) error {
	if !s.cfg.Enabled {
		return nil
	}

	payload, err := localJSON.Marshal(tr)
	if err != nil {
		return fmt.Errorf("encoding trigger record: %w", err)
	}
	size := uint64(len(payload))

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFreeSpace(size, "the trigger record size"); err != nil {
		return err
	}
	if err := s.rollIfNeeded(size, uint64(tr.Header.TriggerNumber)); err != nil {
		return err
	}

	dirName, err := s.openRecordDirLocked()
	if err != nil {
		return err
	}

	headerKey := dfmessages.StorageKey{
		RunNumber: tr.Header.RunNumber, TriggerNumber: tr.Header.TriggerNumber,
		SequenceNumber: tr.Header.SequenceNumber, MaxSequenceNumber: tr.Header.MaxSequenceNumber,
		GroupType: dfmessages.GroupTriggerRecordHeader,
	}
	if err := s.writeLeaf(dirName, headerKey, tr.Header); err != nil {
		return err
	}
	for _, frag := range tr.Fragments {
		key := fragmentStorageKey(frag, tr.Header.MaxSequenceNumber)
		if err := s.writeLeaf(dirName, key, frag); err != nil {
			return err
		}
	}

	s.recordedSize += size
	return nil
}

// WriteTimeSlice appends ts; a slice already on disk for its key is
// IssueTimeSliceAlreadyExists (KindIgnorable), mirroring
// hdf5libs::TimeSliceAlreadyExists.
func (s *Store) WriteTimeSlice(ts dfmessages.TimeSlice) error {
	if !s.cfg.Enabled {
		return nil
	}

	payload, err := localJSON.Marshal(ts)
	if err != nil {
		return fmt.Errorf("encoding time slice: %w", err)
	}
	size := uint64(len(payload))

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFreeSpace(size, "the time slice size"); err != nil {
		return err
	}
	if err := s.rollIfNeeded(size, ts.SliceNumber); err != nil {
		return err
	}

	dirName, err := s.openRecordDirLocked()
	if err != nil {
		return err
	}

	for _, frag := range ts.Fragments {
		key := dfmessages.StorageKey{
			RunNumber: ts.RunNumber, TriggerNumber: dfmessages.TriggerNumber(ts.SliceNumber),
			GroupType: dfmessages.GroupTPCTP, ElementNumber: frag.ElementID.ID,
		}
		leafPath, err := s.translator.PathString(key)
		if err != nil {
			return err
		}
		full := filepath.Join(dirName, leafPath+".json")
		if _, statErr := os.Stat(full); statErr == nil {
			return dferrors.New(dferrors.IssueTimeSliceAlreadyExists,
				"slice %d already written for element %s", ts.SliceNumber, frag.ElementID)
		}
		if err := s.writeLeaf(dirName, key, frag); err != nil {
			return err
		}
	}

	s.recordedSize += size
	return nil
}

func fragmentStorageKey(frag dfmessages.Fragment, maxSeq dfmessages.SequenceNumber) dfmessages.StorageKey {
	return dfmessages.StorageKey{
		RunNumber: frag.RunNumber, TriggerNumber: frag.TriggerNumber,
		SequenceNumber: frag.SequenceNumber, MaxSequenceNumber: maxSeq,
		GroupType: groupTypeForSubsystem(frag.ElementID.Subsystem), ElementNumber: frag.ElementID.ID,
	}
}

func groupTypeForSubsystem(s dfmessages.Subsystem) dfmessages.GroupType {
	switch s {
	case dfmessages.SubsystemTrigger:
		return dfmessages.GroupTrigger
	default:
		return dfmessages.GroupTPC
	}
}

// checkFreeSpace raises RetryableDataStoreProblem(InsufficientDiskSpace) when
// free space is below the configured safety factor, per spec.md §4.7.
func (s *Store) checkFreeSpace(recordSize uint64, criteria string) error {
	free, err := s.freeSpaceFn(s.cfg.DirectoryPath)
	if err != nil {
		return dferrors.Wrap(dferrors.IssueInsufficientDiskSpace, err, "could not stat output path %q", s.cfg.DirectoryPath)
	}
	needed := uint64(s.cfg.FreeSpaceSafetyFactor * float64(recordSize))
	if free < needed {
		return dferrors.New(dferrors.IssueInsufficientDiskSpace,
			"%d bytes free at %q, need %d based on a safety factor of %.2f times %s",
			free, s.cfg.DirectoryPath, needed, s.cfg.FreeSpaceSafetyFactor, criteria)
	}
	return nil
}

// rollIfNeeded increments fileIndex when the next write would exceed
// MaxFileSize, or (one-event-per-file mode) when recordNumber changes,
// mirroring HDF5DataStore::increment_file_index_if_needed.
func (s *Store) rollIfNeeded(nextSize, recordNumber uint64) error {
	rolled := false
	if s.recordedSize > 0 && s.recordedSize+nextSize > s.cfg.MaxFileSize {
		s.fileIndex++
		s.recordedSize = 0
		rolled = true
	}
	if !rolled && s.cfg.Mode == storage.ModeOneEventPerFile {
		if s.haveRecordNumber && recordNumber != s.currentRecordNumber {
			s.fileIndex++
			s.recordedSize = 0
		}
	}
	s.currentRecordNumber = recordNumber
	s.haveRecordNumber = true
	return nil
}

// openRecordDirLocked ensures the directory standing in for the current
// HDF5 container is created, building its name from the filename grammar of
// spec.md §4.7. Caller must hold s.mu.
func (s *Store) openRecordDirLocked() (string, error) {
	name := s.fileName()
	if s.openDirName == name {
		return s.openDirName, nil
	}

	full := name
	if !s.cfg.DisableUniqueFilenameSuffix {
		full = uniqueSuffixed(name, s.nowFn())
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return "", dferrors.Wrap(dferrors.IssueFileOperationProblem, err, "opening file %q", full)
	}
	s.openDirName = full
	return full, nil
}

// fileName builds `<operational_env>_<file_type_prefix>_<run_prefix><run:N>_
// <file_prefix><idx:M>_<writer_id>.hdf5` (spec.md §4.7), mirroring
// HDF5DataStore::get_file_name.
func (s *Store) fileName() string {
	fp := s.cfg.FilenameParams
	base := fmt.Sprintf("%s_%s_%s%0*d_%s%0*d_%s.hdf5",
		s.cfg.OperationalEnvironment, fp.FileTypePrefix,
		fp.RunNumberPrefix, fp.DigitsForRunNumber, s.runNumber,
		fp.FileIndexPrefix, fp.DigitsForFileIndex, s.fileIndex,
		s.cfg.WriterIdentifier)
	return filepath.Join(s.cfg.DirectoryPath, base)
}

// uniqueSuffixed inserts "_<iso8601>" before the trailing ".hdf5", mirroring
// HDF5DataStore::open_file_if_needed's timestamp substring.
func uniqueSuffixed(name string, now time.Time) string {
	const ext = ".hdf5"
	if len(name) <= len(ext) {
		return name
	}
	stamp := now.UTC().Format("20060102T150405")
	return name[:len(name)-len(ext)] + "_" + stamp + ext
}

func (s *Store) writeLeaf(dirName string, key dfmessages.StorageKey, v interface{}) error {
	leafPath, err := s.translator.PathString(key)
	if err != nil {
		return err
	}
	full := filepath.Join(dirName, leafPath+".json")
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("creating group directory for %s: %w", leafPath, err)
	}
	payload, err := localJSON.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", leafPath, err)
	}
	if err := os.WriteFile(full, payload, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", leafPath, err)
	}
	return nil
}

// diskFreeSpace returns the bytes available to an unprivileged writer at
// path, via statfs. No third-party disk-usage library appears anywhere in
// the example pack; the original itself calls statvfs() directly, so this
// stays on the standard library rather than inventing a dependency.
func diskFreeSpace(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
