package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/cyrup-ai/kodegen-release/pkg/log"
	"github.com/cyrup-ai/kodegen-release/pkg/types"
)

const (
	// StateFileName is the release record file inside the working tree.
	StateFileName = ".cyrup_release_state.json"

	// LockFileName is the sibling advisory-lock file.
	LockFileName = ".cyrup_release_state.lock"

	// lockRetryInterval is the sleep between lock attempts under contention.
	lockRetryInterval = 100 * time.Millisecond
)

// ErrNotFound is returned by Load when no record file exists.
var ErrNotFound = errors.New("release state not found")

// FormatError reports a record written with an unsupported schema version.
type FormatError struct {
	Got  int
	Want int
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unsupported state format version %d (expected %d)", e.Got, e.Want)
}

// Config holds store tuning knobs.
type Config struct {
	// LockTimeout bounds how long Save waits for the advisory lock.
	LockTimeout time.Duration

	// StaleLockTimeout is the mtime-based fallback used only where the OS
	// offers no advisory locking. Best effort.
	StaleLockTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		LockTimeout:      5 * time.Second,
		StaleLockTimeout: time.Hour,
	}
}

// Store persists the release record for one working tree. The advisory lock
// is acquired on first Save and held until Close, so the kernel releases it
// automatically if the process dies.
type Store struct {
	statePath string
	lockPath  string
	cfg       Config
	fl        *flock.Flock
}

// New creates a store rooted at the given working tree directory.
func New(workingTree string, cfg Config) *Store {
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = DefaultConfig().LockTimeout
	}
	if cfg.StaleLockTimeout == 0 {
		cfg.StaleLockTimeout = DefaultConfig().StaleLockTimeout
	}
	return &Store{
		statePath: filepath.Join(workingTree, StateFileName),
		lockPath:  filepath.Join(workingTree, LockFileName),
		cfg:       cfg,
		fl:        flock.New(filepath.Join(workingTree, LockFileName)),
	}
}

// Path returns the record file path.
func (s *Store) Path() string {
	return s.statePath
}

// Save persists the record atomically and increments its save version. The
// advisory lock is held for the full call (and beyond, until Close).
func (s *Store) Save(rec *types.ReleaseRecord) error {
	if err := s.acquireLock(); err != nil {
		return err
	}

	rec.SaveVersion++
	rec.UpdatedAt = time.Now().UTC()
	if rec.UpdatedAt.Before(rec.StartedAt) {
		rec.UpdatedAt = rec.StartedAt
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling release record: %w", err)
	}

	// Write-to-temp, fsync, rename: a crash leaves either the old record or
	// the new one, never a torn file.
	tmpPath := s.statePath + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp state file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.statePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp state file: %w", err)
	}
	return nil
}

// Load reads and validates the record. Returns ErrNotFound when the file does
// not exist and a FormatError when the schema version is unsupported.
func (s *Store) Load() (*types.ReleaseRecord, error) {
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var rec types.ReleaseRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}
	if rec.FormatVersion != types.FormatVersion {
		return nil, &FormatError{Got: rec.FormatVersion, Want: types.FormatVersion}
	}
	return &rec, nil
}

// Cleanup removes both the record and the lock file.
func (s *Store) Cleanup() error {
	var errs []error
	if err := os.Remove(s.statePath); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("removing state file: %w", err))
	}
	s.releaseLock()
	if err := os.Remove(s.lockPath); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("removing lock file: %w", err))
	}
	return errors.Join(errs...)
}

// IsLockedByOther reports, without blocking, whether another process holds
// the advisory lock.
func (s *Store) IsLockedByOther() (bool, error) {
	if s.fl.Locked() {
		return false, nil
	}
	probe := flock.New(s.lockPath)
	ok, err := probe.TryLock()
	if err != nil {
		// No advisory locking on this filesystem; fall back to the mtime
		// stale test. Best effort only.
		return s.lockFileFresh(), nil
	}
	if ok {
		probe.Unlock()
		return false, nil
	}
	return true, nil
}

// Close releases the advisory lock if held.
func (s *Store) Close() error {
	s.releaseLock()
	return nil
}

func (s *Store) acquireLock() error {
	if s.fl.Locked() {
		return nil
	}

	deadline := time.Now().Add(s.cfg.LockTimeout)
	for {
		ok, err := s.fl.TryLock()
		if err != nil {
			return fmt.Errorf("acquiring state lock: %w", err)
		}
		if ok {
			s.writeLockDiagnostics()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("state file locked by another process (holder: %s), timed out after %s",
				s.lockHolderInfo(), s.cfg.LockTimeout)
		}
		time.Sleep(lockRetryInterval)
	}
}

func (s *Store) releaseLock() {
	if s.fl.Locked() {
		if err := s.fl.Unlock(); err != nil {
			stateLogger := log.WithComponent("state")
			stateLogger.Warn().Err(err).Msg("failed to release state lock")
		}
	}
}

// writeLockDiagnostics records PID and acquisition time in the lock file.
// The OS lock is the truth source; this content is for humans debugging a
// stuck release.
func (s *Store) writeLockDiagnostics() {
	info := fmt.Sprintf("pid=%d acquired_at=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(s.lockPath, []byte(info), 0o644); err != nil {
		log.WithComponent("state").Debug().Err(err).Msg("could not write lock diagnostics")
	}
}

func (s *Store) lockHolderInfo() string {
	data, err := os.ReadFile(s.lockPath)
	if err != nil || len(data) == 0 {
		return "unknown"
	}
	return string(data[:len(data)-1])
}

// lockFileFresh reports whether the lock file was modified within the stale
// timeout. Used only where TryLock itself errors out.
func (s *Store) lockFileFresh() bool {
	fi, err := os.Stat(s.lockPath)
	if err != nil {
		return false
	}
	return time.Since(fi.ModTime()) < s.cfg.StaleLockTimeout
}
