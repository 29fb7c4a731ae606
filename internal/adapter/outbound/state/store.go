package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/dockvault/dockpilot/internal/domain/task"
)

// ErrUnsupportedVersion is returned for a state file written by a newer dockpilot.
var ErrUnsupportedVersion = errors.New("unsupported state file version")

// FileStateStore reads and writes state.json. Writes replace the file
// atomically and keep the previous content in path+".bak". Writers in this
// process are serialized by a mutex and writers in other processes (a second
// "dockpilot start", or "dockpilot evaluate" reading the same state) by a
// lock on path+".lock".
type FileStateStore struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
	now    func() time.Time
}

// NewFileStateStore creates a FileStateStore for path.
func NewFileStateStore(path string, logger *slog.Logger) *FileStateStore {
	return &FileStateStore{
		path:   path,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Load reads state.json. A missing file yields DefaultState. A file that
// does not parse is replaced by its .bak copy when that parses; a file from
// a newer version is an error. Group or world access is logged.
func (s *FileStateStore) Load() (*AppState, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.logger.Debug("state file not found, using default state", "path", s.path)
		return s.DefaultState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(s.path); statErr == nil && info.Mode().Perm()&0077 != 0 {
			s.logger.Warn("state file is readable by other users, should be 0600",
				"path", s.path, "current_mode", fmt.Sprintf("%04o", info.Mode().Perm()))
		}
	}

	state, err := decode(data)
	if err == nil {
		return state, nil
	}
	if errors.Is(err, ErrUnsupportedVersion) {
		return nil, err
	}
	bak, bakErr := os.ReadFile(s.path + ".bak")
	if bakErr != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	recovered, bakErr := decode(bak)
	if bakErr != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	s.logger.Warn("state file corrupt, loaded backup", "path", s.path, "error", err)
	return recovered, nil
}

func decode(data []byte) (*AppState, error) {
	var state AppState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	if state.Version == "" {
		state.Version = CurrentVersion
	}
	if v, err := strconv.Atoi(state.Version); err != nil || v > currentVersionNumber {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, state.Version)
	}
	if state.Tasks == nil {
		state.Tasks = []task.Task{}
	}
	return &state, nil
}

// Save replaces state.json with state.
func (s *FileStateStore) Save(state *AppState) error {
	return s.locked(func() error { return s.save(state) })
}

// Update loads the current state, applies fn and saves the result while
// holding both locks, so the agent config and the task list can be written
// by different goroutines or processes without losing either. Nothing is
// saved when fn returns an error.
func (s *FileStateStore) Update(fn func(*AppState) error) error {
	return s.locked(func() error {
		appState, err := s.Load()
		if err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		if err := fn(appState); err != nil {
			return err
		}
		if err := s.save(appState); err != nil {
			return fmt.Errorf("save state: %w", err)
		}
		return nil
	})
}

// locked runs fn under the in-process mutex and the cross-process file lock.
func (s *FileStateStore) locked(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockFile, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	unlock, err := lockExclusive(lockFile)
	if err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer func() { _ = unlock() }()

	return fn()
}

// save stamps and writes state. Callers hold the locks.
func (s *FileStateStore) save(state *AppState) error {
	state.Version = CurrentVersion
	state.UpdatedAt = s.now()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = state.UpdatedAt
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data = append(data, '\n')

	if previous, readErr := os.ReadFile(s.path); readErr == nil {
		if err := os.WriteFile(s.path+".bak", previous, 0600); err != nil {
			s.logger.Warn("failed to back up state file", "error", err)
		}
	}
	if err := s.writeAtomic(data); err != nil {
		return err
	}
	// A file written by hand may have been created with a wider mode.
	if err := os.Chmod(s.path, 0600); err != nil {
		s.logger.Warn("failed to set permissions on state file", "error", err)
	}

	s.logger.Debug("state saved", "path", s.path, "tasks", len(state.Tasks), "agent_config", state.Agent != nil)
	return nil
}

// writeAtomic writes data to path+".tmp", fsyncs it and renames it over
// path. The temp file is removed on any error.
func (s *FileStateStore) writeAtomic(data []byte) (err error) {
	tmpPath := s.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename temp to state: %w", err)
	}
	return nil
}

// DefaultState returns an empty AppState: no saved agent configuration and
// no tasks.
func (s *FileStateStore) DefaultState() *AppState {
	now := s.now()
	return &AppState{
		Version:   CurrentVersion,
		Tasks:     []task.Task{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Exists reports whether state.json is on disk.
func (s *FileStateStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Path returns the state file path.
func (s *FileStateStore) Path() string {
	return s.path
}
