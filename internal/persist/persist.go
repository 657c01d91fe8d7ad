// Package persist loads and saves the declarative workspace document to a
// single JSON file, modeled on the load/save/path shape of the bken
// client's own internal/config package but hardened for a long-running
// service: atomic rename-over-tempfile writes guarded by an advisory flock,
// corrupt-file recovery with a timestamped backup, and optional fsnotify
// hot-reload for external edits.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"

	"github.com/MomoPewpew/Orpheus/internal/model"
	"github.com/MomoPewpew/Orpheus/internal/reconcile"
)

// Store persists an AppState document at a fixed path.
type Store struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// New returns a Store for the document at path.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Load reads the document at s.path. A missing file returns a fresh
// AppState with default effects, not an error — that is a first run, not a
// fault. A file that fails to unmarshal is backed up alongside the original
// path with a timestamp suffix and a fresh AppState is returned instead of
// failing startup.
//
// Every environment's play_state is forced to STOPPED and any open fade
// window is cleared: persistence carries the declarative tree across a
// restart, never the transport state or an in-flight fade.
func (s *Store) Load() (*model.AppState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return freshState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist: read %s: %w", s.path, err)
	}

	var state model.AppState
	if err := json.Unmarshal(data, &state); err != nil {
		s.backupCorrupt(data, err)
		return freshState(), nil
	}

	for i := range state.Environments {
		env := &state.Environments[i]
		env.PlayState = model.Stopped
		model.ClearFade(env)
		reconcile.RecoverOrphanPreset(env, nil, s.logger)
	}
	return &state, nil
}

func freshState() *model.AppState {
	return &model.AppState{Effects: model.DefaultEffects()}
}

func (s *Store) backupCorrupt(data []byte, cause error) {
	backupPath := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
	if err := os.WriteFile(backupPath, data, 0o600); err != nil {
		s.logger.Error("failed to back up corrupt workspace file", "error", err, "cause", cause)
		return
	}
	s.logger.Warn("workspace file was corrupt, backed up and reset to defaults", "backup", backupPath, "cause", cause)
}

// Save atomically replaces the document at s.path with state: under an
// exclusive advisory lock held on a stable lock file beside s.path, it
// writes to a sibling temp file, syncs it, and renames over the target. The
// lock lives at a path every writer agrees on in advance — a lock taken on
// the temp file itself wouldn't serialize anything, since each writer (this
// process or another instance pointed at the same path) creates its own
// distinct temp file with a unique name. A concurrent reader never observes
// a partially written file, and a concurrent writer serializes on the
// stable-path flock rather than interleaving writes.
func (s *Store) Save(state *model.AppState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("persist: marshal workspace: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("persist: create %s: %w", dir, err)
	}

	lock, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return fmt.Errorf("persist: open lock file: %w", err)
	}
	defer lock.Close()

	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("persist: lock %s: %w", s.path, err)
	}
	defer unix.Flock(int(lock.Fd()), unix.LOCK_UN)

	tmp, err := os.CreateTemp(dir, ".workspace-*.tmp")
	if err != nil {
		return fmt.Errorf("persist: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	_, writeErr := tmp.Write(data)
	syncErr := tmp.Sync()
	closeErr := tmp.Close()

	if writeErr != nil {
		return fmt.Errorf("persist: write temp file: %w", writeErr)
	}
	if syncErr != nil {
		return fmt.Errorf("persist: sync temp file: %w", syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("persist: close temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("persist: rename into place: %w", err)
	}
	return nil
}

// Watch starts an fsnotify watch on s.path's directory and invokes onChange
// whenever the document itself is written or recreated — covers both a
// direct write and an editor's write-temp-then-rename. The returned stop
// function tears down the watcher; call it at most once.
func (s *Store) Watch(onChange func()) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("persist: create watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("persist: watch %s: %w", dir, err)
	}

	stopCh := make(chan struct{})
	target := filepath.Clean(s.path)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					onChange()
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("watcher error", "error", werr)
			case <-stopCh:
				return
			}
		}
	}()

	return func() {
		close(stopCh)
		watcher.Close()
	}, nil
}
