package checkpoint

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/k2rebuild/k2rebuild/pkg/fsutil"
)

// CorruptionError reports a checkpoint file that exists but cannot be
// trusted: unreadable, invalid JSON, or semantically malformed. The
// pipeline refuses to run against it; the operator resolves it (usually
// with the clean command) rather than the code guessing.
type CorruptionError struct {
	Path string
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("checkpoint %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// Store reads and writes the checkpoint document at a fixed path.
type Store struct {
	path string
}

// NewStore creates a store for the given checkpoint path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the checkpoint file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the checkpoint. Returns (nil, nil) when no checkpoint
// exists. Any other failure to produce a valid Checkpoint is a
// CorruptionError.
func (s *Store) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if stderrors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		slog.Error("checkpoint_read_failed", "path", s.path, "error", err)
		return nil, &CorruptionError{Path: s.path, Err: err}
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		slog.Error("checkpoint_unmarshal_failed", "path", s.path, "error", err)
		return nil, &CorruptionError{Path: s.path, Err: err}
	}
	if err := cp.validate(); err != nil {
		slog.Error("checkpoint_invalid", "path", s.path, "error", err)
		return nil, &CorruptionError{Path: s.path, Err: err}
	}

	return &cp, nil
}

// Save persists the checkpoint atomically. A crash mid-save leaves the
// previous document intact, never a partial one.
func (s *Store) Save(cp *Checkpoint) error {
	if err := fsutil.WriteJSON(s.path, cp); err != nil {
		slog.Error("checkpoint_save_failed", "path", s.path, "error", err)
		return err
	}
	slog.Debug("checkpoint_saved", "path", s.path, "stage", cp.Stage, "history_len", len(cp.History))
	return nil
}
