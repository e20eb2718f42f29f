// Package lock serializes workspace access. Two runs against the same
// workdir would fight over the checkpoint and stage artifacts; the
// advisory lock makes the second one fail fast instead.
package lock

import (
	"fmt"

	"github.com/gofrs/flock"

	"github.com/k2rebuild/k2rebuild/pkg/errors"
)

// Lock is an advisory file lock over a workspace.
type Lock struct {
	fl *flock.Flock
}

// New prepares a lock at path. Nothing is held until TryLock.
func New(path string) *Lock {
	return &Lock{fl: flock.New(path)}
}

// TryLock acquires the lock without blocking. When another process
// holds it, the error names the lock file so the operator can find the
// competing run.
func (l *Lock) TryLock() error {
	locked, err := l.fl.TryLock()
	if err != nil {
		return errors.Wrap(err, "failed to acquire workspace lock")
	}
	if !locked {
		return fmt.Errorf("workspace is locked by another run (lock file %s)", l.fl.Path())
	}
	return nil
}

// Unlock releases the lock.
func (l *Lock) Unlock() error {
	return l.fl.Unlock()
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.fl.Path()
}
