package lock

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTryLockConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".k2rebuild.lock")

	first := New(path)
	if err := first.TryLock(); err != nil {
		t.Fatalf("first TryLock: %v", err)
	}
	defer first.Unlock()

	second := New(path)
	err := second.TryLock()
	if err == nil {
		second.Unlock()
		t.Fatal("second TryLock succeeded while lock was held")
	}
	if !strings.Contains(err.Error(), path) {
		t.Errorf("error %q does not name the lock file", err)
	}
}

func TestUnlockReleases(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".k2rebuild.lock")

	first := New(path)
	if err := first.TryLock(); err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if err := first.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	second := New(path)
	if err := second.TryLock(); err != nil {
		t.Fatalf("TryLock after release: %v", err)
	}
	second.Unlock()
}

func TestTryLockCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".k2rebuild.lock")

	l := New(path)
	if err := l.TryLock(); err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	defer l.Unlock()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("lock file missing: %v", err)
	}
	if got := l.Path(); got != path {
		t.Errorf("Path() = %q, want %q", got, path)
	}
}
