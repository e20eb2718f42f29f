// Package fsutil provides atomic file write helpers. A write is staged in a
// temp file in the target directory, synced, and renamed over the target so
// readers never observe a partially-written file.
package fsutil

import (
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"syscall"

	"github.com/k2rebuild/k2rebuild/pkg/errors"
)

// WriteFile writes data to path atomically with the given permissions.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpPath := tmp.Name()

	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()
	defer tmp.Close()

	if _, err = tmp.Write(data); err != nil {
		return errors.Wrap(err, "write temp file")
	}
	if err = tmp.Sync(); err != nil {
		return errors.Wrap(err, "sync temp file")
	}
	if err = tmp.Chmod(perm); err != nil {
		return errors.Wrap(err, "chmod temp file")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return errors.Wrap(err, "rename temp to target")
	}
	if err = syncDir(dir); err != nil {
		return errors.Wrap(err, "sync parent dir")
	}
	return nil
}

// WriteJSON marshals v with indentation and writes it atomically.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal JSON")
	}
	data = append(data, '\n')
	return WriteFile(path, data, 0o644)
}

// syncDir fsyncs a directory so the renamed entry is durable. Some
// filesystems reject fsync on directories; those errors are ignored.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Sync(); err != nil &&
		!stderrors.Is(err, syscall.EINVAL) && !stderrors.Is(err, syscall.ENOTSUP) && !stderrors.Is(err, syscall.EBADF) {
		return err
	}
	return nil
}
