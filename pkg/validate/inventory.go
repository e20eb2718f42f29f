package validate

import (
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

type entryType int

const (
	typeFile entryType = iota
	typeDir
	typeSymlink
	typeUnsupported
)

// entry is one filesystem object, keyed by its slash-separated path
// relative to the tree root. Symlinks are never followed; the target
// string is their content.
type entry struct {
	typ    entryType
	size   int64
	mode   uint32
	target string
}

// inventory walks root and records every object below it.
func inventory(root string) (map[string]entry, error) {
	entries := make(map[string]entry)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return &ComparisonError{Path: path, Err: walkErr}
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return &ComparisonError{Path: path, Err: err}
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return &ComparisonError{Path: path, Err: err}
		}
		mode := info.Mode()
		switch {
		case mode.IsRegular():
			entries[rel] = entry{typ: typeFile, size: info.Size(), mode: posixMode(mode)}
		case mode.IsDir():
			entries[rel] = entry{typ: typeDir, mode: posixMode(mode)}
		case mode&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return &ComparisonError{Path: path, Err: err}
			}
			entries[rel] = entry{typ: typeSymlink, target: target}
		default:
			// Device nodes, sockets, pipes. Recorded so the report can
			// name them, never content-compared.
			entries[rel] = entry{typ: typeUnsupported}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// posixMode flattens a fs.FileMode into the numeric bits chmod works
// with, keeping setuid, setgid and sticky.
func posixMode(m fs.FileMode) uint32 {
	bits := uint32(m.Perm())
	if m&fs.ModeSetuid != 0 {
		bits |= 0o4000
	}
	if m&fs.ModeSetgid != 0 {
		bits |= 0o2000
	}
	if m&fs.ModeSticky != 0 {
		bits |= 0o1000
	}
	return bits
}

func formatMode(bits uint32) string {
	return strconv.FormatUint(uint64(bits), 8)
}
