// Package validate compares an extracted firmware rootfs against a
// rebuilt one and reports every discrepancy: missing and extra paths,
// size, content and permission mismatches, and object types it refuses
// to compare. The comparison is read-only on both trees.
package validate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ComparisonError reports an I/O failure while reading one of the trees.
// It aborts the comparison: a half-read tree must not produce a verdict.
type ComparisonError struct {
	Path string
	Err  error
}

func (e *ComparisonError) Error() string {
	return fmt.Sprintf("comparing %s: %v", e.Path, e.Err)
}

func (e *ComparisonError) Unwrap() error {
	return e.Err
}

// Options tune a comparison.
type Options struct {
	// Workers caps concurrent checksum computations. Zero or negative
	// means one worker per CPU.
	Workers int
}

// Compare walks both trees and returns a full discrepancy report. Paths
// are compared by their location relative to each root. Regular files
// match when size, checksum and mode all agree; symlinks when their
// targets agree; directories when their modes agree. A path whose type
// differs between the trees counts as both missing and extra.
func Compare(ctx context.Context, originalRoot, rebuiltRoot string, opts Options) (*Report, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	origRoot, err := resolveRoot(originalRoot)
	if err != nil {
		return nil, err
	}
	rebRoot, err := resolveRoot(rebuiltRoot)
	if err != nil {
		return nil, err
	}

	slog.Info("validate_walk_start", "original", origRoot, "rebuilt", rebRoot)

	var origInv, rebInv map[string]entry
	var walk errgroup.Group
	walk.Go(func() error {
		var err error
		origInv, err = inventory(origRoot)
		return err
	})
	walk.Go(func() error {
		var err error
		rebInv, err = inventory(rebRoot)
		return err
	})
	if err := walk.Wait(); err != nil {
		return nil, err
	}

	slog.Info("validate_walk_complete",
		"original_entries", len(origInv),
		"rebuilt_entries", len(rebInv))

	report := newReport()

	type checksumPair struct {
		rel      string
		origPath string
		rebPath  string
	}
	var pairs []checksumPair

	for rel, oe := range origInv {
		re, present := rebInv[rel]
		if oe.typ == typeUnsupported || (present && re.typ == typeUnsupported) {
			report.UnsupportedType = append(report.UnsupportedType, rel)
			continue
		}
		if !present {
			report.Missing = append(report.Missing, rel)
			continue
		}
		if oe.typ != re.typ {
			// A path that changed type matches nothing on the other side.
			report.Missing = append(report.Missing, rel)
			report.Extra = append(report.Extra, rel)
			continue
		}
		switch oe.typ {
		case typeDir:
			if oe.mode != re.mode {
				report.PermissionMismatch = append(report.PermissionMismatch, PermissionMismatch{
					Path:         rel,
					OriginalMode: formatMode(oe.mode),
					RebuiltMode:  formatMode(re.mode),
				})
			}
		case typeSymlink:
			// The target string is the link's content.
			if oe.target != re.target {
				report.ChecksumMismatch = append(report.ChecksumMismatch, rel)
			}
		case typeFile:
			if oe.mode != re.mode {
				report.PermissionMismatch = append(report.PermissionMismatch, PermissionMismatch{
					Path:         rel,
					OriginalMode: formatMode(oe.mode),
					RebuiltMode:  formatMode(re.mode),
				})
			}
			if oe.size != re.size {
				report.SizeMismatch = append(report.SizeMismatch, SizeMismatch{
					Path:         rel,
					OriginalSize: oe.size,
					RebuiltSize:  re.size,
				})
				// Different sizes cannot hash equal; skip the read.
				continue
			}
			pairs = append(pairs, checksumPair{
				rel:      rel,
				origPath: filepath.Join(origRoot, filepath.FromSlash(rel)),
				rebPath:  filepath.Join(rebRoot, filepath.FromSlash(rel)),
			})
		}
	}

	for rel, re := range rebInv {
		if _, present := origInv[rel]; present {
			continue
		}
		if re.typ == typeUnsupported {
			report.UnsupportedType = append(report.UnsupportedType, rel)
			continue
		}
		report.Extra = append(report.Extra, rel)
	}

	if len(pairs) > 0 {
		slog.Info("validate_checksum_start", "pairs", len(pairs), "workers", workers)

		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for _, pair := range pairs {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				origSum, err := fileChecksum(pair.origPath)
				if err != nil {
					return &ComparisonError{Path: pair.origPath, Err: err}
				}
				rebSum, err := fileChecksum(pair.rebPath)
				if err != nil {
					return &ComparisonError{Path: pair.rebPath, Err: err}
				}
				if origSum != rebSum {
					mu.Lock()
					report.ChecksumMismatch = append(report.ChecksumMismatch, pair.rel)
					mu.Unlock()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	report.normalize()
	slog.Info("validate_compare_complete",
		"verdict", report.Verdict,
		"findings", report.Findings())
	return report, nil
}

// resolveRoot follows a symlinked root and insists on a directory.
func resolveRoot(root string) (string, error) {
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", &ComparisonError{Path: root, Err: err}
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", &ComparisonError{Path: root, Err: err}
	}
	if !info.IsDir() {
		return "", &ComparisonError{Path: root, Err: fmt.Errorf("not a directory")}
	}
	return resolved, nil
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
