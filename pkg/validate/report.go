package validate

import (
	"sort"

	"github.com/k2rebuild/k2rebuild/pkg/fsutil"
)

// Report verdicts.
const (
	VerdictPass = "pass"
	VerdictFail = "fail"
)

// SizeMismatch is a file present on both sides with different sizes.
type SizeMismatch struct {
	Path         string `json:"path"`
	OriginalSize int64  `json:"original_size"`
	RebuiltSize  int64  `json:"rebuilt_size"`
}

// PermissionMismatch is a path whose POSIX mode bits differ. Modes are
// octal strings the way chmod prints them ("644", "4755").
type PermissionMismatch struct {
	Path         string `json:"path"`
	OriginalMode string `json:"original_mode"`
	RebuiltMode  string `json:"rebuilt_mode"`
}

// Report is the structured outcome of comparing two rootfs trees. Every
// bucket is sorted by path and present in the JSON even when empty.
type Report struct {
	Verdict            string               `json:"verdict"`
	Missing            []string             `json:"missing"`
	Extra              []string             `json:"extra"`
	SizeMismatch       []SizeMismatch       `json:"size_mismatch"`
	ChecksumMismatch   []string             `json:"checksum_mismatch"`
	PermissionMismatch []PermissionMismatch `json:"permission_mismatch"`
	UnsupportedType    []string             `json:"unsupported_type"`
}

func newReport() *Report {
	return &Report{
		Missing:            []string{},
		Extra:              []string{},
		SizeMismatch:       []SizeMismatch{},
		ChecksumMismatch:   []string{},
		PermissionMismatch: []PermissionMismatch{},
		UnsupportedType:    []string{},
	}
}

// normalize sorts every bucket and settles the verdict. Comparisons may
// finish in any order; the persisted report never shows it.
func (r *Report) normalize() {
	sort.Strings(r.Missing)
	sort.Strings(r.Extra)
	sort.Strings(r.ChecksumMismatch)
	sort.Strings(r.UnsupportedType)
	sort.Slice(r.SizeMismatch, func(i, j int) bool {
		return r.SizeMismatch[i].Path < r.SizeMismatch[j].Path
	})
	sort.Slice(r.PermissionMismatch, func(i, j int) bool {
		return r.PermissionMismatch[i].Path < r.PermissionMismatch[j].Path
	})

	if r.Findings() == 0 {
		r.Verdict = VerdictPass
	} else {
		r.Verdict = VerdictFail
	}
}

// Pass reports whether the comparison found no discrepancies.
func (r *Report) Pass() bool {
	return r.Verdict == VerdictPass
}

// Findings returns the total number of discrepancies across all buckets.
func (r *Report) Findings() int {
	return len(r.Missing) + len(r.Extra) + len(r.SizeMismatch) +
		len(r.ChecksumMismatch) + len(r.PermissionMismatch) + len(r.UnsupportedType)
}

// WriteFile persists the report as JSON, atomically.
func (r *Report) WriteFile(path string) error {
	return fsutil.WriteJSON(path, r)
}
