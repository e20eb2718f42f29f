package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/k2rebuild/k2rebuild/pkg/stage"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "checkpoint.json"))
}

func TestLoadMissing(t *testing.T) {
	store := testStore(t)

	cp, err := store.Load()
	if err != nil {
		t.Fatalf("load of missing checkpoint failed: %v", err)
	}
	if cp != nil {
		t.Errorf("expected nil checkpoint, got %+v", cp)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := testStore(t)

	want := &Checkpoint{
		Stage:       "extract",
		Timestamp:   time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		Description: "extract complete",
		History: []Entry{
			{Stage: "fetch-device", Status: StatusSuccess, Attempts: 1, Timestamp: time.Date(2026, 3, 14, 9, 20, 0, 0, time.UTC)},
			{Stage: "download-fw", Status: StatusSuccess, Attempts: 2, Timestamp: time.Date(2026, 3, 14, 9, 24, 0, 0, time.UTC)},
			{Stage: "extract", Status: StatusSuccess, Attempts: 1, Timestamp: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)},
		},
	}

	if err := store.Save(want); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if got.Stage != want.Stage {
		t.Errorf("stage = %q, want %q", got.Stage, want.Stage)
	}
	if !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, want.Timestamp)
	}
	if got.Description != want.Description {
		t.Errorf("description = %q, want %q", got.Description, want.Description)
	}
	if len(got.History) != len(want.History) {
		t.Fatalf("history length = %d, want %d", len(got.History), len(want.History))
	}
	for i := range want.History {
		g, w := got.History[i], want.History[i]
		if g.Stage != w.Stage || g.Status != w.Status || g.Attempts != w.Attempts || !g.Timestamp.Equal(w.Timestamp) {
			t.Errorf("history[%d] = %+v, want %+v", i, g, w)
		}
	}
}

func TestSaveOverwritesAtomically(t *testing.T) {
	store := testStore(t)

	first := &Checkpoint{}
	first.Record("fetch-device", StatusSuccess, 1, "fetch-device complete")
	if err := store.Save(first); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	second := &Checkpoint{}
	second.Record("fetch-device", StatusSuccess, 1, "fetch-device complete")
	second.Record("download-fw", StatusFailed, 3, "download-fw failed: timeout")
	if err := store.Save(second); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(got.History) != 2 {
		t.Errorf("history length = %d, want 2", len(got.History))
	}

	// No stray temp files next to the checkpoint.
	entries, _ := os.ReadDir(filepath.Dir(store.Path()))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestLoadCorrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"truncated", `{"stage": "extract", "history": [{"sta`},
		{"not json", "definitely not json\n"},
		{"unknown status", `{"stage": "extract", "timestamp": "2026-03-14T09:26:53Z", "description": "", "history": [{"stage": "extract", "status": "exploded", "attempts": 1, "timestamp": "2026-03-14T09:26:53Z"}]}`},
		{"empty stage in history", `{"stage": "extract", "timestamp": "2026-03-14T09:26:53Z", "description": "", "history": [{"stage": "", "status": "success", "attempts": 1, "timestamp": "2026-03-14T09:26:53Z"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testStore(t)
			if err := os.WriteFile(store.Path(), []byte(tt.content), 0o644); err != nil {
				t.Fatalf("write fixture: %v", err)
			}

			cp, err := store.Load()
			if err == nil {
				t.Fatalf("expected corruption error, got checkpoint %+v", cp)
			}
			var corrupt *CorruptionError
			if !errors.As(err, &corrupt) {
				t.Fatalf("error is %T, want *CorruptionError: %v", err, err)
			}
			if corrupt.Path != store.Path() {
				t.Errorf("error path = %q, want %q", corrupt.Path, store.Path())
			}
		})
	}
}

func TestStageDone(t *testing.T) {
	tests := []struct {
		name    string
		history []Entry
		stage   stage.ID
		want    bool
	}{
		{"empty history", nil, "extract", false},
		{
			"success",
			[]Entry{{Stage: "extract", Status: StatusSuccess, Attempts: 1}},
			"extract", true,
		},
		{
			"failed",
			[]Entry{{Stage: "extract", Status: StatusFailed, Attempts: 3}},
			"extract", false,
		},
		{
			"interrupted",
			[]Entry{{Stage: "extract", Status: StatusRunning}},
			"extract", false,
		},
		{
			"failed then retried successfully",
			[]Entry{
				{Stage: "extract", Status: StatusFailed, Attempts: 3},
				{Stage: "extract", Status: StatusSuccess, Attempts: 1},
			},
			"extract", true,
		},
		{
			"other stage succeeded",
			[]Entry{{Stage: "download-fw", Status: StatusSuccess, Attempts: 1}},
			"extract", false,
		},
		{
			"earlier success survives later stages",
			[]Entry{
				{Stage: "fetch-device", Status: StatusSuccess, Attempts: 1},
				{Stage: "download-fw", Status: StatusSuccess, Attempts: 1},
				{Stage: "extract", Status: StatusFailed, Attempts: 3},
			},
			"download-fw", true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := &Checkpoint{Stage: "x", History: tt.history}
			if got := cp.StageDone(tt.stage); got != tt.want {
				t.Errorf("StageDone(%q) = %v, want %v", tt.stage, got, tt.want)
			}
		})
	}
}

func TestRecordResolvesRunningEntry(t *testing.T) {
	cp := &Checkpoint{}

	cp.Record("extract", StatusRunning, 0, "running extract")
	if len(cp.History) != 1 {
		t.Fatalf("history length = %d, want 1", len(cp.History))
	}
	if cp.Stage != "extract" || cp.History[0].Status != StatusRunning {
		t.Fatalf("running entry not recorded: %+v", cp)
	}

	cp.Record("extract", StatusSuccess, 2, "extract complete")
	if len(cp.History) != 1 {
		t.Fatalf("running entry should be resolved in place, history length = %d", len(cp.History))
	}
	if cp.History[0].Status != StatusSuccess || cp.History[0].Attempts != 2 {
		t.Errorf("resolved entry = %+v, want success with 2 attempts", cp.History[0])
	}
}

func TestRecordAppendsAfterResolvedEntry(t *testing.T) {
	cp := &Checkpoint{}
	cp.Record("extract", StatusFailed, 3, "extract failed: exit code 1")
	cp.Record("extract", StatusRunning, 0, "running extract")
	cp.Record("extract", StatusSuccess, 1, "extract complete")

	// The failure stays; the retry resolves its own entry.
	if len(cp.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(cp.History))
	}
	if cp.History[0].Status != StatusFailed || cp.History[1].Status != StatusSuccess {
		t.Errorf("history = %+v, want failed then success", cp.History)
	}
	if !cp.StageDone("extract") {
		t.Error("stage should be done after successful retry")
	}
}

func TestInterrupted(t *testing.T) {
	cp := &Checkpoint{}
	if cp.Interrupted() {
		t.Error("empty checkpoint should not be interrupted")
	}

	cp.Record("extract", StatusRunning, 0, "running extract")
	if !cp.Interrupted() {
		t.Error("checkpoint with trailing running entry should be interrupted")
	}

	cp.Record("extract", StatusSuccess, 1, "extract complete")
	if cp.Interrupted() {
		t.Error("resolved checkpoint should not be interrupted")
	}
}
