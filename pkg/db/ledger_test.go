package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/k2rebuild/k2rebuild/pkg/executor"
	"github.com/k2rebuild/k2rebuild/pkg/stage"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	ledger, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

func TestLedger_RunLifecycle(t *testing.T) {
	ledger := openTestLedger(t)

	if err := ledger.StartRun("run-1", false, 2); err != nil {
		t.Fatalf("failed to start run: %v", err)
	}
	if err := ledger.FinishRun("run-1", RunStatusSuccess); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}

	runs, err := ledger.RecentRuns(10)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	run := runs[0]
	if run.ID != "run-1" || run.Status != RunStatusSuccess || run.Resumed {
		t.Errorf("run mismatch: got %+v", run)
	}
	if run.FinishedAt == "" {
		t.Error("finished run has no finished_at")
	}
	if run.MaxRetries != 2 {
		t.Errorf("max_retries = %d, want 2", run.MaxRetries)
	}
}

func TestLedger_RecordStage(t *testing.T) {
	ledger := openTestLedger(t)

	if err := ledger.StartRun("run-1", false, 2); err != nil {
		t.Fatalf("failed to start run: %v", err)
	}
	ok := executor.Result{
		Stage:    stage.FetchDevice,
		Success:  true,
		Attempt:  1,
		Duration: 1200 * time.Millisecond,
		LogPath:  "/work/logs/fetch-device.attempt-1.log",
	}
	bad := executor.Result{
		Stage:    stage.DownloadFW,
		Success:  false,
		Reason:   "exit code 7",
		ExitCode: 7,
		Attempt:  3,
		Duration: 400 * time.Millisecond,
		LogPath:  "/work/logs/download-fw.attempt-3.log",
	}
	if err := ledger.RecordStage("run-1", ok); err != nil {
		t.Fatalf("failed to record stage: %v", err)
	}
	if err := ledger.RecordStage("run-1", bad); err != nil {
		t.Fatalf("failed to record stage: %v", err)
	}

	results, err := ledger.StagesForRun("run-1")
	if err != nil {
		t.Fatalf("failed to list stages: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 stage results, got %d", len(results))
	}
	if results[0].Stage != "fetch-device" || results[0].Status != RunStatusSuccess || results[0].DurationMS != 1200 {
		t.Errorf("first result mismatch: got %+v", results[0])
	}
	if results[1].Stage != "download-fw" || results[1].Status != RunStatusFailed ||
		results[1].Attempts != 3 || results[1].Reason != "exit code 7" {
		t.Errorf("second result mismatch: got %+v", results[1])
	}
}

func TestLedger_RecentRunsOrderAndLimit(t *testing.T) {
	ledger := openTestLedger(t)

	for _, id := range []string{"run-a", "run-b", "run-c"} {
		if err := ledger.StartRun(id, false, 2); err != nil {
			t.Fatalf("failed to start run %s: %v", id, err)
		}
	}

	runs, err := ledger.RecentRuns(2)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-c" || runs[1].ID != "run-b" {
		t.Errorf("runs out of order: got %s, %s", runs[0].ID, runs[1].ID)
	}
}

func TestLedger_UnfinishedRunKeepsRunningStatus(t *testing.T) {
	ledger := openTestLedger(t)

	if err := ledger.StartRun("run-1", true, 0); err != nil {
		t.Fatalf("failed to start run: %v", err)
	}

	runs, err := ledger.RecentRuns(1)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if runs[0].Status != RunStatusRunning {
		t.Errorf("status = %s, want %s", runs[0].Status, RunStatusRunning)
	}
	if runs[0].FinishedAt != "" {
		t.Errorf("unfinished run has finished_at %q", runs[0].FinishedAt)
	}
	if !runs[0].Resumed {
		t.Error("resumed flag lost")
	}
}

func TestLedger_StagesForUnknownRun(t *testing.T) {
	ledger := openTestLedger(t)

	results, err := ledger.StagesForRun("no-such-run")
	if err != nil {
		t.Fatalf("failed to list stages: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}
