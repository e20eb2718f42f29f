package db

// Schema defines the SQLite schema for the run ledger. One row per
// pipeline run, one per terminal stage outcome, indexed for the
// history views.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    finished_at TIMESTAMP,
    status TEXT NOT NULL CHECK(status IN ('running', 'success', 'failed')),
    resumed INTEGER NOT NULL DEFAULT 0,
    max_retries INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

CREATE TABLE IF NOT EXISTS stage_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    stage TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('success', 'failed')),
    attempts INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    reason TEXT,
    log_path TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_stage_results_run_id ON stage_results(run_id);
`

// Run status constants
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// Run is one pipeline invocation.
type Run struct {
	ID         string
	StartedAt  string
	FinishedAt string
	Status     string
	Resumed    bool
	MaxRetries int
}

// StageResult is the terminal outcome of one stage within a run.
type StageResult struct {
	RunID      string
	Stage      string
	Status     string
	Attempts   int
	DurationMS int64
	Reason     string
	LogPath    string
	CreatedAt  string
}
