package db

import (
	"database/sql"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/k2rebuild/k2rebuild/pkg/errors"
	"github.com/k2rebuild/k2rebuild/pkg/executor"
	"github.com/k2rebuild/k2rebuild/pkg/pipeline"
)

// Ledger persists run history in SQLite. The pipeline treats writes as
// best-effort: a ledger error is logged there and never stops a run.
type Ledger struct {
	db *sql.DB
}

var _ pipeline.Ledger = (*Ledger)(nil)

// Open opens the ledger database, creating the schema if needed.
func Open(dbPath string) (*Ledger, error) {
	slog.Info("ledger_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("ledger_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open ledger")
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("ledger_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("ledger_ready", "db_path", dbPath)
	return &Ledger{db: db}, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// StartRun records the beginning of a pipeline run.
func (l *Ledger) StartRun(runID string, resumed bool, maxRetries int) error {
	slog.Debug("ledger_start_run", "run_id", runID, "resumed", resumed)

	query := `INSERT INTO runs (id, status, resumed, max_retries) VALUES (?, ?, ?, ?)`
	if _, err := l.db.Exec(query, runID, RunStatusRunning, resumed, maxRetries); err != nil {
		slog.Error("ledger_insert_run_failed", "run_id", runID, "error", err)
		return errors.Wrap(err, "failed to insert run")
	}
	return nil
}

// RecordStage records the terminal outcome of one stage.
func (l *Ledger) RecordStage(runID string, res executor.Result) error {
	slog.Debug("ledger_record_stage", "run_id", runID, "stage", res.Stage, "success", res.Success)

	status := RunStatusFailed
	if res.Success {
		status = RunStatusSuccess
	}
	query := `
		INSERT INTO stage_results (run_id, stage, status, attempts, duration_ms, reason, log_path)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := l.db.Exec(query,
		runID, string(res.Stage), status,
		res.Attempt, res.Duration.Milliseconds(), res.Reason, res.LogPath)
	if err != nil {
		slog.Error("ledger_insert_stage_failed", "run_id", runID, "stage", res.Stage, "error", err)
		return errors.Wrap(err, "failed to insert stage result")
	}
	return nil
}

// FinishRun marks a run as finished with the given status.
func (l *Ledger) FinishRun(runID string, status string) error {
	slog.Debug("ledger_finish_run", "run_id", runID, "status", status)

	query := `UPDATE runs SET status = ?, finished_at = CURRENT_TIMESTAMP WHERE id = ?`
	result, err := l.db.Exec(query, status, runID)
	if err != nil {
		slog.Error("ledger_finish_run_failed", "run_id", runID, "error", err)
		return errors.Wrap(err, "failed to finish run")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		slog.Warn("ledger_run_not_found", "run_id", runID)
	}
	return nil
}

// RecentRuns returns the newest runs first, at most limit of them.
func (l *Ledger) RecentRuns(limit int) ([]*Run, error) {
	slog.Debug("ledger_list_runs", "limit", limit)

	query := `
		SELECT id, started_at, finished_at, status, resumed, max_retries
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?
	`
	rows, err := l.db.Query(query, limit)
	if err != nil {
		slog.Error("ledger_list_runs_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		var finished sql.NullString
		if err := rows.Scan(&run.ID, &run.StartedAt, &finished, &run.Status, &run.Resumed, &run.MaxRetries); err != nil {
			slog.Error("ledger_scan_run_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan run")
		}
		run.FinishedAt = finished.String
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return runs, nil
}

// StagesForRun returns a run's stage outcomes in execution order.
func (l *Ledger) StagesForRun(runID string) ([]*StageResult, error) {
	slog.Debug("ledger_list_stages", "run_id", runID)

	query := `
		SELECT stage, status, attempts, duration_ms, reason, log_path, created_at
		FROM stage_results WHERE run_id = ? ORDER BY id ASC
	`
	rows, err := l.db.Query(query, runID)
	if err != nil {
		slog.Error("ledger_list_stages_failed", "run_id", runID, "error", err)
		return nil, errors.Wrap(err, "failed to list stage results")
	}
	defer rows.Close()

	var results []*StageResult
	for rows.Next() {
		var sr StageResult
		var reason, logPath sql.NullString
		if err := rows.Scan(&sr.Stage, &sr.Status, &sr.Attempts, &sr.DurationMS, &reason, &logPath, &sr.CreatedAt); err != nil {
			slog.Error("ledger_scan_stage_failed", "run_id", runID, "error", err)
			return nil, errors.Wrap(err, "failed to scan stage result")
		}
		sr.RunID = runID
		sr.Reason = reason.String
		sr.LogPath = logPath.String
		results = append(results, &sr)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return results, nil
}
