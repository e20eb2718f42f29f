// Package pipeline drives the staged firmware rebuild. It executes the
// stage table in order, persists a checkpoint after every stage
// transition, delegates retries to the auto-heal controller, and keeps a
// best-effort run ledger for history.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/google/uuid"

	"github.com/k2rebuild/k2rebuild/pkg/autoheal"
	"github.com/k2rebuild/k2rebuild/pkg/checkpoint"
	"github.com/k2rebuild/k2rebuild/pkg/errors"
	"github.com/k2rebuild/k2rebuild/pkg/executor"
	"github.com/k2rebuild/k2rebuild/pkg/stage"
)

// ErrCheckpointExists is returned when a fresh run would clobber the
// progress of an earlier one. The caller must pass resume or clean.
var ErrCheckpointExists = stderrors.New("checkpoint exists; resume the run or clean the workspace first")

// StageFailedError reports a stage that failed after its whole retry
// budget. The checkpoint keeps the failure, so a later resume retries
// exactly this stage.
type StageFailedError struct {
	Stage    stage.ID
	Attempts int
	Reason   string
}

func (e *StageFailedError) Error() string {
	return fmt.Sprintf("stage %s failed after %d attempts: %s", e.Stage, e.Attempts, e.Reason)
}

// Ledger records run history. Implementations must tolerate being
// called mid-run; errors are logged and never interrupt the pipeline.
type Ledger interface {
	StartRun(runID string, resumed bool, maxRetries int) error
	RecordStage(runID string, res executor.Result) error
	FinishRun(runID string, status string) error
}

// RunOptions configure a single Run call.
type RunOptions struct {
	// Resume skips stages the checkpoint already marks successful.
	// Without it an existing checkpoint is an error, never silently
	// overwritten.
	Resume bool
	// MaxRetries is the per-stage retry budget; a stage runs at most
	// MaxRetries+1 times.
	MaxRetries int
	// Exec carries workdir, log dir, env and timeouts to every stage.
	Exec executor.RunContext
}

// Summary describes a completed run.
type Summary struct {
	RunID    string
	Executed []stage.ID
	Skipped  []stage.ID
	Duration time.Duration
}

// Pipeline executes a stage table against a checkpoint store.
type Pipeline struct {
	table  *stage.Table
	store  *checkpoint.Store
	healer *autoheal.Controller
	ledger Ledger
}

// New assembles a pipeline. ledger may be nil to disable run history.
func New(table *stage.Table, store *checkpoint.Store, healer *autoheal.Controller, ledger Ledger) *Pipeline {
	return &Pipeline{
		table:  table,
		store:  store,
		healer: healer,
		ledger: ledger,
	}
}

// Run executes the pipeline from the first stage the checkpoint does not
// mark successful. A corrupt checkpoint aborts before any stage runs.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Summary, error) {
	start := time.Now()

	cp, err := p.store.Load()
	if err != nil {
		return nil, err
	}
	switch {
	case cp == nil:
		cp = &checkpoint.Checkpoint{}
	case !opts.Resume:
		return nil, ErrCheckpointExists
	}

	runID := uuid.NewString()
	resumed := opts.Resume && len(cp.History) > 0
	if cp.Interrupted() {
		slog.Warn("pipeline_interrupted_stage_found", "stage", cp.Stage, "run_id", runID)
	}
	slog.Info("pipeline_run_start",
		"run_id", runID,
		"resumed", resumed,
		"stages", p.table.Len(),
		"max_retries", opts.MaxRetries)
	p.ledgerStart(runID, resumed, opts.MaxRetries)

	summary := &Summary{RunID: runID}
	for _, st := range p.table.Stages() {
		if cp.StageDone(st.ID) {
			slog.Info("stage_skipped", "stage", st.ID, "run_id", runID)
			summary.Skipped = append(summary.Skipped, st.ID)
			continue
		}

		cp.Record(st.ID, checkpoint.StatusRunning, 0, st.Description)
		if err := p.store.Save(cp); err != nil {
			p.ledgerFinish(runID, "failed")
			return nil, errors.Wrap(err, "saving checkpoint")
		}

		res, err := p.healer.Attempt(ctx, st, opts.Exec, opts.MaxRetries)
		if err != nil {
			p.ledgerFinish(runID, "failed")
			return nil, errors.Wrap(err, fmt.Sprintf("running stage %s", st.ID))
		}

		if res.Success {
			cp.Record(st.ID, checkpoint.StatusSuccess, res.Attempt, st.Description)
			if err := p.store.Save(cp); err != nil {
				p.ledgerFinish(runID, "failed")
				return nil, errors.Wrap(err, "saving checkpoint")
			}
			p.ledgerStage(runID, res)
			summary.Executed = append(summary.Executed, st.ID)
			continue
		}

		cp.Record(st.ID, checkpoint.StatusFailed, res.Attempt,
			fmt.Sprintf("failed after %d attempts: %s", res.Attempt, res.Reason))
		if err := p.store.Save(cp); err != nil {
			// The failure below is the primary story; the unsaved
			// checkpoint only costs the next resume a redundant retry.
			slog.Error("checkpoint_save_failed", "stage", st.ID, "error", err)
		}
		p.ledgerStage(runID, res)
		p.ledgerFinish(runID, "failed")
		return nil, &StageFailedError{Stage: st.ID, Attempts: res.Attempt, Reason: res.Reason}
	}

	p.ledgerFinish(runID, "success")
	summary.Duration = time.Since(start)
	slog.Info("pipeline_run_complete",
		"run_id", runID,
		"executed", len(summary.Executed),
		"skipped", len(summary.Skipped),
		"duration", summary.Duration.Round(time.Millisecond).String())
	return summary, nil
}

func (p *Pipeline) ledgerStart(runID string, resumed bool, maxRetries int) {
	if p.ledger == nil {
		return
	}
	if err := p.ledger.StartRun(runID, resumed, maxRetries); err != nil {
		slog.Warn("ledger_start_run_failed", "run_id", runID, "error", err)
	}
}

func (p *Pipeline) ledgerStage(runID string, res executor.Result) {
	if p.ledger == nil {
		return
	}
	if err := p.ledger.RecordStage(runID, res); err != nil {
		slog.Warn("ledger_record_stage_failed", "run_id", runID, "stage", res.Stage, "error", err)
	}
}

func (p *Pipeline) ledgerFinish(runID string, status string) {
	if p.ledger == nil {
		return
	}
	if err := p.ledger.FinishRun(runID, status); err != nil {
		slog.Warn("ledger_finish_run_failed", "run_id", runID, "error", err)
	}
}
