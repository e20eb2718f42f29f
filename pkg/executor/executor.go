// Package executor runs one pipeline stage as an external process. Output
// is captured to a per-stage log file, duration is measured, and expected
// artifacts are checked after a clean exit. Expected failures come back as
// a Result, never an error; the error return is reserved for faults the
// retry budget cannot fix.
package executor

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/k2rebuild/k2rebuild/pkg/errors"
	"github.com/k2rebuild/k2rebuild/pkg/stage"
)

// Failure reasons for conditions that do not come with an exit code.
const (
	ReasonTimeout  = "timeout"
	ReasonCanceled = "canceled"
)

// Result is the outcome of one stage attempt.
type Result struct {
	Stage    stage.ID
	Success  bool
	Reason   string
	ExitCode int
	Attempt  int
	Duration time.Duration
	LogPath  string
}

// RunContext carries the execution environment shared by all stages of a
// run. Timeout zero means unbounded; a stage's own timeout overrides it.
// Grace is the SIGTERM-to-SIGKILL window on timeout or cancellation;
// zero kills immediately.
type RunContext struct {
	WorkDir string
	LogDir  string
	Env     map[string]string
	Timeout time.Duration
	Grace   time.Duration
}

// Runner executes a single stage attempt. The process-backed Executor is
// the production implementation; tests inject fakes.
type Runner interface {
	Run(ctx context.Context, st stage.Stage, rc RunContext, attempt int) (Result, error)
}

// Executor runs stage commands through `sh -c` in their own process
// group, so timeouts and cancellation kill the whole command tree.
type Executor struct{}

var _ Runner = (*Executor)(nil)

// New creates an Executor.
func New() *Executor {
	return &Executor{}
}

// Run executes one attempt of a stage. The command runs in the workspace
// with K2R_STAGE and K2R_ATTEMPT set alongside rc.Env, and its combined
// output goes to <logdir>/<stage>.attempt-<n>.log.
func (e *Executor) Run(ctx context.Context, st stage.Stage, rc RunContext, attempt int) (Result, error) {
	if strings.TrimSpace(st.Command) == "" {
		return Result{}, fmt.Errorf("stage %q has no command", st.ID)
	}
	for _, pattern := range st.Artifacts {
		if err := artifactWithinWorkdir(pattern); err != nil {
			return Result{}, fmt.Errorf("stage %q: %w", st.ID, err)
		}
	}
	if err := os.MkdirAll(rc.LogDir, 0o755); err != nil {
		return Result{}, errors.Wrap(err, "create log directory")
	}

	logPath := filepath.Join(rc.LogDir, fmt.Sprintf("%s.attempt-%d.log", st.ID, attempt))
	logFile, err := os.Create(logPath)
	if err != nil {
		return Result{}, errors.Wrap(err, "create stage log file")
	}
	defer logFile.Close()

	timeout := rc.Timeout
	if st.Timeout > 0 {
		timeout = st.Timeout
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	slog.Info("stage_exec_start",
		"stage", st.ID,
		"attempt", attempt,
		"command", st.Command,
		"timeout", timeout,
		"log_path", logPath,
	)

	cmd := exec.CommandContext(runCtx, "sh", "-c", st.Command)
	cmd.Dir = rc.WorkDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	// Own process group, so the kill reaches the shell and everything
	// it spawned (negative pid targets the whole group).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if rc.Grace > 0 {
		grace := rc.Grace
		cmd.Cancel = func() error {
			pgid := -cmd.Process.Pid
			if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
				return syscall.Kill(pgid, syscall.SIGKILL)
			}
			go func() {
				time.Sleep(grace)
				// The group may already be gone; ESRCH is harmless.
				_ = syscall.Kill(pgid, syscall.SIGKILL)
			}()
			return nil
		}
	} else {
		cmd.Cancel = func() error {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
	}

	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env,
		"K2R_STAGE="+string(st.ID),
		fmt.Sprintf("K2R_ATTEMPT=%d", attempt),
	)
	for name, value := range rc.Env {
		cmd.Env = append(cmd.Env, name+"="+value)
	}

	started := time.Now()
	runErr := cmd.Run()
	duration := time.Since(started)

	res := Result{
		Stage:    st.ID,
		Attempt:  attempt,
		Duration: duration,
		LogPath:  logPath,
	}

	switch {
	case runErr == nil:
		if missing := missingArtifact(rc.WorkDir, st.Artifacts); missing != "" {
			res.Reason = "missing artifact: " + missing
			slog.Warn("stage_artifact_missing", "stage", st.ID, "attempt", attempt, "pattern", missing)
			return res, nil
		}
		res.Success = true
		slog.Info("stage_exec_ok", "stage", st.ID, "attempt", attempt, "duration", duration)
		return res, nil

	case runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
		res.Reason = ReasonTimeout
		res.ExitCode = -1
		slog.Warn("stage_exec_timeout", "stage", st.ID, "attempt", attempt, "timeout", timeout)
		return res, nil

	case ctx.Err() != nil:
		res.Reason = ReasonCanceled
		res.ExitCode = -1
		slog.Warn("stage_exec_canceled", "stage", st.ID, "attempt", attempt)
		return res, nil

	default:
		var exitErr *exec.ExitError
		if stderrors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			res.Reason = fmt.Sprintf("exit code %d", res.ExitCode)
			slog.Warn("stage_exec_failed",
				"stage", st.ID,
				"attempt", attempt,
				"exit_code", res.ExitCode,
				"log_path", logPath,
			)
			return res, nil
		}
		// The command never ran (sh missing, bad workdir). Retrying
		// cannot help, so this is not an ordinary stage failure.
		slog.Error("stage_exec_error", "stage", st.ID, "attempt", attempt, "error", runErr)
		return Result{}, errors.Wrap(runErr, fmt.Sprintf("starting stage %s", st.ID))
	}
}

// missingArtifact returns the first artifact pattern with no match under
// the workspace, or "" when all are present.
func missingArtifact(workDir string, patterns []string) string {
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(workDir, pattern))
		if err != nil || len(matches) == 0 {
			return pattern
		}
	}
	return ""
}

// artifactWithinWorkdir rejects artifact patterns that could resolve
// outside the workspace.
func artifactWithinWorkdir(pattern string) error {
	if filepath.IsAbs(pattern) {
		return fmt.Errorf("artifact pattern %q is absolute", pattern)
	}
	clean := filepath.Clean(pattern)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("artifact pattern %q escapes the workspace", pattern)
	}
	return nil
}
