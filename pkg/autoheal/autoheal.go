// Package autoheal wraps stage execution with a bounded retry budget.
// Flaky dependencies (SSH, vendor mirrors, loop devices) routinely fail a
// stage once and succeed on the next try; retrying here keeps that noise
// out of the pipeline's terminal state.
package autoheal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/k2rebuild/k2rebuild/pkg/executor"
	"github.com/k2rebuild/k2rebuild/pkg/stage"
)

// DefaultMaxRetries is the retry budget per stage when none is configured.
const DefaultMaxRetries = 2

// DefaultDelay is the pause between attempts. Kept at a second so a flaky
// dependency is not hammered back-to-back.
const DefaultDelay = time.Second

// Controller retries a stage through an injected Runner.
type Controller struct {
	runner executor.Runner
	delay  time.Duration
}

// New creates a Controller. A non-positive delay falls back to
// DefaultDelay.
func New(runner executor.Runner, delay time.Duration) *Controller {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Controller{runner: runner, delay: delay}
}

// Attempt runs the stage until it succeeds or the budget is exhausted:
// maxRetries+1 total tries, with the controller's delay between them. The
// returned Result carries the attempt count actually consumed. Context
// cancellation stops the loop; the last result is returned as-is. The
// error return mirrors the runner's: non-nil only for faults retrying
// cannot fix.
func (c *Controller) Attempt(ctx context.Context, st stage.Stage, rc executor.RunContext, maxRetries int) (executor.Result, error) {
	if maxRetries < 0 {
		return executor.Result{}, fmt.Errorf("maxRetries must be non-negative, got %d", maxRetries)
	}

	total := maxRetries + 1
	var res executor.Result
	for attempt := 1; attempt <= total; attempt++ {
		var err error
		res, err = c.runner.Run(ctx, st, rc, attempt)
		if err != nil {
			return res, err
		}
		if res.Success {
			if attempt > 1 {
				slog.Info("stage_healed", "stage", st.ID, "attempt", attempt)
			}
			return res, nil
		}

		slog.Warn("stage_attempt_failed",
			"stage", st.ID,
			"attempt", attempt,
			"max_attempts", total,
			"reason", res.Reason,
		)

		if attempt == total {
			break
		}
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			slog.Warn("stage_retry_canceled", "stage", st.ID, "attempts_made", attempt)
			return res, nil
		}
	}

	slog.Error("stage_retries_exhausted", "stage", st.ID, "attempts", res.Attempt, "reason", res.Reason)
	return res, nil
}
