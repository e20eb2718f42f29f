// Package checkpoint persists pipeline progress as a single JSON document.
// The document records the current stage plus the full per-stage outcome
// history, so resume decisions never depend on only the latest entry.
// Writes are atomic; a malformed document surfaces as CorruptionError and
// is never silently reset.
package checkpoint

import (
	"fmt"
	"time"

	"github.com/k2rebuild/k2rebuild/pkg/stage"
)

// History entry statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusRunning = "running"
)

// Entry is one resolved (or in-flight) run-through of a stage. A stage
// that was retried after a recorded failure gets a fresh entry; the
// failure stays in the history.
type Entry struct {
	Stage     string    `json:"stage"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	Timestamp time.Time `json:"timestamp"`
}

// Checkpoint is the persisted pipeline state. Stage, Timestamp, and
// Description reflect the most recent transition; History holds every
// recorded stage outcome in order.
type Checkpoint struct {
	Stage       string    `json:"stage"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
	History     []Entry   `json:"history"`
}

// StageDone reports whether the stage's most recent history entry is a
// success. An interrupted stage (latest entry still "running") is not
// done; it must be retried, never skipped.
func (c *Checkpoint) StageDone(stageID stage.ID) bool {
	e := c.latest(stageID)
	return e != nil && e.Status == StatusSuccess
}

// Interrupted reports whether the checkpoint was abandoned mid-stage: its
// latest entry is still "running", meaning the process died before
// resolving the attempt.
func (c *Checkpoint) Interrupted() bool {
	if len(c.History) == 0 {
		return false
	}
	return c.History[len(c.History)-1].Status == StatusRunning
}

// latest returns the most recent history entry for a stage, or nil.
func (c *Checkpoint) latest(stageID stage.ID) *Entry {
	for i := len(c.History) - 1; i >= 0; i-- {
		if c.History[i].Stage == string(stageID) {
			return &c.History[i]
		}
	}
	return nil
}

// Record registers a stage transition: it sets the current stage fields
// and updates the history. A trailing "running" entry for the same stage
// is resolved in place, so each run-through of a stage lands as exactly
// one history entry; anything else appends.
func (c *Checkpoint) Record(stageID stage.ID, status string, attempts int, description string) {
	now := time.Now().UTC()
	c.Stage = string(stageID)
	c.Timestamp = now
	c.Description = description

	entry := Entry{Stage: string(stageID), Status: status, Attempts: attempts, Timestamp: now}
	if n := len(c.History); n > 0 {
		last := &c.History[n-1]
		if last.Stage == string(stageID) && last.Status == StatusRunning {
			*last = entry
			return
		}
	}
	c.History = append(c.History, entry)
}

// validate rejects documents that parse as JSON but do not describe a
// checkpoint this code could have written.
func (c *Checkpoint) validate() error {
	for i, e := range c.History {
		if e.Stage == "" {
			return fmt.Errorf("history[%d] has empty stage", i)
		}
		switch e.Status {
		case StatusSuccess, StatusFailed, StatusRunning:
		default:
			return fmt.Errorf("history[%d] has unknown status %q", i, e.Status)
		}
	}
	if len(c.History) > 0 && c.Stage == "" {
		return fmt.Errorf("history present but current stage empty")
	}
	return nil
}
