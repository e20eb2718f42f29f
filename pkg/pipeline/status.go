package pipeline

import (
	"fmt"

	"github.com/k2rebuild/k2rebuild/pkg/checkpoint"
	"github.com/k2rebuild/k2rebuild/pkg/stage"
)

// Progress counts stages the checkpoint marks successful.
func Progress(cp *checkpoint.Checkpoint, table *stage.Table) (done, total int) {
	total = table.Len()
	if cp == nil {
		return 0, total
	}
	for _, st := range table.Stages() {
		if cp.StageDone(st.ID) {
			done++
		}
	}
	return done, total
}

// Describe summarizes checkpoint state in one line for status output.
func Describe(cp *checkpoint.Checkpoint, table *stage.Table) string {
	if cp == nil || len(cp.History) == 0 {
		return "not started"
	}
	done, total := Progress(cp, table)
	if done == total {
		return "complete"
	}
	if cp.Interrupted() {
		return fmt.Sprintf("interrupted while %s was running", cp.Stage)
	}
	last := cp.History[len(cp.History)-1]
	if last.Status == checkpoint.StatusFailed {
		return fmt.Sprintf("failed at %s", last.Stage)
	}
	return fmt.Sprintf("in progress (%d/%d stages)", done, total)
}
