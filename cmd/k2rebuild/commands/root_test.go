package commands

import (
	"fmt"
	"reflect"
	"testing"

	stderrors "errors"

	"github.com/spf13/cobra"

	"github.com/k2rebuild/k2rebuild/pkg/errors"
	"github.com/k2rebuild/k2rebuild/pkg/stage"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"plain error", fmt.Errorf("stage extract failed"), 1},
		{"usage error", &usageError{err: fmt.Errorf("bad flag")}, 2},
		{"wrapped usage error", errors.Wrap(&usageError{err: fmt.Errorf("bad flag")}, "config"), 2},
		{"unknown command", stderrors.New(`unknown command "flash" for "k2rebuild"`), 2},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("%s: exitCode = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestExactArgsMarksUsageErrors(t *testing.T) {
	cmd := &cobra.Command{Use: "validate"}

	err := exactArgs(2)(cmd, []string{"only-one"})
	if err == nil {
		t.Fatal("exactArgs(2) accepted 1 argument")
	}
	var usage *usageError
	if !stderrors.As(err, &usage) {
		t.Errorf("error %T, want *usageError", err)
	}

	if err := exactArgs(2)(cmd, []string{"one", "two"}); err != nil {
		t.Errorf("exactArgs(2) rejected 2 arguments: %v", err)
	}
}

func TestArtifactDirs(t *testing.T) {
	got := artifactDirs(stage.Default())
	want := []string{"device-state", "extracted", "firmware", "out", "rebuilt", "reports"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("artifactDirs = %v, want %v", got, want)
	}
}
