// Package stage defines the fixed pipeline stages and the table that maps
// each stage to its command and expected output artifacts.
package stage

import (
	"fmt"
	"time"
)

// ID identifies one pipeline stage.
type ID string

// The six pipeline stages, in execution order.
const (
	FetchDevice     ID = "fetch-device"
	DownloadFW      ID = "download-fw"
	Extract         ID = "extract"
	BootstrapDebian ID = "bootstrap-debian"
	Validate        ID = "validate"
	Package         ID = "package"
)

// Order is the fixed execution order. The pipeline walks this list; it is
// never reordered at runtime.
var Order = []ID{FetchDevice, DownloadFW, Extract, BootstrapDebian, Validate, Package}

// Valid reports whether id names a known stage.
func Valid(id ID) bool {
	for _, known := range Order {
		if id == known {
			return true
		}
	}
	return false
}

// Stage describes one unit of pipeline work: the command to run and the
// artifacts it must leave behind. Artifacts are glob patterns relative to
// the workspace; a stage that exits zero but produces no match for a
// pattern is still a failure. Timeout zero means the run-level default
// applies.
type Stage struct {
	ID          ID
	Ordinal     int
	Description string
	Command     string
	Artifacts   []string
	Timeout     time.Duration
}

// Table is the ordered, immutable stage list for one pipeline run.
type Table struct {
	stages []Stage
	index  map[ID]int
}

// NewTable builds a table from stages, which must cover exactly the fixed
// stage order.
func NewTable(stages []Stage) (*Table, error) {
	if len(stages) != len(Order) {
		return nil, fmt.Errorf("expected %d stages, got %d", len(Order), len(stages))
	}
	index := make(map[ID]int, len(stages))
	for i, st := range stages {
		if st.ID != Order[i] {
			return nil, fmt.Errorf("stage %d is %q, want %q", i, st.ID, Order[i])
		}
		if st.Command == "" {
			return nil, fmt.Errorf("stage %q has no command", st.ID)
		}
		st.Ordinal = i + 1
		stages[i] = st
		index[st.ID] = i
	}
	return &Table{stages: stages, index: index}, nil
}

// Default returns the built-in stage table for the K2 target. Commands
// invoke the workspace's rebuild scripts; device profiles override them
// per target.
func Default() *Table {
	t, err := NewTable(Defaults())
	if err != nil {
		panic(err)
	}
	return t
}

// Defaults returns the built-in stage definitions in order.
func Defaults() []Stage {
	return []Stage{
		{
			ID:          FetchDevice,
			Description: "collect device state and metadata over SSH",
			Command:     "scripts/fetch-device.sh",
			Artifacts:   []string{"device-state/metadata.json"},
		},
		{
			ID:          DownloadFW,
			Description: "download vendor firmware image",
			Command:     "scripts/download-fw.sh",
			Artifacts:   []string{"firmware/*.bin"},
		},
		{
			ID:          Extract,
			Description: "extract rootfs from firmware image",
			Command:     "scripts/extract-fw.sh",
			Artifacts:   []string{"extracted/rootfs"},
		},
		{
			ID:          BootstrapDebian,
			Description: "bootstrap Debian rootfs with upstream packages",
			Command:     "scripts/bootstrap-debian.sh",
			Artifacts:   []string{"rebuilt/rootfs"},
		},
		{
			ID:          Validate,
			Description: "compare rebuilt rootfs against the original",
			Command:     "k2rebuild validate extracted/rootfs rebuilt/rootfs --report reports/validation-report.json",
			Artifacts:   []string{"reports/validation-report.json"},
		},
		{
			ID:          Package,
			Description: "repack rootfs into a flashable image",
			Command:     "scripts/package-fw.sh",
			Artifacts:   []string{"out/*.img"},
		},
	}
}

// Stages returns the ordered stage list.
func (t *Table) Stages() []Stage {
	return t.stages
}

// Get returns the stage with the given id.
func (t *Table) Get(id ID) (Stage, bool) {
	i, ok := t.index[id]
	if !ok {
		return Stage{}, false
	}
	return t.stages[i], true
}

// Len returns the number of stages.
func (t *Table) Len() int {
	return len(t.stages)
}
