// Package profile reads device profile files. A profile describes one
// device target: its name, firmware version, mirror key, and per-stage
// command overrides. Profiles are JSONC, so they can carry comments and
// trailing commas.
package profile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/k2rebuild/k2rebuild/pkg/errors"
	"github.com/k2rebuild/k2rebuild/pkg/stage"
)

// StageOverride replaces parts of a built-in stage definition. Empty
// fields keep the default.
type StageOverride struct {
	Command    string   `json:"command,omitempty"`
	Artifacts  []string `json:"artifacts,omitempty"`
	TimeoutSec int      `json:"timeout_sec,omitempty"`
}

// Profile describes one device target.
type Profile struct {
	Name            string                   `json:"name"`
	FirmwareVersion string                   `json:"firmware_version,omitempty"`
	MirrorKey       string                   `json:"mirror_key,omitempty"`
	Env             map[string]string        `json:"env,omitempty"`
	Stages          map[string]StageOverride `json:"stages,omitempty"`
}

// Parse parses JSONC profile content and validates it.
func Parse(data []byte) (*Profile, error) {
	plain := jsonc.ToJSON(data)

	var p Profile
	decoder := json.NewDecoder(bytes.NewReader(plain))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&p); err != nil {
		return nil, errors.Wrap(err, "parsing profile")
	}

	if p.Name == "" {
		return nil, fmt.Errorf("profile has no name")
	}
	for id, ov := range p.Stages {
		if !stage.Valid(stage.ID(id)) {
			return nil, fmt.Errorf("profile %q overrides unknown stage %q", p.Name, id)
		}
		if ov.TimeoutSec < 0 {
			return nil, fmt.Errorf("profile %q stage %q: timeout_sec must be non-negative", p.Name, id)
		}
	}
	return &p, nil
}

// ReadFile reads and parses a profile file.
func ReadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading profile")
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

// Table builds the stage table for this profile: the built-in defaults
// with the profile's overrides applied.
func (p *Profile) Table() (*stage.Table, error) {
	stages := stage.Defaults()
	for i, st := range stages {
		ov, ok := p.Stages[string(st.ID)]
		if !ok {
			continue
		}
		if ov.Command != "" {
			st.Command = ov.Command
		}
		if len(ov.Artifacts) > 0 {
			st.Artifacts = ov.Artifacts
		}
		if ov.TimeoutSec > 0 {
			st.Timeout = time.Duration(ov.TimeoutSec) * time.Second
		}
		stages[i] = st
	}
	return stage.NewTable(stages)
}

// Environ returns the environment values stage commands run with: the
// profile's env block plus K2R_FW_VERSION and K2R_MIRROR_KEY when set.
// Explicit env entries win over the derived ones.
func (p *Profile) Environ() map[string]string {
	env := make(map[string]string, len(p.Env)+2)
	if p.FirmwareVersion != "" {
		env["K2R_FW_VERSION"] = p.FirmwareVersion
	}
	if p.MirrorKey != "" {
		env["K2R_MIRROR_KEY"] = p.MirrorKey
	}
	for k, v := range p.Env {
		env[k] = v
	}
	return env
}
