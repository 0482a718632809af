// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package output

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunInfo describes one run. It is written once, before the first trial.
type RunInfo struct {
	RunID             uuid.UUID `json:"run_id"`
	Experiment        string    `json:"experiment"`
	Subject           string    `json:"subject"`
	StartedAt         time.Time `json:"started_at"`
	Host              string    `json:"host,omitempty"`
	Conditions        []string  `json:"conditions"`
	NumberOfBlocks    int       `json:"number_of_blocks"`
	TrialsPerBlock    int       `json:"trials_per_block"`
	SetSizes          []int     `json:"set_sizes"`
	Recording         bool      `json:"recording"`
	CalibrationPolicy string    `json:"calibration_policy,omitempty"`
	BracketPolicy     string    `json:"bracket_policy,omitempty"`
	QuitHook          bool      `json:"quit_hook"`
	RecordingFile     string    `json:"recording_file,omitempty"`
	Fields            []string  `json:"fields"`
	DryRun            bool      `json:"dry_run,omitempty"`
}

// WriteRunInfo writes info as indented JSON to path.
func WriteRunInfo(path string, info RunInfo, overwrite bool) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run info: %w", err)
	}
	f, err := createFile(path, overwrite)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("write run info: %w", err)
	}
	return f.Close()
}
