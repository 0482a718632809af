// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package output

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/relabs-tech/changedetection/internal/trial"
)

// CSVSink writes one header line and one line per trial.
type CSVSink struct {
	f      *os.File
	w      *csv.Writer
	schema trial.Schema
	closed bool
}

// NewCSV creates path and writes the header.
func NewCSV(path string, schema trial.Schema, overwrite bool) (*CSVSink, error) {
	f, err := createFile(path, overwrite)
	if err != nil {
		return nil, err
	}
	s := &CSVSink{f: f, w: csv.NewWriter(f), schema: schema}
	if err := s.w.Write(schema.Fields()); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	if err := s.flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

func (s *CSVSink) flush() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync csv: %w", err)
	}
	return nil
}

func (s *CSVSink) WriteBlock(rows []trial.Row) error {
	if s.closed {
		return fmt.Errorf("csv sink closed")
	}
	for _, row := range rows {
		if err := s.w.Write(s.schema.Values(row)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	return s.flush()
}

func (s *CSVSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	ferr := s.flush()
	if err := s.f.Close(); err != nil {
		return err
	}
	return ferr
}
