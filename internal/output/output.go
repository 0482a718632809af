// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package output persists trial rows block by block.
package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/relabs-tech/changedetection/internal/config"
	"github.com/relabs-tech/changedetection/internal/trial"
)

// ErrFileExists is returned when an output file exists and overwrite was not confirmed.
var ErrFileExists = errors.New("output file already exists")

// Sink receives the rows of each completed block.
type Sink interface {
	// WriteBlock appends rows and makes them durable before returning.
	WriteBlock(rows []trial.Row) error
	Close() error
}

// Options selects and names the sinks of a run.
type Options struct {
	Directory  string
	Experiment string
	Subject    string
	Format     string // config.FormatCSV, FormatSQLite or FormatBoth
	Schema     trial.Schema
	RunID      uuid.UUID
	Overwrite  bool
}

func (o Options) base() string {
	return filepath.Join(o.Directory, o.Experiment+"_"+o.Subject)
}

// CSVPath is the CSV data file of the run.
func (o Options) CSVPath() string { return o.base() + ".csv" }

// SQLitePath is the SQLite data file of the run.
func (o Options) SQLitePath() string { return o.base() + ".db" }

// InfoPath is the run info file written at startup.
func (o Options) InfoPath() string { return o.base() + "_info.json" }

// Paths lists the files the run will create.
func (o Options) Paths() []string {
	var paths []string
	if o.Format == config.FormatCSV || o.Format == config.FormatBoth {
		paths = append(paths, o.CSVPath())
	}
	if o.Format == config.FormatSQLite || o.Format == config.FormatBoth {
		paths = append(paths, o.SQLitePath())
	}
	return append(paths, o.InfoPath())
}

// Existing returns the run files already on disk.
func (o Options) Existing() []string {
	var found []string
	for _, p := range o.Paths() {
		if _, err := os.Stat(p); err == nil {
			found = append(found, p)
		}
	}
	return found
}

// Open creates the sinks selected by o.Format.
func Open(o Options) (Sink, error) {
	if err := os.MkdirAll(o.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	switch o.Format {
	case config.FormatCSV:
		return NewCSV(o.CSVPath(), o.Schema, o.Overwrite)
	case config.FormatSQLite:
		return OpenSQLite(o.SQLitePath(), o.Schema, o.RunID, o.Overwrite)
	case config.FormatBoth:
		c, err := NewCSV(o.CSVPath(), o.Schema, o.Overwrite)
		if err != nil {
			return nil, err
		}
		s, err := OpenSQLite(o.SQLitePath(), o.Schema, o.RunID, o.Overwrite)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		return Multi(c, s), nil
	default:
		return nil, fmt.Errorf("%w: unknown output format %q", config.ErrConfiguration, o.Format)
	}
}

type multiSink []Sink

// Multi fans every block out to all sinks. Every sink is attempted.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

func (m multiSink) WriteBlock(rows []trial.Row) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteBlock(rows); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// createFile opens path for writing, refusing to replace it unless overwrite is set.
func createFile(path string, overwrite bool) (*os.File, error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileExists, path)
	}
	return f, err
}
