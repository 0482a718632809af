// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package output

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/relabs-tech/changedetection/internal/trial"
)

// SQLiteSink stores rows in a results table with one column per schema field.
// Each block is committed in its own transaction.
type SQLiteSink struct {
	db     *sql.DB
	schema trial.Schema
	runID  string
	insert string
	seq    int
}

// OpenSQLite creates the database at path.
func OpenSQLite(path string, schema trial.Schema, runID uuid.UUID, overwrite bool) (*SQLiteSink, error) {
	if _, err := os.Stat(path); err == nil {
		if !overwrite {
			return nil, fmt.Errorf("%w: %s", ErrFileExists, path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove old database: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	fields := schema.Fields()
	cols := make([]string, len(fields))
	marks := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = quoteIdent(f)
		marks[i] = "?"
	}
	create := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS results (run_id TEXT NOT NULL, seq INTEGER NOT NULL, %s, PRIMARY KEY (run_id, seq))",
		strings.Join(colDefs(cols), ", "),
	)
	if _, err := db.Exec(create); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create results table: %w", err)
	}

	return &SQLiteSink{
		db:     db,
		schema: schema,
		runID:  runID.String(),
		insert: fmt.Sprintf("INSERT INTO results (run_id, seq, %s) VALUES (?, ?, %s)",
			strings.Join(cols, ", "), strings.Join(marks, ", ")),
	}, nil
}

func colDefs(cols []string) []string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = c + " TEXT"
	}
	return defs
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (s *SQLiteSink) WriteBlock(rows []trial.Row) (err error) {
	if s.db == nil {
		return errors.New("sqlite sink closed")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin block: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.Prepare(s.insert)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	seq := s.seq
	for _, row := range rows {
		seq++
		args := make([]any, 0, len(row)+2)
		args = append(args, s.runID, seq)
		for _, v := range s.schema.Values(row) {
			args = append(args, v)
		}
		if _, err = stmt.Exec(args...); err != nil {
			return fmt.Errorf("insert row %d: %w", seq, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit block: %w", err)
	}
	s.seq = seq
	return nil
}

func (s *SQLiteSink) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
