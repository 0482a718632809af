// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package output

import (
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/changedetection/internal/config"
	"github.com/relabs-tech/changedetection/internal/trial"
)

func testSchema(t *testing.T) trial.Schema {
	t.Helper()
	s, err := trial.NewSchema([]string{"Subject", "Block", "Trial", "RESP", "ACC"})
	require.NoError(t, err)
	return s
}

func rows(block, n int) []trial.Row {
	out := make([]trial.Row, n)
	for i := range out {
		out[i] = trial.Row{
			"Subject": "S01",
			"Block":   strconv.Itoa(block),
			"Trial":   strconv.Itoa(i),
			"RESP":    "s",
			"ACC":     "1",
		}
	}
	return out
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestCSVSinkWritesBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	s, err := NewCSV(path, testSchema(t), false)
	require.NoError(t, err)

	require.NoError(t, s.WriteBlock(rows(0, 3)))
	records := readCSV(t, path)
	require.Len(t, records, 4, "block is durable before WriteBlock returns")

	require.NoError(t, s.WriteBlock(rows(1, 2)))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	records = readCSV(t, path)
	require.Len(t, records, 6)
	assert.Equal(t, []string{"Subject", "Block", "Trial", "RESP", "ACC"}, records[0])
	assert.Equal(t, []string{"S01", "1", "1", "s", "1"}, records[5])
}

func TestCSVSinkRefusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	require.NoError(t, os.WriteFile(path, []byte("keep me\n"), 0o644))

	_, err := NewCSV(path, testSchema(t), false)
	require.ErrorIs(t, err, ErrFileExists)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep me\n", string(data))

	s, err := NewCSV(path, testSchema(t), true)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Len(t, readCSV(t, path), 1)
}

func TestSQLiteSinkRowCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.db")
	runID := uuid.New()
	s, err := OpenSQLite(path, testSchema(t), runID, false)
	require.NoError(t, err)

	require.NoError(t, s.WriteBlock(rows(0, 10)))
	require.NoError(t, s.WriteBlock(rows(1, 10)))
	require.NoError(t, s.WriteBlock(nil))
	require.NoError(t, s.Close())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var count, maxSeq int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*), MAX(seq) FROM results WHERE run_id = ?`, runID.String()).Scan(&count, &maxSeq))
	assert.Equal(t, 20, count)
	assert.Equal(t, 20, maxSeq)

	var block, resp string
	require.NoError(t, db.QueryRow(`SELECT "Block", "RESP" FROM results WHERE seq = 15`).Scan(&block, &resp))
	assert.Equal(t, "1", block)
	assert.Equal(t, "s", resp)
}

func TestSQLiteSinkRefusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.db")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	_, err := OpenSQLite(path, testSchema(t), uuid.New(), false)
	assert.ErrorIs(t, err, ErrFileExists)
}

type failingSink struct {
	writes, closes int
}

func (f *failingSink) WriteBlock([]trial.Row) error { f.writes++; return errors.New("disk full") }
func (f *failingSink) Close() error                 { f.closes++; return nil }

func TestMultiAttemptsEverySink(t *testing.T) {
	bad := &failingSink{}
	path := filepath.Join(t.TempDir(), "run.csv")
	good, err := NewCSV(path, testSchema(t), false)
	require.NoError(t, err)

	m := Multi(bad, good)
	assert.Error(t, m.WriteBlock(rows(0, 2)))
	require.NoError(t, m.Close())

	assert.Equal(t, 1, bad.writes)
	assert.Equal(t, 1, bad.closes)
	assert.Len(t, readCSV(t, path), 3)
}

func TestOpenByFormat(t *testing.T) {
	dir := t.TempDir()
	o := Options{
		Directory:  filepath.Join(dir, "data"),
		Experiment: "cd",
		Subject:    "S01",
		Format:     config.FormatBoth,
		Schema:     testSchema(t),
		RunID:      uuid.New(),
	}
	assert.Empty(t, o.Existing())

	s, err := Open(o)
	require.NoError(t, err)
	require.NoError(t, s.WriteBlock(rows(0, 1)))
	require.NoError(t, s.Close())

	assert.FileExists(t, o.CSVPath())
	assert.FileExists(t, o.SQLitePath())
	assert.ElementsMatch(t, []string{o.CSVPath(), o.SQLitePath()}, o.Existing())

	_, err = Open(o)
	assert.ErrorIs(t, err, ErrFileExists)

	o.Format = "xml"
	_, err = Open(o)
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestWriteRunInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "info.json")
	info := RunInfo{
		RunID:          uuid.New(),
		Experiment:     "cd",
		Subject:        "S01",
		StartedAt:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Conditions:     []string{"Fixated", "FreeGaze"},
		NumberOfBlocks: 5,
		TrialsPerBlock: 80,
		SetSizes:       []int{6},
		Recording:      true,
		RecordingFile:  "CDETS01.edf",
		Fields:         trial.DefaultFields,
	}
	require.NoError(t, WriteRunInfo(path, info, false))
	assert.ErrorIs(t, WriteRunInfo(path, info, false), ErrFileExists)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got RunInfo
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, info.RunID, got.RunID)
	assert.Equal(t, info.Conditions, got.Conditions)
	assert.True(t, got.StartedAt.Equal(info.StartedAt))
}
