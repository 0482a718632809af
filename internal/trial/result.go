// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package trial

import (
	"fmt"
	"strconv"
	"time"

	"github.com/relabs-tech/changedetection/internal/config"
)

// NoResponse is recorded in RESP and ACC when the response window timed out.
const NoResponse = "NR"

// DefaultFields is the full output schema, in column order.
var DefaultFields = []string{
	"Subject",
	"Condition",
	"Block",
	"Trial",
	"Timestamp",
	"TrialType",
	"SetSize",
	"RT",
	"CRESP",
	"RESP",
	"ACC",
	"LocationTested",
	"Locations",
	"SampleColors",
	"TestColors",
}

// Result is the outcome of one executed trial.
type Result struct {
	Subject   string
	Condition string
	Block     int
	Index     int
	Timestamp time.Time // test array onset
	Spec      Trial
	RT        time.Duration
	Resp      string // NoResponse on timeout
	TimedOut  bool
}

// Correct reports whether the response matched the correct response.
func (r Result) Correct() bool {
	return !r.TimedOut && r.Resp == r.Spec.CorrectResp
}

func (r Result) values() map[string]string {
	acc := NoResponse
	if !r.TimedOut {
		acc = "0"
		if r.Correct() {
			acc = "1"
		}
	}
	return map[string]string{
		"Subject":        r.Subject,
		"Condition":      r.Condition,
		"Block":          strconv.Itoa(r.Block),
		"Trial":          strconv.Itoa(r.Index),
		"Timestamp":      r.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		"TrialType":      string(r.Spec.Type),
		"SetSize":        strconv.Itoa(r.Spec.SetSize),
		"RT":             strconv.FormatFloat(r.RT.Seconds(), 'f', 4, 64),
		"CRESP":          r.Spec.CorrectResp,
		"RESP":           r.Resp,
		"ACC":            acc,
		"LocationTested": r.Spec.TestedLocation().String(),
		"Locations":      formatPoints(r.Spec.Locations),
		"SampleColors":   formatColors(r.Spec.SampleColors),
		"TestColors":     formatColors(r.Spec.TestColors),
	}
}

// Row is one persisted record keyed by the output schema field names.
type Row map[string]string

// Schema is the ordered, fixed field set of every persisted row.
type Schema struct {
	fields []string
}

// NewSchema validates field names. An empty list selects DefaultFields.
func NewSchema(fields []string) (Schema, error) {
	if len(fields) == 0 {
		fields = DefaultFields
	}
	known := make(map[string]bool, len(DefaultFields))
	for _, f := range DefaultFields {
		known[f] = true
	}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if !known[f] {
			return Schema{}, fmt.Errorf("%w: unknown output field %q", config.ErrConfiguration, f)
		}
		if seen[f] {
			return Schema{}, fmt.Errorf("%w: duplicate output field %q", config.ErrConfiguration, f)
		}
		seen[f] = true
	}
	return Schema{fields: append([]string(nil), fields...)}, nil
}

// Fields returns the column names in order.
func (s Schema) Fields() []string {
	return append([]string(nil), s.fields...)
}

// Row projects r onto the schema. The row holds exactly the schema's fields.
func (s Schema) Row(r Result) Row {
	all := r.values()
	row := make(Row, len(s.fields))
	for _, f := range s.fields {
		row[f] = all[f]
	}
	return row
}

// Values returns row's values in column order.
func (s Schema) Values(row Row) []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = row[f]
	}
	return out
}
