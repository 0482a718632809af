// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package trial

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/changedetection/internal/config"
)

func sampleResult() Result {
	return Result{
		Subject:   "12",
		Condition: "Fixated",
		Block:     1,
		Index:     4,
		Timestamp: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		Spec: Trial{
			Type:           Different,
			SetSize:        2,
			Locations:      []Point{{X: -0.4, Y: 0.8}, {X: 0.4, Y: 0}},
			SampleColors:   []Color{DefaultColors[0], DefaultColors[1]},
			TestColors:     []Color{DefaultColors[0], DefaultColors[2]},
			LocationTested: 1,
			CorrectResp:    "d",
		},
		RT:   532 * time.Millisecond,
		Resp: "d",
	}
}

func TestSchemaRowHasExactlySchemaFields(t *testing.T) {
	schema, err := NewSchema(nil)
	require.NoError(t, err)

	row := schema.Row(sampleResult())
	require.Len(t, row, len(DefaultFields))
	for _, f := range DefaultFields {
		assert.Contains(t, row, f)
	}

	assert.Equal(t, "12", row["Subject"])
	assert.Equal(t, "1", row["Block"])
	assert.Equal(t, "4", row["Trial"])
	assert.Equal(t, "different", row["TrialType"])
	assert.Equal(t, "0.5320", row["RT"])
	assert.Equal(t, "1", row["ACC"])
	assert.Equal(t, "(0.40, 0.00)", row["LocationTested"])
	assert.Equal(t, "[red, green]", row["TestColors"])
	assert.Equal(t, "2026-03-02T10:00:00.000Z", row["Timestamp"])
}

func TestSchemaSubsetOrder(t *testing.T) {
	schema, err := NewSchema([]string{"ACC", "Subject"})
	require.NoError(t, err)

	row := schema.Row(sampleResult())
	assert.Len(t, row, 2)
	assert.Equal(t, []string{"1", "12"}, schema.Values(row))
	assert.Equal(t, []string{"ACC", "Subject"}, schema.Fields())
}

func TestNoResponseSentinel(t *testing.T) {
	r := sampleResult()
	r.TimedOut = true
	r.Resp = NoResponse

	schema, err := NewSchema(nil)
	require.NoError(t, err)
	row := schema.Row(r)
	assert.Equal(t, NoResponse, row["RESP"])
	assert.Equal(t, NoResponse, row["ACC"])
	assert.False(t, r.Correct())
}

func TestIncorrectResponse(t *testing.T) {
	r := sampleResult()
	r.Resp = "s"
	schema, _ := NewSchema(nil)
	assert.Equal(t, "0", schema.Row(r)["ACC"])
}

func TestNewSchemaRejects(t *testing.T) {
	_, err := NewSchema([]string{"Subject", "Mood"})
	assert.ErrorIs(t, err, config.ErrConfiguration)

	_, err = NewSchema([]string{"RT", "RT"})
	assert.ErrorIs(t, err, config.ErrConfiguration)
}
