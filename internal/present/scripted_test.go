// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package present

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/changedetection/internal/trial"
)

func TestScriptedRecordsScreens(t *testing.T) {
	s := NewScripted(FixedResponder("s", 400*time.Millisecond))
	ctx := context.Background()

	key, err := s.DisplayText(ctx, "Welcome", TextOptions{WaitKeys: []string{"space"}})
	require.NoError(t, err)
	assert.Equal(t, "space", key)

	_, err = s.PresentStimulus(ctx, Frame{Kind: FrameFixation})
	require.NoError(t, err)
	resp, err := s.AwaitResponse(ctx, time.Second, []string{"s", "d"})
	require.NoError(t, err)
	assert.Equal(t, Response{Key: "s", RT: 400 * time.Millisecond}, resp)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 2, s.Closes())
	assert.Equal(t, []string{"Welcome"}, s.Texts())
	assert.Equal(t, []FrameKind{FrameFixation}, s.Frames())

	_, err = s.PresentStimulus(ctx, Frame{Kind: FrameBlank})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRandomResponderNeverPressesQuit(t *testing.T) {
	respond := RandomResponder(rand.New(rand.NewSource(3)), 0.2)
	timeouts := 0
	for i := 0; i < 500; i++ {
		r := respond([]string{"s", "d", "escape"}, 2*time.Second)
		if r.TimedOut {
			timeouts++
			continue
		}
		assert.Contains(t, []string{"s", "d"}, r.Key)
		assert.LessOrEqual(t, r.RT, 2*time.Second)
	}
	assert.Positive(t, timeouts)
	assert.Less(t, timeouts, 250)
}

func TestRandomResponderUnboundedNeverTimesOut(t *testing.T) {
	respond := RandomResponder(rand.New(rand.NewSource(1)), 1)
	for i := 0; i < 50; i++ {
		assert.False(t, respond([]string{"s", "d"}, 0).TimedOut)
	}
}

func TestArrayFramesPairLocationsWithColors(t *testing.T) {
	c := trial.DefaultColors
	tr := trial.Trial{
		Type:         trial.Different,
		SetSize:      2,
		Locations:    []trial.Point{{X: -1, Y: 0}, {X: 1, Y: 0}},
		SampleColors: []trial.Color{c[0], c[1]},
		TestColors:   []trial.Color{c[0], c[2]},
	}

	sample := SampleFrame(tr)
	assert.Equal(t, FrameSample, sample.Kind)
	test := TestArrayFrame(tr)
	assert.Equal(t, FrameTest, test.Kind)
	require.Len(t, test.Items, 2)
	assert.Equal(t, Item{Position: tr.Locations[1], Color: c[2]}, test.Items[1])
	assert.Equal(t, Item{Position: tr.Locations[1], Color: c[1]}, sample.Items[1])
}
