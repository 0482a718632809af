// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package present holds the presentation surface the experiment draws on and
// reads operator and participant keys from.
package present

import (
	"context"
	"errors"
	"time"

	"github.com/relabs-tech/changedetection/internal/trial"
)

// ErrClosed is returned by calls on a closed surface.
var ErrClosed = errors.New("presentation surface closed")

// FrameKind names the stimulus screens of a trial.
type FrameKind string

const (
	FrameFixation FrameKind = "fixation"
	FrameSample   FrameKind = "sample"
	FrameBlank    FrameKind = "blank"
	FrameTest     FrameKind = "test"
)

// Item is one colored square at a normalized position.
type Item struct {
	Position trial.Point `json:"position"`
	Color    trial.Color `json:"color"`
}

// Frame is a full-screen stimulus. Fixation and blank frames carry no items.
type Frame struct {
	Kind  FrameKind `json:"kind"`
	Items []Item    `json:"items,omitempty"`
}

// TextOptions controls a text screen.
type TextOptions struct {
	Color      string   // CSS color, white when empty
	Background string   // CSS color, gray when empty
	WaitKeys   []string // block until one of these keys; return immediately when empty
}

// Response is the outcome of a response window.
type Response struct {
	Key      string
	RT       time.Duration // from the onset of the last presented frame
	TimedOut bool
}

// Surface is the display and keyboard of the participant.
type Surface interface {
	// DisplayText shows text and, when opts.WaitKeys is set, blocks until one of
	// those keys is pressed and returns it.
	DisplayText(ctx context.Context, text string, opts TextOptions) (string, error)
	// PresentStimulus shows frame and returns its onset time.
	PresentStimulus(ctx context.Context, frame Frame) (time.Time, error)
	// AwaitResponse waits for one of keys. A zero timeout waits indefinitely.
	// Other keys are ignored while the deadline keeps running.
	AwaitResponse(ctx context.Context, timeout time.Duration, keys []string) (Response, error)
	Close() error
}

// SampleFrame builds the sample array of t.
func SampleFrame(t trial.Trial) Frame {
	return arrayFrame(FrameSample, t.Locations, t.SampleColors)
}

// TestArrayFrame builds the test array of t.
func TestArrayFrame(t trial.Trial) Frame {
	return arrayFrame(FrameTest, t.Locations, t.TestColors)
}

func arrayFrame(kind FrameKind, locations []trial.Point, colors []trial.Color) Frame {
	items := make([]Item, len(locations))
	for i := range locations {
		items[i] = Item{Position: locations[i], Color: colors[i]}
	}
	return Frame{Kind: kind, Items: items}
}

func contains(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
