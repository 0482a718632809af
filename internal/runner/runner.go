// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package runner executes a single change detection trial on a presentation surface.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/relabs-tech/changedetection/internal/logger"
	"github.com/relabs-tech/changedetection/internal/present"
	"github.com/relabs-tech/changedetection/internal/trial"
)

// ErrQuitRequested is returned when the quit key is pressed during a response window.
var ErrQuitRequested = errors.New("quit requested")

// Timing holds the durations of the trial phases.
type Timing struct {
	Fixation        time.Duration
	Sample          time.Duration
	Delay           time.Duration
	ResponseTimeout time.Duration // zero waits indefinitely
}

// Keys maps responses to keyboard keys. An empty Quit disables the quit hook.
type Keys struct {
	Same      string
	Different string
	Quit      string
}

// Runner presents trials and collects responses. It never touches the tracker.
type Runner struct {
	surface present.Surface
	timing  Timing
	keys    Keys
	log     *log.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// New returns a runner drawing on surface.
func New(surface present.Surface, timing Timing, keys Keys, l *log.Logger) *Runner {
	if l == nil {
		l = logger.New("runner")
	}
	return &Runner{surface: surface, timing: timing, keys: keys, log: l, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Runner) show(ctx context.Context, frame present.Frame, hold time.Duration) (time.Time, error) {
	onset, err := r.surface.PresentStimulus(ctx, frame)
	if err != nil {
		return time.Time{}, fmt.Errorf("present %s: %w", frame.Kind, err)
	}
	if err := r.sleep(ctx, hold); err != nil {
		return onset, err
	}
	return onset, nil
}

// Run executes t: fixation, sample array, blank delay, test array and the
// response window. A timeout yields a result with the NoResponse sentinel.
// Subject and Condition are left for the caller to fill in.
func (r *Runner) Run(ctx context.Context, t trial.Trial, block, index int) (trial.Result, error) {
	res := trial.Result{
		Block: block,
		Index: index,
		Spec:  t,
	}

	if _, err := r.show(ctx, present.Frame{Kind: present.FrameFixation}, r.timing.Fixation); err != nil {
		return res, err
	}
	if _, err := r.show(ctx, present.SampleFrame(t), r.timing.Sample); err != nil {
		return res, err
	}
	if _, err := r.show(ctx, present.Frame{Kind: present.FrameBlank}, r.timing.Delay); err != nil {
		return res, err
	}
	onset, err := r.show(ctx, present.TestArrayFrame(t), 0)
	if err != nil {
		return res, err
	}
	res.Timestamp = onset

	keys := []string{r.keys.Same, r.keys.Different}
	if r.keys.Quit != "" {
		keys = append(keys, r.keys.Quit)
	}
	resp, err := r.surface.AwaitResponse(ctx, r.timing.ResponseTimeout, keys)
	if err != nil {
		return res, fmt.Errorf("await response: %w", err)
	}

	switch {
	case resp.TimedOut:
		res.TimedOut = true
		res.Resp = trial.NoResponse
		res.RT = resp.RT
	case r.keys.Quit != "" && resp.Key == r.keys.Quit:
		r.log.Warn("quit key pressed", "block", block, "trial", index)
		return res, ErrQuitRequested
	default:
		res.Resp = resp.Key
		res.RT = resp.RT
	}

	r.log.Debug("trial done",
		"block", block,
		"trial", index,
		"type", t.Type,
		"set_size", t.SetSize,
		"resp", res.Resp,
		"correct", res.Correct(),
		"rt", res.RT,
	)
	return res, nil
}
