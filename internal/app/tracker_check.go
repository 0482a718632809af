// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/relabs-tech/changedetection/internal/config"
	"github.com/relabs-tech/changedetection/internal/tracker"
)

// checkSubject names the throwaway recording file of a tracker check.
const checkSubject = "CHK"

// TrackerCheckOptions configures RunTrackerCheck.
type TrackerCheckOptions struct {
	Config    *config.Config
	Simulated bool          // use the in-process tracker
	Duration  time.Duration // length of the test recording
	Prompt    bool          // wait for Enter before calibrating
	In        io.Reader
	Out       io.Writer
}

// RunTrackerCheck exercises the tracker end to end before a session: connect,
// calibrate, record a short bracket with markers, then transfer the file.
// The transferred file is left in the data directory for inspection.
func RunTrackerCheck(ctx context.Context, opts TrackerCheckOptions) error {
	if opts.Config == nil {
		return fmt.Errorf("%w: no configuration loaded", config.ErrConfiguration)
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	cfg := *opts.Config
	cfg.Subject = checkSubject
	if opts.Simulated {
		cfg.TrackerSimulated = true
	}
	if err := os.MkdirAll(cfg.DataDirectory, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	p := newPrompter(opts.In, opts.Out)
	out := opts.Out

	fmt.Fprintf(out, "[1/4] connecting to tracker (simulated=%t port=%s)\n", cfg.TrackerSimulated, cfg.TrackerPort)
	s, err := openSession(ctx, &cfg, true, opts.Simulated)
	if err != nil {
		return err
	}
	closed := false
	defer func() {
		if !closed {
			_ = s.Close(context.WithoutCancel(ctx), false)
		}
	}()
	fmt.Fprintf(out, "      connected, recording file %s\n", s.FileName())

	if opts.Prompt {
		p.waitEnter("Press Enter to start calibration on the tracker host...")
	}
	fmt.Fprintln(out, "[2/4] calibrating")
	if err := s.Calibrate(ctx); err != nil {
		return err
	}

	fmt.Fprintf(out, "[3/4] recording for %s\n", opts.Duration)
	if err := s.Mark("CHECK START"); err != nil {
		return err
	}
	if err := s.BeginRecording(); err != nil {
		return err
	}
	recErr := sleepOrDone(ctx, opts.Duration)
	if err := s.EndRecording(); err != nil {
		return err
	}
	if recErr != nil {
		return recErr
	}
	if err := s.Mark("CHECK END"); err != nil {
		return err
	}

	fmt.Fprintln(out, "[4/4] transferring recording file")
	closed = true
	if err := s.Close(ctx, true); err != nil {
		return err
	}
	dest := filepath.Join(cfg.DataDirectory, s.FileName())
	st, err := os.Stat(dest)
	if err != nil {
		return fmt.Errorf("%w: recording file not transferred: %w", tracker.ErrDevice, err)
	}
	fmt.Fprintf(out, "tracker OK: %s (%d bytes)\n", dest, st.Size())
	return nil
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
