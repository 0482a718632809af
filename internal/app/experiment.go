// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/changedetection/internal/config"
	"github.com/relabs-tech/changedetection/internal/events"
	"github.com/relabs-tech/changedetection/internal/experiment"
	"github.com/relabs-tech/changedetection/internal/logger"
	"github.com/relabs-tech/changedetection/internal/output"
	"github.com/relabs-tech/changedetection/internal/present"
	"github.com/relabs-tech/changedetection/internal/runner"
	"github.com/relabs-tech/changedetection/internal/statuspanel"
	"github.com/relabs-tech/changedetection/internal/tracker"
	"github.com/relabs-tech/changedetection/internal/trial"
)

// Process exit codes.
const (
	ExitOK        = 0
	ExitCancelled = 1
	ExitFault     = 2
	ExitQuit      = 3
)

// ErrCancelled is returned when the operator backs out during setup.
var ErrCancelled = errors.New("setup cancelled by operator")

// dryRunMissRate is the fraction of response windows the dry-run responder lets time out.
const dryRunMissRate = 0.05

// ExperimentOptions are the operator choices layered over the loaded config.
type ExperimentOptions struct {
	Config    *config.Config
	Subject   string // overrides SUBJECT when set
	DryRun    bool   // scripted display and simulated tracker
	Overwrite bool   // overwrite existing files without asking
	In        io.Reader
	Out       io.Writer
}

// ExitCode maps the result of RunExperiment to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrCancelled):
		return ExitCancelled
	case errors.Is(err, experiment.ErrQuit):
		return ExitQuit
	default:
		return ExitFault
	}
}

// RunExperiment prepares one session from opts and runs it to completion.
// Cancelling ctx is treated as an operator quit.
func RunExperiment(ctx context.Context, opts ExperimentOptions) error {
	if opts.Config == nil {
		return fmt.Errorf("%w: no configuration loaded", config.ErrConfiguration)
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	l := logger.New("app")

	cfg := *opts.Config
	if opts.Subject != "" {
		cfg.Subject = opts.Subject
	}
	if opts.DryRun {
		cfg.TrackerSimulated = true
	}

	p := newPrompter(opts.In, opts.Out)
	if cfg.Subject == "" {
		subject, err := p.ask("Subject ID: ")
		if err != nil || subject == "" {
			return fmt.Errorf("%w: no subject entered", ErrCancelled)
		}
		cfg.Subject = subject
	}

	schema, err := trial.NewSchema(cfg.OutputFields)
	if err != nil {
		return err
	}
	recordingFile := ""
	if cfg.Recording {
		if recordingFile, err = tracker.FileName(cfg.TrackerFilePrefix, cfg.Subject); err != nil {
			return err
		}
	}

	runID := uuid.New()
	outOpts := output.Options{
		Directory:  cfg.DataDirectory,
		Experiment: cfg.ExperimentName,
		Subject:    cfg.Subject,
		Format:     cfg.OutputFormat,
		Schema:     schema,
		RunID:      runID,
	}

	existing := outOpts.Existing()
	if recordingFile != "" {
		edf := filepath.Join(cfg.DataDirectory, recordingFile)
		if _, err := os.Stat(edf); err == nil {
			existing = append(existing, edf)
		}
	}
	overwrite := opts.Overwrite
	if len(existing) > 0 && !overwrite {
		fmt.Fprintln(opts.Out, "WARNING: these files already exist and will be overwritten:")
		for _, path := range existing {
			fmt.Fprintf(opts.Out, "  %s\n", path)
		}
		ok, err := p.confirm("Overwrite? [y/N]: ")
		if err != nil || !ok {
			return fmt.Errorf("%w: existing files kept", ErrCancelled)
		}
		overwrite = true
	}
	outOpts.Overwrite = overwrite

	rng, err := trial.NewRand()
	if err != nil {
		return err
	}

	pub := events.Publisher(events.Nop{})
	if cfg.MQTTBroker != "" {
		mp, err := events.ConnectMQTT(cfg.MQTTBroker, cfg.MQTTClientID, cfg.TopicEvents, logger.New("events"))
		if err != nil {
			l.Warn("event publishing disabled", "err", err)
		} else {
			pub = mp
		}
	}
	defer pub.Close()

	info := output.RunInfo{
		RunID:             runID,
		Experiment:        cfg.ExperimentName,
		Subject:           cfg.Subject,
		StartedAt:         time.Now(),
		Conditions:        cfg.Conditions,
		NumberOfBlocks:    cfg.NumberOfBlocks,
		TrialsPerBlock:    cfg.TrialsPerBlock,
		SetSizes:          cfg.SetSizes,
		Recording:         cfg.Recording,
		QuitHook:          cfg.QuitHook,
		RecordingFile:     recordingFile,
		Fields:            schema.Fields(),
		DryRun:            opts.DryRun,
		CalibrationPolicy: cfg.CalibrationPolicy,
		BracketPolicy:     cfg.BracketPolicy,
	}
	if host, err := os.Hostname(); err == nil {
		info.Host = host
	}

	res := experiment.Resources{
		OpenOutput:   func() (output.Sink, error) { return output.Open(outOpts) },
		WriteRunInfo: func() error { return output.WriteRunInfo(outOpts.InfoPath(), info, overwrite) },
		OpenSurface: func(ctx context.Context) (present.Surface, error) {
			if opts.DryRun {
				responder := present.RandomResponder(rand.New(rand.NewSource(rng.Int63())), dryRunMissRate)
				return present.NewScripted(responder), nil
			}
			return openWebSurface(ctx, &cfg, opts.Out)
		},
		OpenSession: func(ctx context.Context) (experiment.Session, error) {
			s, err := openSession(ctx, &cfg, overwrite, opts.DryRun)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		NewRunner: func(s present.Surface) experiment.TrialRunner {
			return runner.New(s, timingFrom(&cfg), keysFrom(&cfg), logger.New("runner"))
		},
	}
	if cfg.StatusPanelI2CBus != "" {
		res.OpenPanel = func() (experiment.StatusPanel, error) {
			return statuspanel.Open(cfg.StatusPanelI2CBus, logger.New("panel"))
		}
	}

	ctrl, err := experiment.New(experiment.Options{
		Config:    &cfg,
		Schema:    schema,
		Rand:      rng,
		Generator: trial.NewGenerator(rng, cfg.SameKey, cfg.DifferentKey),
		Resources: res,
		Publisher: pub,
		RunID:     runID.String(),
		Logger:    logger.New("experiment"),
	})
	if err != nil {
		return err
	}

	l.Info("starting run", "run_id", runID, "subject", cfg.Subject, "dry_run", opts.DryRun)
	err = ctrl.Run(ctx)
	switch {
	case err == nil:
		l.Info("run complete", "data", cfg.DataDirectory)
	case errors.Is(err, experiment.ErrQuit):
		l.Warn("run quit by operator", "data", cfg.DataDirectory)
	default:
		l.Error("run failed", "err", err)
	}
	return err
}

func openWebSurface(ctx context.Context, cfg *config.Config, out io.Writer) (present.Surface, error) {
	w, err := present.NewWeb(cfg.DisplayAddr, logger.New("display"))
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Open http://%s on the participant display.\n", w.Addr())
	if err := w.WaitForClient(ctx, cfg.DisplayConnectTimeout); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// openSession connects the configured tracker and opens its recording file.
func openSession(ctx context.Context, cfg *config.Config, overwrite, dryRun bool) (*tracker.Session, error) {
	var dev tracker.Device
	if cfg.TrackerSimulated {
		dev = tracker.NewSimulated()
	} else {
		dev = tracker.NewSerialLink(tracker.SerialOptions{
			PortName: cfg.TrackerPort,
			BaudRate: uint(cfg.TrackerBaudRate),
			Timeout:  cfg.TrackerTimeout,
			Logger:   logger.New("tracker-link"),
		})
	}

	sopts := tracker.SessionOptions{
		Subject:        cfg.Subject,
		FilePrefix:     cfg.TrackerFilePrefix,
		Eyes:           cfg.TrackerEyes,
		DataDirectory:  cfg.DataDirectory,
		AllowOverwrite: overwrite,
		Logger:         logger.New("tracker"),
	}
	var trig *tracker.GPIOTrigger
	if cfg.TriggerPin != "" && !dryRun {
		var err error
		if trig, err = tracker.OpenGPIOTrigger(cfg.TriggerPin, cfg.TriggerPulse); err != nil {
			return nil, fmt.Errorf("%w: %w", tracker.ErrDevice, err)
		}
		sopts.Trigger = trig
	}

	s, err := tracker.Open(ctx, dev, sopts)
	if err != nil && trig != nil {
		_ = trig.Close()
	}
	return s, err
}

func timingFrom(cfg *config.Config) runner.Timing {
	return runner.Timing{
		Fixation:        cfg.FixationTime,
		Sample:          cfg.SampleTime,
		Delay:           cfg.DelayTime,
		ResponseTimeout: cfg.ResponseTimeout,
	}
}

func keysFrom(cfg *config.Config) runner.Keys {
	k := runner.Keys{Same: cfg.SameKey, Different: cfg.DifferentKey}
	if cfg.QuitHook {
		k.Quit = cfg.QuitKey
	}
	return k
}
