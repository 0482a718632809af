// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package experiment sequences conditions, blocks and trials, keeps the eye
// tracker recording in lockstep with the stimuli, and owns the shutdown path.
//
// The controller is strictly sequential. Every exit path, normal or not, runs
// the same teardown exactly once: flush pending rows, show the quitting screen,
// close the tracker session with file transfer, then the status panel, the
// display and the output, in reverse order of acquisition.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/relabs-tech/changedetection/internal/config"
	"github.com/relabs-tech/changedetection/internal/events"
	"github.com/relabs-tech/changedetection/internal/logger"
	"github.com/relabs-tech/changedetection/internal/output"
	"github.com/relabs-tech/changedetection/internal/present"
	"github.com/relabs-tech/changedetection/internal/runner"
	"github.com/relabs-tech/changedetection/internal/tracker"
	"github.com/relabs-tech/changedetection/internal/trial"
)

// ErrQuit is returned when the operator ended the run early.
var ErrQuit = errors.New("experiment quit by operator")

// Capabilities selects the optional behaviors of a run.
type Capabilities struct {
	Recording          bool
	Calibration        string // config.CalibrateOnce or config.CalibratePerBlock
	Bracket            string // config.BracketPerTrial or config.BracketPerBlock
	QuitHook           bool
	CalibrationRetries int
}

// CapabilitiesFrom reads the capability set out of cfg.
func CapabilitiesFrom(cfg *config.Config) Capabilities {
	return Capabilities{
		Recording:          cfg.Recording,
		Calibration:        cfg.CalibrationPolicy,
		Bracket:            cfg.BracketPolicy,
		QuitHook:           cfg.QuitHook,
		CalibrationRetries: cfg.CalibrationRetries,
	}
}

// Session is the recording session as seen by the controller.
type Session interface {
	Calibrate(ctx context.Context) error
	Mark(label string) error
	SetStatus(text string) error
	BeginRecording() error
	EndRecording() error
	Close(ctx context.Context, transfer bool) error
}

// StatusPanel is the optional operator display.
type StatusPanel interface {
	Show(lines ...string) error
	Close() error
}

// TrialRunner executes one trial.
type TrialRunner interface {
	Run(ctx context.Context, t trial.Trial, block, index int) (trial.Result, error)
}

// BlockGenerator builds the trials of one block.
type BlockGenerator interface {
	Validate(policy trial.SetSizePolicy) error
	GenerateBlock(policy trial.SetSizePolicy, trialCount int) (trial.Block, error)
}

// Resources acquires the collaborators of a run. They are called in field
// order during initialization; optional ones may be nil.
type Resources struct {
	OpenOutput   func() (output.Sink, error)
	WriteRunInfo func() error // optional
	OpenSurface  func(ctx context.Context) (present.Surface, error)
	OpenPanel    func() (StatusPanel, error)                // optional
	OpenSession  func(ctx context.Context) (Session, error) // required when recording
	NewRunner    func(surface present.Surface) TrialRunner
}

// Options configures a Controller.
type Options struct {
	Config    *config.Config
	Schema    trial.Schema
	Rand      *rand.Rand
	Generator BlockGenerator
	Resources Resources
	Publisher events.Publisher // optional
	RunID     string
	Logger    *log.Logger
}

// Controller runs one experiment session.
type Controller struct {
	cfg    *config.Config
	caps   Capabilities
	schema trial.Schema
	rng    *rand.Rand
	gen    BlockGenerator
	res    Resources
	pub    events.Publisher
	runID  string
	log    *log.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	sink    output.Sink
	surface present.Surface
	panel   StatusPanel
	session Session
	runner  TrialRunner

	pending []trial.Row
	state   string

	teardownOnce sync.Once
	teardownErr  error
}

// New validates opts and returns a controller ready to Run.
func New(opts Options) (*Controller, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("%w: missing configuration", config.ErrConfiguration)
	}
	if opts.Rand == nil || opts.Generator == nil {
		return nil, fmt.Errorf("%w: missing random source or generator", config.ErrConfiguration)
	}
	res := opts.Resources
	if res.OpenOutput == nil || res.OpenSurface == nil || res.NewRunner == nil {
		return nil, fmt.Errorf("%w: output, surface and runner are required", config.ErrConfiguration)
	}
	if err := opts.Generator.Validate(trial.SetSizePolicy(opts.Config.SetSizes)); err != nil {
		return nil, err
	}
	caps := CapabilitiesFrom(opts.Config)
	if caps.Recording && res.OpenSession == nil {
		return nil, fmt.Errorf("%w: recording enabled without a tracker session", config.ErrConfiguration)
	}
	l := opts.Logger
	if l == nil {
		l = logger.New("experiment")
	}
	pub := opts.Publisher
	if pub == nil {
		pub = events.Nop{}
	}
	return &Controller{
		cfg:    opts.Config,
		caps:   caps,
		schema: opts.Schema,
		rng:    opts.Rand,
		gen:    opts.Generator,
		res:    res,
		pub:    pub,
		runID:  opts.RunID,
		log:    l,
		sleep:  sleepCtx,
	}, nil
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

// Run executes the whole session. It returns nil on normal completion, an error
// wrapping ErrQuit when the operator quit, and the originating error on a fault.
// Teardown has always finished when Run returns.
func (c *Controller) Run(ctx context.Context) (err error) {
	defer func() {
		if terr := c.teardown(ctx, err != nil); err == nil {
			err = terr
		}
	}()

	if err := c.initialize(ctx); err != nil {
		return c.abort(err)
	}

	conditions := c.conditionOrder()
	if c.cfg.NumberOfBlocks > 0 {
		for _, cond := range conditions {
			if err := c.runCondition(ctx, cond); err != nil {
				return c.abort(err)
			}
		}
	}

	c.finish(ctx)
	return nil
}

// Close runs the teardown if Run has not. It is safe to call any number of times.
func (c *Controller) Close(ctx context.Context) error {
	return c.teardown(ctx, false)
}

func (c *Controller) initialize(ctx context.Context) error {
	c.transition(events.StateInitializing, "", -1, -1, nil, nil)

	sink, err := c.res.OpenOutput()
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	c.sink = sink

	if c.res.WriteRunInfo != nil {
		if err := c.res.WriteRunInfo(); err != nil {
			return fmt.Errorf("write run info: %w", err)
		}
	}

	surface, err := c.res.OpenSurface(ctx)
	if err != nil {
		return fmt.Errorf("open display: %w", err)
	}
	c.surface = surface
	if _, err := c.surface.DisplayText(ctx, loadingText, present.TextOptions{}); err != nil {
		return fmt.Errorf("loading screen: %w", err)
	}

	if c.res.OpenPanel != nil {
		panel, err := c.res.OpenPanel()
		if err != nil {
			c.log.Warn("status panel unavailable, continuing without it", "err", err)
		} else {
			c.panel = panel
			c.showPanel("Loading")
		}
	}

	if c.caps.Recording {
		session, err := c.res.OpenSession(ctx)
		if err != nil {
			return fmt.Errorf("open tracker session: %w", err)
		}
		c.session = session
	}

	c.runner = c.res.NewRunner(c.surface)

	for _, text := range instructionScreens(c.cfg.SameKey, c.cfg.DifferentKey, c.cfg.ContinueKey, c.cfg.SetSizes) {
		if err := c.instruct(ctx, text); err != nil {
			return err
		}
	}
	if c.caps.Recording {
		if err := c.instruct(ctx, eyeTrackingInstructions(c.cfg.ContinueKey)); err != nil {
			return err
		}
		if c.caps.Calibration == config.CalibrateOnce {
			if err := c.calibrate(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Controller) conditionOrder() []string {
	order := append([]string(nil), c.cfg.Conditions...)
	if c.cfg.ShuffleConditions {
		c.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	c.log.Info("condition order", "conditions", order)
	return order
}

func (c *Controller) runCondition(ctx context.Context, cond string) error {
	c.transition(events.StateCondition, cond, -1, -1, nil, nil)
	if err := c.instruct(ctx, conditionInstructions(cond, c.cfg.ContinueKey)); err != nil {
		return err
	}

	for b := 0; b < c.cfg.NumberOfBlocks; b++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.runBlock(ctx, cond, b); err != nil {
			return err
		}
		if b+1 < c.cfg.NumberOfBlocks {
			if err := c.instruct(ctx, breakText(b+1, c.cfg.NumberOfBlocks, c.cfg.ContinueKey)); err != nil {
				return err
			}
			if err := c.instruct(ctx, reminderTitle+conditionInstructions(cond, c.cfg.ContinueKey)); err != nil {
				return err
			}
		}
	}

	c.transition(events.StateConditionComplete, cond, -1, -1, nil, nil)
	return nil
}

func (c *Controller) runBlock(ctx context.Context, cond string, b int) error {
	c.transition(events.StateBlock, cond, b, -1, nil, nil)

	block, err := c.gen.GenerateBlock(trial.SetSizePolicy(c.cfg.SetSizes), c.cfg.TrialsPerBlock)
	if err != nil {
		return fmt.Errorf("generate block %d: %w", b, err)
	}

	if c.caps.Recording && c.caps.Calibration == config.CalibratePerBlock {
		if err := c.calibrate(ctx); err != nil {
			return err
		}
	}

	if _, err := c.surface.DisplayText(ctx, getReadyText, present.TextOptions{}); err != nil {
		return fmt.Errorf("get ready screen: %w", err)
	}
	if err := c.sleep(ctx, c.cfg.GetReadyTime); err != nil {
		return err
	}

	if c.caps.Recording && c.caps.Bracket == config.BracketPerBlock {
		if err := c.session.Mark(fmt.Sprintf("BLOCK %d", b)); err != nil {
			return err
		}
		err = c.bracketed(func() error { return c.runTrials(ctx, cond, b, block) })
	} else {
		err = c.runTrials(ctx, cond, b, block)
	}
	if err != nil {
		return err
	}

	if err := c.flush(); err != nil {
		return err
	}
	c.transition(events.StateBlockComplete, cond, b, -1, nil, nil)
	return nil
}

func (c *Controller) runTrials(ctx context.Context, cond string, b int, block trial.Block) error {
	for i, tr := range block {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.runTrial(ctx, cond, b, i, len(block), tr); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) runTrial(ctx context.Context, cond string, b, i, n int, tr trial.Trial) error {
	c.state = events.StateTrial
	c.showPanel(cond, fmt.Sprintf("Block %d/%d", b+1, c.cfg.NumberOfBlocks), fmt.Sprintf("Trial %d/%d", i+1, n))

	var (
		res trial.Result
		err error
	)
	run := func() error {
		res, err = c.runner.Run(ctx, tr, b, i)
		return err
	}

	if c.caps.Recording {
		if c.caps.Bracket == config.BracketPerTrial {
			if err := c.session.Mark(fmt.Sprintf("BLOCK %d", b)); err != nil {
				return err
			}
		}
		if err := c.session.Mark(fmt.Sprintf("TRIAL %d", i)); err != nil {
			return err
		}
		if err := c.session.SetStatus(fmt.Sprintf("%s: Block %d, Trial %d", cond, b, i)); err != nil {
			return err
		}
		if c.caps.Bracket == config.BracketPerTrial {
			if berr := c.bracketed(run); berr != nil {
				return berr
			}
		} else if rerr := run(); rerr != nil {
			return rerr
		}
	} else if rerr := run(); rerr != nil {
		return rerr
	}

	res.Subject = c.cfg.Subject
	res.Condition = cond
	c.pending = append(c.pending, c.schema.Row(res))

	correct := res.Correct()
	c.transition(events.StateTrial, cond, b, i, &correct, nil)
	return nil
}

// bracketed opens a recording bracket around fn and always closes it, even
// when fn fails. fn's error takes precedence over the close error.
func (c *Controller) bracketed(fn func() error) error {
	if err := c.session.BeginRecording(); err != nil {
		return err
	}
	err := fn()
	if endErr := c.session.EndRecording(); endErr != nil {
		if err == nil {
			return endErr
		}
		c.log.Error("end recording after failed trial", "err", endErr)
	}
	return err
}

func (c *Controller) calibrate(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		err := c.session.Calibrate(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, tracker.ErrCalibrationAborted) || attempt >= c.caps.CalibrationRetries {
			return err
		}
		c.log.Warn("calibration aborted, retrying", "attempt", attempt+1, "retries", c.caps.CalibrationRetries)
	}
}

// instruct shows a text screen and waits for the continue key. With the quit
// hook enabled the quit key ends the run.
func (c *Controller) instruct(ctx context.Context, text string) error {
	keys := []string{c.cfg.ContinueKey}
	if c.caps.QuitHook {
		keys = append(keys, c.cfg.QuitKey)
	}
	key, err := c.surface.DisplayText(ctx, text, present.TextOptions{WaitKeys: keys})
	if err != nil {
		return fmt.Errorf("text screen: %w", err)
	}
	if c.caps.QuitHook && key == c.cfg.QuitKey {
		return runner.ErrQuitRequested
	}
	return nil
}

// flush hands the rows accumulated since the last flush to the sink. Rows are
// handed over once: after a failed write they are dropped from pending, since a
// sink may have committed part of them.
func (c *Controller) flush() error {
	if len(c.pending) == 0 {
		return nil
	}
	rows := c.pending
	c.pending = nil
	if err := c.sink.WriteBlock(rows); err != nil {
		return fmt.Errorf("persist %d rows: %w", len(rows), err)
	}
	c.log.Info("block persisted", "rows", len(rows))
	return nil
}

func (c *Controller) finish(ctx context.Context) {
	c.transition(events.StateFinished, "", -1, -1, nil, nil)
	c.showPanel("Finished")
	_, err := c.surface.DisplayText(ctx, closingText, present.TextOptions{Color: "#ffffff", Background: "#0000ff"})
	if err != nil {
		c.log.Warn("closing screen failed", "err", err)
		return
	}
	if err := c.sleep(ctx, c.cfg.ExitWait); err != nil {
		c.log.Debug("exit wait interrupted", "err", err)
	}
}

// abort maps err to the run outcome and announces it.
func (c *Controller) abort(err error) error {
	if errors.Is(err, runner.ErrQuitRequested) || errors.Is(err, context.Canceled) {
		err = fmt.Errorf("%w: %w", ErrQuit, err)
		c.log.Warn("run quit by operator", "state", c.state)
	} else {
		c.log.Error("run aborted", "state", c.state, "err", err)
	}
	c.transition(events.StateAborting, "", -1, -1, nil, err)
	c.showPanel("Aborting")
	return err
}

// teardown releases every acquired resource exactly once. Steps are independent;
// only the tracker disconnect error is returned, and only when the run itself
// succeeded.
func (c *Controller) teardown(ctx context.Context, failed bool) error {
	c.teardownOnce.Do(func() {
		ctx := context.WithoutCancel(ctx)

		if c.sink != nil && len(c.pending) > 0 {
			if err := c.flush(); err != nil {
				c.log.Error("flush pending rows failed", "err", err)
			}
		}
		if c.surface != nil {
			if _, err := c.surface.DisplayText(ctx, quittingText, present.TextOptions{}); err != nil {
				c.log.Warn("quitting screen failed", "err", err)
			}
		}
		if c.session != nil {
			if err := c.session.Close(ctx, true); err != nil {
				c.log.Error("close tracker session failed", "err", err)
				if !failed {
					c.teardownErr = err
				}
			}
		}
		if c.panel != nil {
			if err := c.panel.Close(); err != nil {
				c.log.Warn("close status panel failed", "err", err)
			}
		}
		if c.surface != nil {
			if err := c.surface.Close(); err != nil {
				c.log.Warn("close display failed", "err", err)
			}
		}
		if c.sink != nil {
			if err := c.sink.Close(); err != nil {
				c.log.Error("close output failed", "err", err)
			}
		}
		c.log.Info("teardown complete")
	})
	return c.teardownErr
}

func (c *Controller) showPanel(lines ...string) {
	if c.panel == nil {
		return
	}
	if err := c.panel.Show(append([]string{c.cfg.Subject}, lines...)...); err != nil {
		c.log.Debug("status panel update failed", "err", err)
	}
}

func (c *Controller) transition(state, cond string, block, index int, correct *bool, cause error) {
	c.state = state
	e := events.Event{
		RunID:     c.runID,
		Time:      time.Now(),
		State:     state,
		Subject:   c.cfg.Subject,
		Condition: cond,
		Block:     block,
		Trial:     index,
		Correct:   correct,
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	if state == events.StateTrial {
		c.log.Debug("transition", "state", state, "condition", cond, "block", block, "trial", index)
	} else {
		c.log.Info("transition", "state", state, "condition", cond, "block", block)
	}
	if err := c.pub.Publish(e); err != nil {
		c.log.Debug("event publish failed", "state", state, "err", err)
	}
}
