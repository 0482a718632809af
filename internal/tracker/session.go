// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package tracker drives an eye tracker through its acquisition lifecycle.
//
// A Session owns one Device from Open to Close and enforces the recording
// protocol: calibrate before recording, never nest recording brackets, and always
// finalize the device-side file on the way out.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/charmbracelet/log"

	"github.com/relabs-tech/changedetection/internal/config"
	"github.com/relabs-tech/changedetection/internal/logger"
)

var (
	// ErrDevice wraps any I/O fault talking to the tracker.
	ErrDevice = errors.New("tracker device error")
	// ErrCalibrationAborted is returned when the operator aborts calibration.
	ErrCalibrationAborted = errors.New("calibration aborted")
	// ErrProtocolViolation marks a call that is illegal in the current state.
	ErrProtocolViolation = errors.New("tracker protocol violation")
	// ErrFileExists is returned by Open when the host copy of the recording exists.
	ErrFileExists = errors.New("recording file already exists")
)

// Device is the transport-level contract of an eye tracker.
type Device interface {
	Connect(ctx context.Context) error
	Setup(eyes string) error
	OpenFile(name string) error
	Calibrate(ctx context.Context) error
	Message(text string) error
	Status(text string) error
	StartRecording() error
	StopRecording() error
	SetOffline() error
	CloseFile() error
	ReceiveFile(ctx context.Context, name string, w io.Writer) (int64, error)
	Disconnect() error
}

// Trigger emits a TTL pulse alongside every marker.
type Trigger interface {
	Pulse() error
	Close() error
}

// State is the session lifecycle state.
type State int

const (
	Uninitialized State = iota
	DeviceOpen
	Calibrated
	Recording
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case DeviceOpen:
		return "device-open"
	case Calibrated:
		return "calibrated"
	case Recording:
		return "recording"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SessionOptions configures Open.
type SessionOptions struct {
	Subject        string
	FilePrefix     string
	Eyes           string
	DataDirectory  string // host destination of the transferred file
	AllowOverwrite bool
	Trigger        Trigger // optional
	Logger         *log.Logger
}

var fileNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,8}$`)

// FileName returns the device-side recording file name for a subject.
// Tracker file systems limit base names to eight characters.
func FileName(prefix, subject string) (string, error) {
	base := prefix + subject
	if !fileNamePattern.MatchString(base) {
		return "", fmt.Errorf("%w: recording file base name %q must be 1-8 letters, digits or underscores", config.ErrConfiguration, base)
	}
	return base + ".edf", nil
}

// Session is an open tracker with its recording file.
type Session struct {
	dev      Device
	trigger  Trigger
	log      *log.Logger
	fileName string
	destPath string
	state    State
}

// Open connects to dev and creates the recording file for opts.Subject.
func Open(ctx context.Context, dev Device, opts SessionOptions) (*Session, error) {
	name, err := FileName(opts.FilePrefix, opts.Subject)
	if err != nil {
		return nil, err
	}
	dest := filepath.Join(opts.DataDirectory, name)
	if !opts.AllowOverwrite {
		if _, err := os.Stat(dest); err == nil {
			return nil, fmt.Errorf("%w: %s", ErrFileExists, dest)
		}
	}

	l := opts.Logger
	if l == nil {
		l = logger.New("tracker")
	}

	if err := dev.Connect(ctx); err != nil {
		return nil, fmt.Errorf("%w: connect: %w", ErrDevice, err)
	}
	if err := dev.Setup(opts.Eyes); err != nil {
		_ = dev.Disconnect()
		return nil, fmt.Errorf("%w: setup: %w", ErrDevice, err)
	}
	if err := dev.OpenFile(name); err != nil {
		_ = dev.Disconnect()
		return nil, fmt.Errorf("%w: open file %s: %w", ErrDevice, name, err)
	}

	l.Info("tracker connected", "file", name, "eyes", opts.Eyes)
	return &Session{
		dev:      dev,
		trigger:  opts.Trigger,
		log:      l,
		fileName: name,
		destPath: dest,
		state:    DeviceOpen,
	}, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// FileName returns the device-side recording file name.
func (s *Session) FileName() string {
	return s.fileName
}

// Calibrate blocks until the device calibration routine finishes. An operator
// abort returns ErrCalibrationAborted and leaves the state unchanged.
func (s *Session) Calibrate(ctx context.Context) error {
	if s.state != DeviceOpen && s.state != Calibrated {
		return fmt.Errorf("%w: calibrate in state %s", ErrProtocolViolation, s.state)
	}
	s.log.Info("calibration started")
	if err := s.dev.Calibrate(ctx); err != nil {
		if errors.Is(err, ErrCalibrationAborted) {
			s.log.Warn("calibration aborted by operator")
			return err
		}
		return fmt.Errorf("%w: calibrate: %w", ErrDevice, err)
	}
	s.state = Calibrated
	s.log.Info("calibration complete")
	return nil
}

// Mark writes a timestamped message into the recording and pulses the trigger line.
func (s *Session) Mark(label string) error {
	if s.state == Uninitialized || s.state == Closed {
		return fmt.Errorf("%w: mark in state %s", ErrProtocolViolation, s.state)
	}
	if err := s.dev.Message(label); err != nil {
		return fmt.Errorf("%w: message %q: %w", ErrDevice, label, err)
	}
	if s.trigger != nil {
		if err := s.trigger.Pulse(); err != nil {
			return fmt.Errorf("%w: trigger pulse: %w", ErrDevice, err)
		}
	}
	s.log.Debug("marker", "label", label)
	return nil
}

// SetStatus updates the operator status line on the tracker host.
func (s *Session) SetStatus(text string) error {
	if s.state == Uninitialized || s.state == Closed {
		return fmt.Errorf("%w: status in state %s", ErrProtocolViolation, s.state)
	}
	if err := s.dev.Status(text); err != nil {
		return fmt.Errorf("%w: status: %w", ErrDevice, err)
	}
	return nil
}

// BeginRecording opens a recording bracket.
func (s *Session) BeginRecording() error {
	if s.state != Calibrated {
		return fmt.Errorf("%w: begin recording in state %s", ErrProtocolViolation, s.state)
	}
	if err := s.dev.StartRecording(); err != nil {
		return fmt.Errorf("%w: start recording: %w", ErrDevice, err)
	}
	s.state = Recording
	return nil
}

// EndRecording closes the open recording bracket. The session leaves the
// Recording state even when the device reports an error.
func (s *Session) EndRecording() error {
	if s.state != Recording {
		return fmt.Errorf("%w: end recording in state %s", ErrProtocolViolation, s.state)
	}
	s.state = Calibrated
	if err := s.dev.StopRecording(); err != nil {
		return fmt.Errorf("%w: stop recording: %w", ErrDevice, err)
	}
	return nil
}

// Close finalizes the recording file, optionally transfers it to the host, and
// disconnects. Every step is attempted; failures are logged and only a failed
// disconnect is returned. Calling Close again is a no-op.
func (s *Session) Close(ctx context.Context, transfer bool) error {
	if s.state == Closed {
		return nil
	}
	if s.state == Recording {
		if err := s.dev.StopRecording(); err != nil {
			s.log.Error("stop recording during close failed", "err", err)
		}
	}
	s.state = Closed

	if err := s.dev.SetOffline(); err != nil {
		s.log.Error("set offline failed", "err", err)
	}
	if err := s.dev.CloseFile(); err != nil {
		s.log.Error("close recording file failed", "file", s.fileName, "err", err)
	}
	if transfer {
		if n, err := s.receive(ctx); err != nil {
			s.log.Error("recording transfer failed", "file", s.fileName, "err", err)
		} else {
			s.log.Info("recording transferred", "path", s.destPath, "bytes", n)
		}
	}
	if s.trigger != nil {
		if err := s.trigger.Close(); err != nil {
			s.log.Error("trigger close failed", "err", err)
		}
	}
	if err := s.dev.Disconnect(); err != nil {
		return fmt.Errorf("%w: disconnect: %w", ErrDevice, err)
	}
	s.log.Info("tracker disconnected")
	return nil
}

// receive streams the device file to a temporary path and renames it into place.
func (s *Session) receive(ctx context.Context) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(s.destPath), 0o755); err != nil {
		return 0, err
	}
	part := s.destPath + ".part"
	f, err := os.Create(part)
	if err != nil {
		return 0, err
	}
	n, err := s.dev.ReceiveFile(ctx, s.fileName, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(part)
		return n, err
	}
	return n, os.Rename(part, s.destPath)
}
