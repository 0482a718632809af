// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// Simulated is an in-process tracker for dry runs and tests. It keeps a call log
// and writes every marker into an in-memory recording file.
type Simulated struct {
	// AbortCalibrations makes the next N calibrations report an operator abort.
	AbortCalibrations int
	// CalibrationTime is how long a successful calibration blocks.
	CalibrationTime time.Duration

	mu        sync.Mutex
	now       func() time.Time
	calls     []string
	faults    map[string]error
	connected bool
	fileOpen  bool
	recording bool
	fileName  string
	file      bytes.Buffer
}

// NewSimulated returns a disconnected simulated tracker.
func NewSimulated() *Simulated {
	return &Simulated{now: time.Now, faults: map[string]error{}}
}

// FailOn makes every later call of the named method return err.
func (s *Simulated) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[method] = err
}

// Calls returns the method names invoked so far, in order.
func (s *Simulated) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Count returns how many times method was called.
func (s *Simulated) Count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == method {
			n++
		}
	}
	return n
}

// Recording reports whether the simulated tracker is recording.
func (s *Simulated) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// call logs method and returns its injected fault, if any. Callers hold s.mu.
func (s *Simulated) call(method string) error {
	s.calls = append(s.calls, method)
	if err := s.faults[method]; err != nil {
		return err
	}
	if method != "Connect" && !s.connected {
		return errors.New("simulated tracker not connected")
	}
	return nil
}

func (s *Simulated) write(format string, args ...any) {
	fmt.Fprintf(&s.file, "%d\t", s.now().UnixMilli())
	fmt.Fprintf(&s.file, format, args...)
	s.file.WriteByte('\n')
}

func (s *Simulated) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("Connect"); err != nil {
		return err
	}
	s.connected = true
	return nil
}

func (s *Simulated) Setup(eyes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call("Setup")
}

func (s *Simulated) OpenFile(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("OpenFile"); err != nil {
		return err
	}
	s.fileName = name
	s.fileOpen = true
	s.file.Reset()
	s.write("** RECORDED BY simulated tracker file=%s", name)
	return nil
}

func (s *Simulated) Calibrate(ctx context.Context) error {
	s.mu.Lock()
	if err := s.call("Calibrate"); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.AbortCalibrations > 0 {
		s.AbortCalibrations--
		s.mu.Unlock()
		return ErrCalibrationAborted
	}
	wait := s.CalibrationTime
	s.mu.Unlock()

	if wait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}

func (s *Simulated) Message(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("Message"); err != nil {
		return err
	}
	if s.fileOpen {
		s.write("MSG %s", text)
	}
	return nil
}

func (s *Simulated) Status(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call("Status")
}

func (s *Simulated) StartRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("StartRecording"); err != nil {
		return err
	}
	if s.recording {
		return errors.New("simulated tracker already recording")
	}
	s.recording = true
	s.write("START")
	return nil
}

func (s *Simulated) StopRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("StopRecording"); err != nil {
		return err
	}
	s.recording = false
	s.write("END")
	return nil
}

func (s *Simulated) SetOffline() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call("SetOffline")
}

func (s *Simulated) CloseFile() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("CloseFile"); err != nil {
		return err
	}
	s.fileOpen = false
	return nil
}

func (s *Simulated) ReceiveFile(ctx context.Context, name string, w io.Writer) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("ReceiveFile"); err != nil {
		return 0, err
	}
	if name != s.fileName {
		return 0, fmt.Errorf("no such file %q", name)
	}
	return io.Copy(w, bytes.NewReader(s.file.Bytes()))
}

func (s *Simulated) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("Disconnect"); err != nil {
		return err
	}
	s.connected = false
	return nil
}
