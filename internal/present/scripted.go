// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package present

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Responder picks the response to a response window offering keys.
type Responder func(keys []string, timeout time.Duration) Response

// ScriptedSurface is a headless surface for dry runs and tests. Text screens
// are acknowledged with their first wait key and responses come from a Responder.
type ScriptedSurface struct {
	respond Responder

	mu     sync.Mutex
	texts  []string
	frames []FrameKind
	closes int
	closed bool
}

// NewScripted returns a surface answering every response window with respond.
func NewScripted(respond Responder) *ScriptedSurface {
	return &ScriptedSurface{respond: respond}
}

// FixedResponder always presses key after rt.
func FixedResponder(key string, rt time.Duration) Responder {
	return func([]string, time.Duration) Response {
		return Response{Key: key, RT: rt}
	}
}

// RandomResponder presses one of the first two offered keys, which are the same
// and different keys. A fraction missRate of bounded windows times out instead.
func RandomResponder(rng *rand.Rand, missRate float64) Responder {
	var mu sync.Mutex
	return func(keys []string, timeout time.Duration) Response {
		mu.Lock()
		defer mu.Unlock()
		if (timeout > 0 && rng.Float64() < missRate) || len(keys) == 0 {
			return Response{TimedOut: true, RT: timeout}
		}
		choices := keys
		if len(keys) > 2 {
			choices = keys[:2]
		}
		rt := 300*time.Millisecond + time.Duration(rng.Intn(700))*time.Millisecond
		if timeout > 0 && rt > timeout {
			return Response{TimedOut: true, RT: timeout}
		}
		return Response{Key: choices[rng.Intn(len(choices))], RT: rt}
	}
}

func (s *ScriptedSurface) DisplayText(ctx context.Context, text string, opts TextOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	s.texts = append(s.texts, text)
	if len(opts.WaitKeys) == 0 {
		return "", nil
	}
	return opts.WaitKeys[0], nil
}

func (s *ScriptedSurface) PresentStimulus(ctx context.Context, frame Frame) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return time.Time{}, ErrClosed
	}
	s.frames = append(s.frames, frame.Kind)
	return time.Now(), nil
}

func (s *ScriptedSurface) AwaitResponse(ctx context.Context, timeout time.Duration, keys []string) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return Response{}, ErrClosed
	}
	return s.respond(keys, timeout), nil
}

// Close marks the surface closed. Later draws fail with ErrClosed.
func (s *ScriptedSurface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.closed = true
	return nil
}

// Texts returns every text screen shown, in order.
func (s *ScriptedSurface) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

// Frames returns the kinds of every frame presented, in order.
func (s *ScriptedSurface) Frames() []FrameKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FrameKind(nil), s.frames...)
}

// Closes returns how many times Close was called.
func (s *ScriptedSurface) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
