// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tracker

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// GPIOTrigger raises a digital output for a fixed width on every pulse. The line
// is wired to the tracker's TTL input so markers also land on the analog channel.
type GPIOTrigger struct {
	pin   gpio.PinOut
	width time.Duration
	sleep func(time.Duration)
}

// OpenGPIOTrigger initializes the host drivers and claims the named pin.
func OpenGPIOTrigger(pinName string, width time.Duration) (*GPIOTrigger, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("trigger: periph host init: %w", err)
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("trigger: pin %q not found", pinName)
	}
	return NewGPIOTrigger(pin, width)
}

// NewGPIOTrigger drives pin low and returns a trigger on it.
func NewGPIOTrigger(pin gpio.PinOut, width time.Duration) (*GPIOTrigger, error) {
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("trigger: drive %s low: %w", pin, err)
	}
	return &GPIOTrigger{pin: pin, width: width, sleep: time.Sleep}, nil
}

// Pulse drives the line high for the configured width.
func (t *GPIOTrigger) Pulse() error {
	if err := t.pin.Out(gpio.High); err != nil {
		return err
	}
	t.sleep(t.width)
	return t.pin.Out(gpio.Low)
}

// Close leaves the line low.
func (t *GPIOTrigger) Close() error {
	return t.pin.Out(gpio.Low)
}
