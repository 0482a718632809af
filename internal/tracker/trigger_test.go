// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func TestGPIOTriggerPulse(t *testing.T) {
	pin := &gpiotest.Pin{N: "GPIO17", L: gpio.High}
	trig, err := NewGPIOTrigger(pin, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, gpio.Low, pin.Read(), "line starts low")

	var during gpio.Level
	var width time.Duration
	trig.sleep = func(d time.Duration) {
		during = pin.Read()
		width = d
	}

	require.NoError(t, trig.Pulse())
	assert.Equal(t, gpio.High, during)
	assert.Equal(t, 5*time.Millisecond, width)
	assert.Equal(t, gpio.Low, pin.Read())

	require.NoError(t, trig.Close())
	assert.Equal(t, gpio.Low, pin.Read())
}
