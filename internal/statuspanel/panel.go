// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package statuspanel shows run progress on a small SSD1306 OLED next to the
// operator, so the state is visible without looking at the participant screen.
package statuspanel

import (
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/changedetection/internal/logger"
)

const (
	width     = 128
	height    = 64
	lineStep  = 13 // basicfont 7x13
	maxLines  = height / lineStep
	maxColumn = width / 7
)

// Drawer is the part of ssd1306.Dev the panel uses.
type Drawer interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
	Halt() error
}

// Panel renders up to four short lines of text.
type Panel struct {
	mu     sync.Mutex
	dev    Drawer
	bus    io.Closer
	log    *log.Logger
	closed bool
}

// Open initializes periph, opens the named I2C bus ("" for the default) and
// the display at its default address.
func Open(busName string, l *log.Logger) (*Panel, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("status panel: periph host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("status panel: open I2C bus %q: %w", busName, err)
	}
	opts := ssd1306.DefaultOpts
	dev, err := ssd1306.NewI2C(bus, &opts)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("status panel: init display: %w", err)
	}
	p := New(dev, bus, l)
	p.log.Info("status panel initialized", "bus", busName)
	return p, nil
}

// New wraps an already initialized display. closer, when set, is closed with the panel.
func New(dev Drawer, closer io.Closer, l *log.Logger) *Panel {
	if l == nil {
		l = logger.New("panel")
	}
	return &Panel{dev: dev, bus: closer, log: l}
}

// Render draws lines into a panel-sized 1-bit image. Extra lines are dropped and
// long lines are cut at the panel width.
func Render(lines []string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, width, height))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		if i >= maxLines {
			break
		}
		if len(line) > maxColumn {
			line = line[:maxColumn]
		}
		drawer.Dot = fixed.P(0, lineStep*(i+1)-2)
		drawer.DrawString(line)
	}
	return img
}

// Show replaces the panel contents.
func (p *Panel) Show(lines ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	img := Render(lines)
	return p.dev.Draw(p.dev.Bounds(), img, image.Point{})
}

// Close blanks and halts the display and releases the bus. It is safe to call twice.
func (p *Panel) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.dev.Halt(); err != nil {
		p.log.Warn("status panel halt failed", "err", err)
	}
	if p.bus != nil {
		return p.bus.Close()
	}
	return nil
}
