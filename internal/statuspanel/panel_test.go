// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package statuspanel

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/changedetection/internal/logger"
)

type fakeDisplay struct {
	frames []image.Image
	halts  int
}

func (f *fakeDisplay) Bounds() image.Rectangle { return image.Rect(0, 0, width, height) }
func (f *fakeDisplay) Halt() error             { f.halts++; return nil }
func (f *fakeDisplay) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	f.frames = append(f.frames, src)
	return nil
}

type fakeBus struct{ closes int }

func (b *fakeBus) Close() error { b.closes++; return nil }

func litPixels(img *image1bit.VerticalLSB, rows image.Rectangle) int {
	n := 0
	for y := rows.Min.Y; y < rows.Max.Y; y++ {
		for x := rows.Min.X; x < rows.Max.X; x++ {
			if img.BitAt(x, y) == image1bit.On {
				n++
			}
		}
	}
	return n
}

func TestRenderPlacesLines(t *testing.T) {
	blank := Render(nil)
	assert.Zero(t, litPixels(blank, blank.Bounds()))

	img := Render([]string{"FreeGaze", "", "Block 2/5"})
	assert.Positive(t, litPixels(img, image.Rect(0, 0, width, lineStep)), "first line")
	assert.Zero(t, litPixels(img, image.Rect(0, lineStep, width, 2*lineStep)), "empty second line")
	assert.Positive(t, litPixels(img, image.Rect(0, 2*lineStep, width, 3*lineStep)), "third line")
}

func TestRenderDropsOverflow(t *testing.T) {
	img := Render([]string{"a", "b", "c", "d", "e", "f"})
	assert.Zero(t, litPixels(img, image.Rect(0, maxLines*lineStep, width, height)))
}

func TestPanelShowAndClose(t *testing.T) {
	dev := &fakeDisplay{}
	bus := &fakeBus{}
	p := New(dev, bus, logger.Discard())

	require.NoError(t, p.Show("S01", "Fixated", "Block 1 Trial 3"))
	require.Len(t, dev.frames, 1)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, dev.halts)
	assert.Equal(t, 1, bus.closes)

	require.NoError(t, p.Show("late"))
	assert.Len(t, dev.frames, 1, "closed panel ignores updates")
}
