// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package trial

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"

	"github.com/relabs-tech/changedetection/internal/config"
)

// DefaultColors is the stimulus palette of the classic change detection task.
var DefaultColors = []Color{
	{Name: "red", R: 255, G: 0, B: 0},
	{Name: "blue", R: 0, G: 0, B: 255},
	{Name: "green", R: 0, G: 255, B: 0},
	{Name: "yellow", R: 255, G: 255, B: 0},
	{Name: "magenta", R: 255, G: 0, B: 255},
	{Name: "cyan", R: 0, G: 255, B: 255},
	{Name: "white", R: 255, G: 255, B: 255},
	{Name: "black", R: 0, G: 0, B: 0},
	{Name: "orange", R: 255, G: 128, B: 0},
}

// DefaultLocations returns a 5x5 grid of positions without the central cell,
// which is reserved for the fixation cross.
func DefaultLocations() []Point {
	steps := []float64{-0.8, -0.4, 0, 0.4, 0.8}
	points := make([]Point, 0, len(steps)*len(steps)-1)
	for _, y := range steps {
		for _, x := range steps {
			if x == 0 && y == 0 {
				continue
			}
			points = append(points, Point{X: x, Y: y})
		}
	}
	return points
}

// SetSizePolicy lists the set sizes a trial may draw from, uniformly.
type SetSizePolicy []int

// Generator builds randomized blocks. It draws from the injected source only.
type Generator struct {
	rng          *rand.Rand
	colors       []Color
	locations    []Point
	sameKey      string
	differentKey string
}

// Option customizes a Generator.
type Option func(*Generator)

// WithColors replaces the color pool.
func WithColors(colors []Color) Option {
	return func(g *Generator) { g.colors = colors }
}

// WithLocations replaces the location pool.
func WithLocations(points []Point) Option {
	return func(g *Generator) { g.locations = points }
}

// NewGenerator returns a generator drawing from rng. sameKey and differentKey
// become the correct responses of same and different trials.
func NewGenerator(rng *rand.Rand, sameKey, differentKey string, opts ...Option) *Generator {
	g := &Generator{
		rng:          rng,
		colors:       DefaultColors,
		locations:    DefaultLocations(),
		sameKey:      sameKey,
		differentKey: differentKey,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validate checks that every set size in policy can be drawn from the color and
// location pools.
func (g *Generator) Validate(policy SetSizePolicy) error {
	if len(policy) == 0 {
		return fmt.Errorf("%w: empty set size policy", config.ErrConfiguration)
	}
	if len(g.colors) < 2 {
		return fmt.Errorf("%w: change trials need at least 2 colors", config.ErrConfiguration)
	}
	for _, n := range policy {
		if n <= 0 {
			return fmt.Errorf("%w: set size must be positive, got %d", config.ErrConfiguration, n)
		}
		if n > len(g.colors) {
			return fmt.Errorf("%w: set size %d exceeds %d colors", config.ErrConfiguration, n, len(g.colors))
		}
		if n > len(g.locations) {
			return fmt.Errorf("%w: set size %d exceeds %d locations", config.ErrConfiguration, n, len(g.locations))
		}
	}
	return nil
}

// GenerateBlock returns trialCount independently drawn trials.
func (g *Generator) GenerateBlock(policy SetSizePolicy, trialCount int) (Block, error) {
	if trialCount <= 0 {
		return nil, fmt.Errorf("%w: trial count must be positive, got %d", config.ErrConfiguration, trialCount)
	}
	if err := g.Validate(policy); err != nil {
		return nil, err
	}

	block := make(Block, trialCount)
	for i := range block {
		block[i] = g.makeTrial(policy[g.rng.Intn(len(policy))])
	}
	return block, nil
}

func (g *Generator) makeTrial(setSize int) Trial {
	locations := make([]Point, setSize)
	for i, idx := range g.rng.Perm(len(g.locations))[:setSize] {
		locations[i] = g.locations[idx]
	}

	colorOrder := g.rng.Perm(len(g.colors))
	sample := make([]Color, setSize)
	for i, idx := range colorOrder[:setSize] {
		sample[i] = g.colors[idx]
	}

	t := Trial{
		Type:           Same,
		SetSize:        setSize,
		Locations:      locations,
		SampleColors:   sample,
		TestColors:     append([]Color(nil), sample...),
		LocationTested: g.rng.Intn(setSize),
		CorrectResp:    g.sameKey,
	}

	if g.rng.Intn(2) == 1 {
		t.Type = Different
		t.CorrectResp = g.differentKey
		t.TestColors[t.LocationTested] = g.changedColor(colorOrder[setSize:], sample, t.LocationTested)
	}
	return t
}

// changedColor prefers a color absent from the sample. When the pool is exhausted it
// falls back to another sample color, which still differs at the tested location.
func (g *Generator) changedColor(unused []int, sample []Color, tested int) Color {
	if len(unused) > 0 {
		return g.colors[unused[g.rng.Intn(len(unused))]]
	}
	others := make([]Color, 0, len(sample)-1)
	for i, c := range sample {
		if i != tested {
			others = append(others, c)
		}
	}
	return others[g.rng.Intn(len(others))]
}

// NewRand returns a source seeded from crypto/rand. Runs are not reproducible.
func NewRand() (*rand.Rand, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return nil, fmt.Errorf("read random seed: %w", err)
	}
	return rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(b[:])))), nil
}
