// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package trial

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/changedetection/internal/config"
)

func newTestGenerator(seed int64, opts ...Option) *Generator {
	return NewGenerator(rand.New(rand.NewSource(seed)), "s", "d", opts...)
}

func TestGenerateBlockLengthAndInvariants(t *testing.T) {
	g := newTestGenerator(1)

	block, err := g.GenerateBlock(SetSizePolicy{6}, 80)
	require.NoError(t, err)
	require.Len(t, block, 80)

	var same, different int
	for i, tr := range block {
		require.Equal(t, 6, tr.SetSize, "trial %d", i)
		require.Len(t, tr.Locations, 6)
		require.Len(t, tr.SampleColors, 6)
		require.Len(t, tr.TestColors, 6)
		require.GreaterOrEqual(t, tr.LocationTested, 0)
		require.Less(t, tr.LocationTested, 6)

		locs := map[Point]bool{}
		for _, p := range tr.Locations {
			assert.False(t, locs[p], "trial %d repeats location %v", i, p)
			assert.NotEqual(t, Point{}, p, "trial %d uses the fixation cell", i)
			locs[p] = true
		}
		colors := map[string]bool{}
		for _, c := range tr.SampleColors {
			assert.False(t, colors[c.Name], "trial %d repeats sample color %s", i, c.Name)
			colors[c.Name] = true
		}

		for j := range tr.TestColors {
			if j == tr.LocationTested {
				continue
			}
			assert.Equal(t, tr.SampleColors[j], tr.TestColors[j], "untested location changed in trial %d", i)
		}

		tested := tr.LocationTested
		switch tr.Type {
		case Same:
			same++
			assert.Equal(t, "s", tr.CorrectResp)
			assert.Equal(t, tr.SampleColors[tested], tr.TestColors[tested])
		case Different:
			different++
			assert.Equal(t, "d", tr.CorrectResp)
			assert.NotEqual(t, tr.SampleColors[tested], tr.TestColors[tested])
			assert.False(t, colors[tr.TestColors[tested].Name], "new color should come from outside the sample")
		default:
			t.Fatalf("unexpected trial type %q", tr.Type)
		}
	}
	assert.Positive(t, same)
	assert.Positive(t, different)
}

func TestGenerateBlockDrawsFromPolicy(t *testing.T) {
	g := newTestGenerator(7)
	block, err := g.GenerateBlock(SetSizePolicy{2, 4}, 200)
	require.NoError(t, err)

	sizes := map[int]int{}
	for _, tr := range block {
		sizes[tr.SetSize]++
	}
	assert.Len(t, sizes, 2)
	assert.Positive(t, sizes[2])
	assert.Positive(t, sizes[4])
}

func TestGenerateBlockFullPaletteStillChanges(t *testing.T) {
	palette := DefaultColors[:3]
	g := newTestGenerator(3, WithColors(palette))

	block, err := g.GenerateBlock(SetSizePolicy{3}, 50)
	require.NoError(t, err)
	for _, tr := range block {
		if tr.Type == Different {
			assert.NotEqual(t, tr.SampleColors[tr.LocationTested], tr.TestColors[tr.LocationTested])
		}
	}
}

func TestGenerateBlockIsDeterministicForSeed(t *testing.T) {
	a, err := newTestGenerator(42).GenerateBlock(SetSizePolicy{6}, 20)
	require.NoError(t, err)
	b, err := newTestGenerator(42).GenerateBlock(SetSizePolicy{6}, 20)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGenerateBlockConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		gen    *Generator
		policy SetSizePolicy
		count  int
	}{
		{"zero trials", newTestGenerator(1), SetSizePolicy{6}, 0},
		{"negative trials", newTestGenerator(1), SetSizePolicy{6}, -1},
		{"empty policy", newTestGenerator(1), nil, 10},
		{"zero set size", newTestGenerator(1), SetSizePolicy{0}, 10},
		{"too few colors", newTestGenerator(1), SetSizePolicy{10}, 10},
		{"too few locations", newTestGenerator(1, WithLocations(DefaultLocations()[:3])), SetSizePolicy{4}, 10},
		{"single color", newTestGenerator(1, WithColors(DefaultColors[:1])), SetSizePolicy{1}, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.gen.GenerateBlock(tt.policy, tt.count)
			assert.ErrorIs(t, err, config.ErrConfiguration)
		})
	}
}

func TestValidateChecksPools(t *testing.T) {
	g := newTestGenerator(1)
	assert.NoError(t, g.Validate(SetSizePolicy{1, len(DefaultColors)}))
	assert.ErrorIs(t, g.Validate(SetSizePolicy{len(DefaultColors) + 1}), config.ErrConfiguration)
	assert.ErrorIs(t, g.Validate(SetSizePolicy{2, -3}), config.ErrConfiguration)

	small := newTestGenerator(1, WithLocations(DefaultLocations()[:2]))
	assert.ErrorIs(t, small.Validate(SetSizePolicy{3}), config.ErrConfiguration)
}

func TestNewRand(t *testing.T) {
	rng, err := NewRand()
	require.NoError(t, err)
	assert.NotNil(t, rng)
}
