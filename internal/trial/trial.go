// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package trial holds the change detection trial model and the block generator.
package trial

import (
	"fmt"
	"strings"
)

// Type is the change detection trial type.
type Type string

const (
	Same      Type = "same"
	Different Type = "different"
)

// Point is a stimulus position in normalized display units: both axes span [-1, 1]
// with the origin at the fixation cross and y pointing up.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%.2f, %.2f)", p.X, p.Y)
}

// Color is a named RGB stimulus color.
type Color struct {
	Name string `json:"name"`
	R    uint8  `json:"r"`
	G    uint8  `json:"g"`
	B    uint8  `json:"b"`
}

// Trial is one change detection trial. It is consumed exactly once by the runner
// and never modified after generation.
type Trial struct {
	Type           Type
	SetSize        int
	Locations      []Point
	SampleColors   []Color
	TestColors     []Color
	LocationTested int
	CorrectResp    string
}

// TestedLocation returns the position checked at test.
func (t Trial) TestedLocation() Point {
	return t.Locations[t.LocationTested]
}

// Block is the ordered trial sequence of one (condition, block index) pair.
type Block []Trial

func formatPoints(points []Point) string {
	parts := make([]string, len(points))
	for i, p := range points {
		parts[i] = p.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatColors(colors []Color) string {
	parts := make([]string, len(colors))
	for i, c := range colors {
		parts[i] = c.Name
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
