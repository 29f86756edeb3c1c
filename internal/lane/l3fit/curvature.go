package l3fit

import (
	"fmt"
	"math"
)

// Direction labels for the lateral offset.
const (
	DirectionLeft  = "left"
	DirectionRight = "right"
)

// Curvature is the radius of the osculating circle at the evaluation row.
// Straight is set when the leading coefficient is exactly zero; the radius
// is then +Inf.
type Curvature struct {
	RadiusMeters float64
	Straight     bool
}

// RadiusOfCurvature evaluates (1 + (2·A·y + B)²)^1.5 / |2·A| at yEval.
// p and yEval are expected in metric units.
func RadiusOfCurvature(p Polynomial, yEval float64) Curvature {
	if p.A == 0 {
		return Curvature{RadiusMeters: math.Inf(1), Straight: true}
	}
	slope := 2*p.A*yEval + p.B
	return Curvature{RadiusMeters: math.Pow(1+slope*slope, 1.5) / math.Abs(2*p.A)}
}

// FormatRadius renders a radius for display; an infinite radius reads
// "straight".
func FormatRadius(r float64) string {
	if math.IsInf(r, 0) {
		return "straight"
	}
	if math.IsNaN(r) {
		return "unknown"
	}
	return fmt.Sprintf("%.0f m", r)
}

// Label renders the curvature for display.
func (c Curvature) Label() string {
	if c.Straight {
		return "straight"
	}
	return FormatRadius(c.RadiusMeters)
}

// Offset is the vehicle's signed distance from the lane midpoint.
// Negative is left of centre.
type Offset struct {
	Meters    float64 `json:"meters"`
	Direction string  `json:"direction"`
}

// LateralOffset computes −(laneCentre − imageCentre) × xScale, where the
// lane centre is the midpoint of the first left and right samples and the
// image centre is width/2. A zero offset is labelled left.
func LateralOffset(firstLeftX, firstRightX float64, width int, xScale float64) Offset {
	laneCenter := (firstLeftX + firstRightX) / 2
	imageCenter := float64(width) / 2
	m := -(laneCenter - imageCenter) * xScale
	if m == 0 {
		m = 0 // normalise -0
	}
	dir := DirectionRight
	if m <= 0 {
		dir = DirectionLeft
	}
	return Offset{Meters: m, Direction: dir}
}

// Label renders the offset as overlay text.
func (o Offset) Label() string {
	return fmt.Sprintf("%.2f m %s of center", math.Abs(o.Meters), o.Direction)
}
