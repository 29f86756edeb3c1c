package pipeline

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/banshee-data/lane.report/internal/lane/l3fit"
	"github.com/banshee-data/lane.report/internal/lane/l4state"
	"github.com/banshee-data/lane.report/internal/lane/storage/sqlite"
)

// Radius is a radius of curvature in metres. +Inf marks a straight lane
// and NaN an unknown radius; both encode as JSON null.
type Radius float64

// MarshalJSON implements json.Marshaler.
func (r Radius) MarshalJSON() ([]byte, error) {
	v := float64(r)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v, 'f', -1, 64), nil
}

// UnmarshalJSON implements json.Unmarshaler. null decodes as NaN.
func (r *Radius) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = Radius(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*r = Radius(v)
	return nil
}

// Label renders the radius for overlay text.
func (r Radius) Label() string {
	return l3fit.FormatRadius(float64(r))
}

// SideResult is one lane side's output for a frame.
type SideResult struct {
	Status          l4state.Status `json:"status"`
	Detected        bool           `json:"detected"`
	DetectedSamples int            `json:"detected_samples"`
	// Fit is the smoothed pixel-space fit; Curve samples it at every row
	// y = 0..H-1. Both are empty until the side has recorded a fit.
	Fit      *l3fit.Polynomial `json:"fit,omitempty"`
	Curve    []float64         `json:"curve,omitempty"`
	Radius   Radius            `json:"radius_m"`
	Straight bool              `json:"straight"`
	Smoothed Radius            `json:"smoothed_radius_m"`
}

// FrameResult is the per-frame output handed to the rendering
// collaborator.
type FrameResult struct {
	SessionID      string       `json:"session_id"`
	FrameIndex     int          `json:"frame_index"`
	Width          int          `json:"width"`
	Height         int          `json:"height"`
	Left           SideResult   `json:"left"`
	Right          SideResult   `json:"right"`
	SmoothedRadius Radius       `json:"smoothed_radius_m"`
	Offset         l3fit.Offset `json:"offset"`
	Scale          l3fit.Scale  `json:"scale"`
	// Frozen is set when the frame was rejected and this is the previous
	// result re-emitted.
	Frozen bool `json:"frozen"`
}

// RadiusLabel renders the smoothed radius as overlay text.
func (r FrameResult) RadiusLabel() string {
	return "Radius of curvature: " + r.SmoothedRadius.Label()
}

// OffsetLabel renders the lateral offset as overlay text.
func (r FrameResult) OffsetLabel() string {
	return "Vehicle is " + r.Offset.Label()
}

// Record converts the result to its persisted form.
func (r FrameResult) Record(runID, source string) sqlite.FrameRecord {
	rec := sqlite.FrameRecord{
		RunID:           runID,
		FrameIndex:      r.FrameIndex,
		Source:          source,
		LeftStatus:      r.Left.Status.String(),
		RightStatus:     r.Right.Status.String(),
		LeftDetected:    r.Left.Detected,
		RightDetected:   r.Right.Detected,
		LeftRadiusM:     float64(r.Left.Radius),
		RightRadiusM:    float64(r.Right.Radius),
		SmoothedRadiusM: float64(r.SmoothedRadius),
		OffsetM:         r.Offset.Meters,
		OffsetDirection: r.Offset.Direction,
		Frozen:          r.Frozen,
	}
	if r.Left.Fit != nil {
		rec.LeftFit = r.Left.Fit.Coefficients()
	}
	if r.Right.Fit != nil {
		rec.RightFit = r.Right.Fit.Coefficients()
	}
	return rec
}

// sampleCurve evaluates p at every row of a height-row frame.
func sampleCurve(p l3fit.Polynomial, height int) []float64 {
	xs := make([]float64, height)
	for y := range xs {
		xs[y] = p.Eval(float64(y))
	}
	return xs
}
