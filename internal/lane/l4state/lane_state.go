package l4state

import (
	"fmt"

	"github.com/banshee-data/lane.report/internal/config"
	"github.com/banshee-data/lane.report/internal/lane/l3fit"
)

// Side names.
const (
	SideLeft  = "left"
	SideRight = "right"
)

// Status is the tracking state of one lane side.
type Status int

const (
	StatusUninitialized Status = iota
	StatusTracking
	StatusStale
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusTracking:
		return "tracking"
	case StatusStale:
		return "stale"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MarshalText renders the status by name in JSON output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "uninitialized":
		*s = StatusUninitialized
	case "tracking":
		*s = StatusTracking
	case "stale":
		*s = StatusStale
	default:
		return fmt.Errorf("unknown lane status %q", b)
	}
	return nil
}

// LaneFit pairs the pixel-space and metric-space fits of one frame.
type LaneFit struct {
	Pixel  l3fit.Polynomial `json:"pixel"`
	Metric l3fit.Polynomial `json:"metric"`
}

// Config sizes the two per-side histories.
type Config struct {
	FitHistory       int // N
	CurvatureHistory int // M
}

// DefaultConfig returns N=5 fits and M=10 curvatures.
func DefaultConfig() Config {
	return Config{FitHistory: 5, CurvatureHistory: 10}
}

// ConfigFromTuning reads the history capacities from a tuning config.
func ConfigFromTuning(tc *config.TuningConfig) Config {
	return Config{
		FitHistory:       tc.GetFitHistory(),
		CurvatureHistory: tc.GetCurvatureHistory(),
	}
}

// LaneState is the persistent tracking state of one lane side. It is
// created once per session and mutated once per frame; it is not safe for
// concurrent use.
type LaneState struct {
	Side       string
	Status     Status
	Detected   bool
	InitialX   float64
	CurrentFit LaneFit
	BestFit    LaneFit
	// Diffs is the elementwise relative change (previous − current)/previous
	// of the pixel coefficients between the last two successful fits.
	Diffs      [3]float64
	StaleCount int

	recentFit       *Ring[LaneFit]
	recentCurvature *Ring[float64]
}

// New creates an UNINITIALIZED lane state.
func New(side string, cfg Config) *LaneState {
	return &LaneState{
		Side:            side,
		recentFit:       NewRing[LaneFit](cfg.FitHistory),
		recentCurvature: NewRing[float64](cfg.CurvatureHistory),
	}
}

// HasBestFit reports whether at least one fit has been recorded. Once
// true it stays true for the life of the state.
func (s *LaneState) HasBestFit() bool {
	return s.recentFit.Len() > 0
}

// Update applies one frame's fit results. A frame succeeds only when both
// the pixel and the metric fit are OK. seedX is the scanner seed used for
// this side; it becomes InitialX on the first success. Update reports
// whether the frame succeeded.
func (s *LaneState) Update(pixel, metric l3fit.FitResult, seedX float64) bool {
	if !pixel.OK() || !metric.OK() {
		s.fail(pixel, metric)
		return false
	}

	fit := LaneFit{Pixel: pixel.Fit, Metric: metric.Fit}
	prev := s.Status
	if prev == StatusUninitialized {
		s.InitialX = seedX
		s.Diffs = [3]float64{}
	} else if last, ok := s.recentFit.Previous(1); ok {
		s.Diffs = relativeDiffs(last.Pixel, fit.Pixel)
		tracef("%s: diffs a=%.3g b=%.3g c=%.3g", s.Side, s.Diffs[0], s.Diffs[1], s.Diffs[2])
	}

	s.CurrentFit = fit
	s.recentFit.Add(fit)
	s.BestFit = meanFit(s.recentFit.All())
	s.Detected = true
	s.StaleCount = 0
	s.Status = StatusTracking
	if prev != StatusTracking {
		diagf("%s: %s -> %s (initial_x=%.1f)", s.Side, prev, s.Status, s.InitialX)
	}
	return true
}

func (s *LaneState) fail(pixel, metric l3fit.FitResult) {
	s.Detected = false
	reason := pixel.Reason
	if pixel.OK() {
		reason = metric.Reason
	}
	if s.Status == StatusUninitialized {
		diagf("%s: still uninitialized: %s", s.Side, reason)
		return
	}
	s.StaleCount++
	if s.Status != StatusStale {
		diagf("%s: %s -> %s: %s", s.Side, s.Status, StatusStale, reason)
	}
	s.Status = StatusStale
}

// CurvatureFit returns the metric fit the frame's curvature should be
// derived from: the current fit while TRACKING, the best fit while STALE.
// It returns false while UNINITIALIZED.
func (s *LaneState) CurvatureFit() (l3fit.Polynomial, bool) {
	switch s.Status {
	case StatusTracking:
		return s.CurrentFit.Metric, true
	case StatusStale:
		return s.BestFit.Metric, true
	default:
		return l3fit.Polynomial{}, false
	}
}

// RecordCurvature appends a radius to the curvature history, evicting the
// oldest beyond capacity. It is a no-op while UNINITIALIZED.
func (s *LaneState) RecordCurvature(radius float64) {
	if s.Status == StatusUninitialized {
		return
	}
	s.recentCurvature.Add(radius)
}

// SmoothedRadius returns the weighted average of the curvature history,
// or false when it is empty.
func (s *LaneState) SmoothedRadius() (float64, bool) {
	return WeightedAverage(s.recentCurvature.All())
}

// FitHistory returns the recorded fits, oldest first.
func (s *LaneState) FitHistory() []LaneFit {
	return s.recentFit.All()
}

// CurvatureHistory returns the recorded radii, oldest first.
func (s *LaneState) CurvatureHistory() []float64 {
	return s.recentCurvature.All()
}

// WeightedAverage weights the i-th of L values (1-based, oldest first) by
// i/(L/2), so the most recent value counts most. A single value is
// returned unchanged.
func WeightedAverage(vs []float64) (float64, bool) {
	if len(vs) == 0 {
		return 0, false
	}
	if len(vs) == 1 {
		return vs[0], true
	}
	half := float64(len(vs)) / 2
	var sum, wsum float64
	for i, v := range vs {
		w := float64(i+1) / half
		sum += w * v
		wsum += w
	}
	return sum / wsum, true
}

func meanFit(fits []LaneFit) LaneFit {
	var px, mx [3]float64
	for _, f := range fits {
		pc, mc := f.Pixel.Coefficients(), f.Metric.Coefficients()
		for k := 0; k < 3; k++ {
			px[k] += pc[k]
			mx[k] += mc[k]
		}
	}
	n := float64(len(fits))
	for k := 0; k < 3; k++ {
		px[k] /= n
		mx[k] /= n
	}
	return LaneFit{Pixel: l3fit.PolynomialFrom(px), Metric: l3fit.PolynomialFrom(mx)}
}

func relativeDiffs(prev, cur l3fit.Polynomial) [3]float64 {
	p, c := prev.Coefficients(), cur.Coefficients()
	var d [3]float64
	for k := 0; k < 3; k++ {
		if p[k] != 0 {
			d[k] = (p[k] - c[k]) / p[k]
		}
	}
	return d
}

// Summary is a read-only view of a lane state for status reporting.
type Summary struct {
	Side           string   `json:"side"`
	Status         Status   `json:"status"`
	Detected       bool     `json:"detected"`
	InitialX       float64  `json:"initial_x"`
	StaleCount     int      `json:"stale_count"`
	BestFit        *LaneFit `json:"best_fit,omitempty"`
	FitCount       int      `json:"fit_count"`
	CurvatureCount int      `json:"curvature_count"`
}

// Summary returns the current view of the state.
func (s *LaneState) Summary() Summary {
	sum := Summary{
		Side:           s.Side,
		Status:         s.Status,
		Detected:       s.Detected,
		InitialX:       s.InitialX,
		StaleCount:     s.StaleCount,
		FitCount:       s.recentFit.Len(),
		CurvatureCount: s.recentCurvature.Len(),
	}
	if s.HasBestFit() {
		best := s.BestFit
		sum.BestFit = &best
	}
	return sum
}
