package l3fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/lane.report/internal/lane/l2windows"
)

// DefaultConditionLimit is the largest design-matrix condition number
// accepted before a fit is reported as degenerate.
const DefaultConditionLimit = 1e12

// Polynomial holds the coefficients of x = A·y² + B·y + C.
type Polynomial struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
	C float64 `json:"c"`
}

// Eval returns x at row y.
func (p Polynomial) Eval(y float64) float64 {
	return p.A*y*y + p.B*y + p.C
}

// Coefficients returns (A, B, C) as an array for elementwise arithmetic.
func (p Polynomial) Coefficients() [3]float64 {
	return [3]float64{p.A, p.B, p.C}
}

// PolynomialFrom builds a Polynomial from an (A, B, C) array.
func PolynomialFrom(c [3]float64) Polynomial {
	return Polynomial{A: c[0], B: c[1], C: c[2]}
}

// FitStatus tags the outcome of a fit.
type FitStatus int

const (
	FitOK FitStatus = iota
	FitDegenerate
)

func (s FitStatus) String() string {
	switch s {
	case FitOK:
		return "ok"
	case FitDegenerate:
		return "degenerate"
	default:
		return fmt.Sprintf("FitStatus(%d)", int(s))
	}
}

// FitResult is either {Status: FitOK, Fit: ...} or {Status: FitDegenerate,
// Reason: ...}. Fit is the zero Polynomial for a degenerate result.
type FitResult struct {
	Fit    Polynomial
	Status FitStatus
	Reason string
}

// OK reports whether the fit succeeded.
func (r FitResult) OK() bool {
	return r.Status == FitOK
}

func degenerate(format string, args ...interface{}) FitResult {
	reason := fmt.Sprintf(format, args...)
	diagf("degenerate fit: %s", reason)
	return FitResult{Status: FitDegenerate, Reason: reason}
}

// Fitter runs ordinary least-squares quadratic fits.
type Fitter struct {
	conditionLimit float64
}

// NewFitter creates a Fitter. A non-positive limit selects
// DefaultConditionLimit.
func NewFitter(conditionLimit float64) *Fitter {
	if conditionLimit <= 1 || math.IsNaN(conditionLimit) {
		conditionLimit = DefaultConditionLimit
	}
	return &Fitter{conditionLimit: conditionLimit}
}

// FitXY fits x = A·y² + B·y + C to the paired samples. Exactly three
// distinct rows give the interpolating quadratic. The result is
// degenerate when there are fewer than three distinct rows, when any
// value is non-finite, or when the system is ill-conditioned.
func (f *Fitter) FitXY(xs, ys []float64) FitResult {
	if len(xs) != len(ys) {
		return degenerate("mismatched sample counts %d and %d", len(xs), len(ys))
	}
	if distinct := countDistinct(ys); distinct < 3 {
		return degenerate("%d distinct rows, need 3", distinct)
	}
	for i := range xs {
		if !isFinite(xs[i]) || !isFinite(ys[i]) {
			return degenerate("non-finite sample %d (%g, %g)", i, xs[i], ys[i])
		}
	}

	n := len(ys)
	a := mat.NewDense(n, 3, nil)
	for i, y := range ys {
		a.Set(i, 0, y*y)
		a.Set(i, 1, y)
		a.Set(i, 2, 1)
	}
	if cond := mat.Cond(a, 2); !(cond <= f.conditionLimit) {
		return degenerate("condition number %g exceeds %g", cond, f.conditionLimit)
	}

	b := mat.NewVecDense(n, append([]float64(nil), xs...))
	var coef mat.VecDense
	if err := coef.SolveVec(a, b); err != nil {
		return degenerate("solve: %v", err)
	}

	p := Polynomial{A: coef.AtVec(0), B: coef.AtVec(1), C: coef.AtVec(2)}
	if !isFinite(p.A) || !isFinite(p.B) || !isFinite(p.C) {
		return degenerate("non-finite coefficients %+v", p)
	}
	tracef("fit %d samples: a=%.6g b=%.6g c=%.6g", n, p.A, p.B, p.C)
	return FitResult{Fit: p, Status: FitOK}
}

// Fit fits a point set in pixel space.
func (f *Fitter) Fit(ps l2windows.PointSet) FitResult {
	return f.FitXY(ps.Xs(), ps.Ys())
}

// FitMetric fits a point set after scaling both axes to metres.
func (f *Fitter) FitMetric(ps l2windows.PointSet, s Scale) FitResult {
	if !s.Valid() {
		return degenerate("invalid metric scale %+v", s)
	}
	xs, ys := ps.Xs(), ps.Ys()
	for i := range xs {
		xs[i] *= s.XMetersPerPixel
		ys[i] *= s.YMetersPerPixel
	}
	return f.FitXY(xs, ys)
}

// Scale converts pixels to metres along each axis.
type Scale struct {
	XMetersPerPixel float64 `json:"x_m_per_px"`
	YMetersPerPixel float64 `json:"y_m_per_px"`
}

// MetricScale derives the scale from the current frame: the lane width in
// metres spans the gap between the first left and right samples, and the
// view depth in metres spans the image height.
func MetricScale(laneWidthM, viewDepthM, firstLeftX, firstRightX float64, height int) Scale {
	s := Scale{
		XMetersPerPixel: math.NaN(),
		YMetersPerPixel: math.NaN(),
	}
	if gap := firstRightX - firstLeftX; gap > 0 {
		s.XMetersPerPixel = laneWidthM / gap
	}
	if height > 0 {
		s.YMetersPerPixel = viewDepthM / float64(height)
	}
	return s
}

// Valid reports whether both axis scales are finite and positive.
func (s Scale) Valid() bool {
	return isFinite(s.XMetersPerPixel) && s.XMetersPerPixel > 0 &&
		isFinite(s.YMetersPerPixel) && s.YMetersPerPixel > 0
}

func countDistinct(vs []float64) int {
	seen := make(map[float64]struct{}, len(vs))
	for _, v := range vs {
		seen[v] = struct{}{}
	}
	return len(seen)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
