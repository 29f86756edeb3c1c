package pipeline

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/banshee-data/lane.report/internal/config"
	"github.com/banshee-data/lane.report/internal/lane/l1mask"
	"github.com/banshee-data/lane.report/internal/lane/l2windows"
	"github.com/banshee-data/lane.report/internal/lane/l3fit"
	"github.com/banshee-data/lane.report/internal/lane/l4state"
	"github.com/banshee-data/lane.report/internal/lane/storage/sqlite"
)

// PersistenceSink stores per-frame records. It is an adapter; the SQLite
// implementation is sqlite.RunStore.
type PersistenceSink interface {
	InsertFrame(rec *sqlite.FrameRecord) error
}

// DefaultRecordLimit is the number of recent frame records a session keeps
// in memory for charts: two minutes at 30 fps.
const DefaultRecordLimit = 3600

// SessionConfig holds the construction-time inputs of a Session.
type SessionConfig struct {
	Tuning *config.TuningConfig // nil selects the built-in defaults
	ID     string               // empty generates a UUID

	// Sink and RunID are optional. When both are set every emitted result,
	// frozen or not, is written to the sink under RunID.
	Sink  PersistenceSink
	RunID string

	// RecordLimit caps the in-memory record history; older records are
	// evicted (they remain in the sink). Zero selects DefaultRecordLimit.
	RecordLimit int
}

// Session processes one continuous frame sequence. It owns both
// LaneStates for its lifetime and must be fed frames in capture order
// from a single goroutine.
type Session struct {
	id    string
	runID string
	sink  PersistenceSink

	scanner        *l2windows.Scanner
	fitter         *l3fit.Fitter
	left, right    *l4state.LaneState
	reseedPolicy   string
	excludeImputed bool
	laneWidthM     float64
	viewDepthM     float64

	width, height int // expected frame size, 0 until known

	coarseLeft, coarseRight float64
	lastScale               l3fit.Scale
	last                    *FrameResult
	frames                  int
	frozen                  int
	records                 *l4state.Ring[sqlite.FrameRecord]
}

// NewSession validates the tuning and creates a session with both sides
// UNINITIALIZED.
func NewSession(cfg SessionConfig) (*Session, error) {
	tc := cfg.Tuning
	if tc == nil {
		tc = config.DefaultTuningConfig()
	}
	if err := tc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tuning: %w", err)
	}
	id := cfg.ID
	if id == "" {
		id = uuid.New().String()
	}

	recordLimit := cfg.RecordLimit
	if recordLimit <= 0 {
		recordLimit = DefaultRecordLimit
	}

	stateCfg := l4state.ConfigFromTuning(tc)
	s := &Session{
		id:             id,
		runID:          cfg.RunID,
		sink:           cfg.Sink,
		scanner:        l2windows.NewScanner(l2windows.ConfigFromTuning(tc)),
		fitter:         l3fit.NewFitter(tc.GetConditionLimit()),
		left:           l4state.New(l4state.SideLeft, stateCfg),
		right:          l4state.New(l4state.SideRight, stateCfg),
		reseedPolicy:   tc.GetReseedPolicy(),
		excludeImputed: tc.GetExcludeImputed(),
		laneWidthM:     tc.GetLaneWidthMeters(),
		viewDepthM:     tc.GetViewDepthMeters(),
		width:          tc.GetFrameWidth(),
		height:         tc.GetFrameHeight(),
		records:        l4state.NewRing[sqlite.FrameRecord](recordLimit),
	}
	diagf("session %s created: scanner=%+v states=%+v reseed=%s",
		id, s.scanner.Config(), stateCfg, s.reseedPolicy)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// RunID returns the persistence run identifier, if any.
func (s *Session) RunID() string {
	return s.runID
}

// FrameCount returns the number of frames submitted, including rejected
// ones.
func (s *Session) FrameCount() int {
	return s.frames
}

// FrozenCount returns the number of rejected frames.
func (s *Session) FrozenCount() int {
	return s.frozen
}

// Last returns the most recent emitted result.
func (s *Session) Last() (FrameResult, bool) {
	if s.last == nil {
		return FrameResult{}, false
	}
	return *s.last, true
}

// Records returns the most recent emitted results, up to the record
// limit, oldest first.
func (s *Session) Records() []sqlite.FrameRecord {
	return s.records.All()
}

// Summary returns the per-side lane state views.
func (s *Session) Summary() (left, right l4state.Summary) {
	return s.left.Summary(), s.right.Summary()
}

// ProcessFrame runs one frame through scan, fit, state update and
// curvature estimation.
//
// A structurally invalid mask (or one whose size differs from the
// session's frame size) aborts the frame: the previous result is
// re-emitted with Frozen set, together with an error wrapping
// l1mask.ErrInvalidMask. Before any frame has succeeded only the error is
// returned. LaneState is not touched by a rejected frame.
func (s *Session) ProcessFrame(m *l1mask.BinaryMask) (FrameResult, error) {
	return s.ProcessFrameFrom(m, "")
}

// ProcessFrameFrom is ProcessFrame with the frame's source name recorded
// alongside the persisted result.
func (s *Session) ProcessFrameFrom(m *l1mask.BinaryMask, source string) (FrameResult, error) {
	idx := s.frames
	s.frames++

	if err := s.validate(m); err != nil {
		s.frozen++
		opsf("session %s frame %d rejected: %v", s.id, idx, err)
		if s.last == nil {
			return FrameResult{}, err
		}
		res := *s.last
		res.FrameIndex = idx
		res.Frozen = true
		s.emit(res, source)
		return res, err
	}
	if s.width == 0 || s.height == 0 {
		s.width, s.height = m.Width, m.Height
	}

	if s.left.Status == l4state.StatusUninitialized && s.right.Status == l4state.StatusUninitialized {
		l, r := s.scanner.CoarseSeeds(m)
		s.coarseLeft, s.coarseRight = float64(l), float64(r)
	}
	seedLeft := s.seedFor(s.left, s.coarseLeft)
	seedRight := s.seedFor(s.right, s.coarseRight)

	scan := s.scanner.Scan(m, seedLeft, seedRight)
	scale := s.scaleFor(scan)
	// Curvature is evaluated at the sample nearest the vehicle.
	yEval := scan.Left.First().Y * scale.YMetersPerPixel

	res := FrameResult{
		SessionID:  s.id,
		FrameIndex: idx,
		Width:      m.Width,
		Height:     m.Height,
		Scale:      scale,
	}
	res.Left = s.updateSide(s.left, scan.Left, scale, seedLeft, yEval)
	res.Right = s.updateSide(s.right, scan.Right, scale, seedRight, yEval)
	res.SmoothedRadius = combineSmoothed(res.Left.Smoothed, res.Right.Smoothed)
	res.Offset = l3fit.LateralOffset(scan.Left.First().X, scan.Right.First().X, m.Width, scale.XMetersPerPixel)

	tracef("session %s frame %d left=%s right=%s radius=%s offset=%s",
		s.id, idx, res.Left.Status, res.Right.Status, res.SmoothedRadius.Label(), res.Offset.Label())

	s.last = &res
	s.emit(res, source)
	return res, nil
}

func (s *Session) validate(m *l1mask.BinaryMask) error {
	if s.width > 0 && s.height > 0 {
		return m.ValidateSize(s.width, s.height)
	}
	return m.Validate()
}

// seedFor picks the scanner seed for one side: the coarse seed until the
// side is initialized, then InitialX, or the bottom of the best fit under
// the tracked reseed policy.
func (s *Session) seedFor(st *l4state.LaneState, coarse float64) float64 {
	if st.Status == l4state.StatusUninitialized {
		return coarse
	}
	if s.reseedPolicy == config.ReseedTracked && st.HasBestFit() {
		x := st.BestFit.Pixel.Eval(float64(s.height - 1))
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			return math.Max(0, math.Min(float64(s.width-1), x))
		}
	}
	return st.InitialX
}

// scaleFor derives the metric scale from the frame's first samples. When
// the samples give no usable lane width it falls back to the last good
// scale, and before any good scale to a lane spanning half the frame.
func (s *Session) scaleFor(scan l2windows.ScanResult) l3fit.Scale {
	sc := l3fit.MetricScale(s.laneWidthM, s.viewDepthM, scan.Left.First().X, scan.Right.First().X, s.height)
	if sc.Valid() {
		s.lastScale = sc
		return sc
	}
	if s.lastScale.Valid() {
		diagf("session %s: lane width %.1f..%.1f unusable, reusing previous scale",
			s.id, scan.Left.First().X, scan.Right.First().X)
		return s.lastScale
	}
	diagf("session %s: lane width %.1f..%.1f unusable, using nominal scale",
		s.id, scan.Left.First().X, scan.Right.First().X)
	return l3fit.MetricScale(s.laneWidthM, s.viewDepthM, 0, float64(s.width)/2, s.height)
}

func (s *Session) updateSide(st *l4state.LaneState, ps l2windows.PointSet, scale l3fit.Scale, seed, yEval float64) SideResult {
	pts := ps
	if s.excludeImputed {
		pts = ps.Detected()
	}
	pixel := s.fitter.Fit(pts)
	metric := s.fitter.FitMetric(pts, scale)
	st.Update(pixel, metric, seed)

	out := SideResult{
		Status:          st.Status,
		Detected:        st.Detected,
		DetectedSamples: ps.DetectedCount(),
		Radius:          Radius(math.NaN()),
		Smoothed:        Radius(math.NaN()),
	}
	if p, ok := st.CurvatureFit(); ok {
		c := l3fit.RadiusOfCurvature(p, yEval)
		st.RecordCurvature(c.RadiusMeters)
		out.Radius = Radius(c.RadiusMeters)
		out.Straight = c.Straight
	}
	if r, ok := st.SmoothedRadius(); ok {
		out.Smoothed = Radius(r)
	}
	if st.HasBestFit() {
		best := st.BestFit.Pixel
		out.Fit = &best
		out.Curve = sampleCurve(best, s.height)
	}
	return out
}

// combineSmoothed averages the sides' smoothed radii, skipping unknown
// ones. The result is NaN when both are unknown.
func combineSmoothed(a, b Radius) Radius {
	av, bv := float64(a), float64(b)
	switch {
	case math.IsNaN(av):
		return b
	case math.IsNaN(bv):
		return a
	default:
		return Radius((av + bv) / 2)
	}
}

func (s *Session) emit(res FrameResult, source string) {
	rec := res.Record(s.runID, source)
	s.records.Add(rec)
	if s.sink == nil || s.runID == "" {
		return
	}
	if err := s.sink.InsertFrame(&rec); err != nil {
		opsf("session %s frame %d: persist failed: %v", s.id, res.FrameIndex, err)
	}
}
