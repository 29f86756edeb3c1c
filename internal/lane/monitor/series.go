package monitor

import (
	"math"

	"github.com/banshee-data/lane.report/internal/lane/storage/sqlite"
)

// DefaultRadiusCap clips near-straight radii so curves stay readable.
const DefaultRadiusCap = 5000.0

// Series is the per-frame history extracted from frame records. Unknown
// values are NaN; radii are clipped to the cap and a straight lane reads
// as the cap.
type Series struct {
	Frames      []float64
	Smoothed    []float64
	LeftRadius  []float64
	RightRadius []float64
	Offset      []float64
	Frozen      []bool
}

// NewSeries extracts a Series from records in the order given.
func NewSeries(records []sqlite.FrameRecord, radiusCap float64) Series {
	if radiusCap <= 0 {
		radiusCap = DefaultRadiusCap
	}
	n := len(records)
	s := Series{
		Frames:      make([]float64, n),
		Smoothed:    make([]float64, n),
		LeftRadius:  make([]float64, n),
		RightRadius: make([]float64, n),
		Offset:      make([]float64, n),
		Frozen:      make([]bool, n),
	}
	for i, r := range records {
		s.Frames[i] = float64(r.FrameIndex)
		s.Smoothed[i] = capRadius(r.SmoothedRadiusM, radiusCap)
		s.LeftRadius[i] = capRadius(r.LeftRadiusM, radiusCap)
		s.RightRadius[i] = capRadius(r.RightRadiusM, radiusCap)
		s.Offset[i] = r.OffsetM
		s.Frozen[i] = r.Frozen
	}
	return s
}

// Len returns the number of frames.
func (s Series) Len() int {
	return len(s.Frames)
}

func capRadius(r, limit float64) float64 {
	if math.IsNaN(r) {
		return r
	}
	return math.Min(r, limit)
}
