package l2windows

// PointSample is the lane position found in one scan band.
type PointSample struct {
	X float64 // column (pixels)
	Y float64 // band-centre row (pixels)

	// Imputed is set when the band had no positive histogram peak and X
	// was extrapolated from earlier samples.
	Imputed bool
}

// PointSet holds one sample per band for one lane side, bottom band first,
// so Y is strictly decreasing when every band has non-zero height.
type PointSet []PointSample

// First returns the bottom-band sample (nearest the vehicle). The zero
// sample is returned for an empty set.
func (ps PointSet) First() PointSample {
	if len(ps) == 0 {
		return PointSample{}
	}
	return ps[0]
}

// Xs returns the sample columns in band order.
func (ps PointSet) Xs() []float64 {
	xs := make([]float64, len(ps))
	for i, p := range ps {
		xs[i] = p.X
	}
	return xs
}

// Ys returns the sample rows in band order.
func (ps PointSet) Ys() []float64 {
	ys := make([]float64, len(ps))
	for i, p := range ps {
		ys[i] = p.Y
	}
	return ys
}

// DetectedCount returns the number of samples backed by a histogram peak.
func (ps PointSet) DetectedCount() int {
	n := 0
	for _, p := range ps {
		if !p.Imputed {
			n++
		}
	}
	return n
}

// Detected returns a copy of the set without imputed samples.
func (ps PointSet) Detected() PointSet {
	out := make(PointSet, 0, len(ps))
	for _, p := range ps {
		if !p.Imputed {
			out = append(out, p)
		}
	}
	return out
}

// ScanResult carries both sides of one frame's window scan.
type ScanResult struct {
	Left  PointSet
	Right PointSet
}
