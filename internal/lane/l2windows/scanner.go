package l2windows

import (
	"math"

	"github.com/banshee-data/lane.report/internal/config"
	"github.com/banshee-data/lane.report/internal/lane/l1mask"
)

// Config holds the window scanner parameters.
type Config struct {
	WindowCount  int // number of horizontal bands
	Margin       int // half-width of the search range around the seed (pixels)
	HistoryDepth int // samples considered when imputing an empty band

	// CoarseDivisor selects the bottom 1/CoarseDivisor rows for the
	// coarse seed search.
	CoarseDivisor int
}

// DefaultConfig returns the built-in scanner parameters.
func DefaultConfig() Config {
	return Config{
		WindowCount:   10,
		Margin:        40,
		HistoryDepth:  5,
		CoarseDivisor: 6,
	}
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		WindowCount:   cfg.GetWindowCount(),
		Margin:        cfg.GetMargin(),
		HistoryDepth:  cfg.GetHistoryDepth(),
		CoarseDivisor: cfg.GetCoarseDivisor(),
	}
}

// Band is a half-open row range [YLow, YHigh).
type Band struct {
	YLow  int
	YHigh int
}

// Center returns the band-centre row.
func (b Band) Center() float64 {
	return float64(b.YLow+b.YHigh) / 2
}

// Bands partitions height rows into count bands ordered bottom to top.
// Every band is height/count rows tall except the topmost, which absorbs
// the remainder.
func Bands(height, count int) []Band {
	if count < 1 {
		return nil
	}
	h := height / count
	bands := make([]Band, count)
	for i := 0; i < count; i++ {
		yHigh := height - i*h
		yLow := yHigh - h
		if i == count-1 {
			yLow = 0
		}
		bands[i] = Band{YLow: yLow, YHigh: yHigh}
	}
	return bands
}

// Scanner runs the sliding-window search. It holds configuration only and
// may be shared across frames; Scan does not mutate the mask.
type Scanner struct {
	cfg Config
}

// NewScanner creates a Scanner with the given configuration.
func NewScanner(cfg Config) *Scanner {
	if cfg.WindowCount < 1 {
		cfg.WindowCount = DefaultConfig().WindowCount
	}
	if cfg.Margin < 0 {
		cfg.Margin = 0
	}
	if cfg.HistoryDepth < 0 {
		cfg.HistoryDepth = 0
	}
	if cfg.CoarseDivisor < 1 {
		cfg.CoarseDivisor = DefaultConfig().CoarseDivisor
	}
	return &Scanner{cfg: cfg}
}

// Config returns the scanner configuration.
func (s *Scanner) Config() Config {
	return s.cfg
}

// CoarseSeeds finds the initial left and right seed columns from the
// column-sum histogram of the bottom 1/CoarseDivisor of the mask: the
// argmax of the left half and the argmax of the right half. An empty mask
// yields left=0 and right=W/2.
func (s *Scanner) CoarseSeeds(m *l1mask.BinaryMask) (left, right int) {
	rows := m.Height / s.cfg.CoarseDivisor
	if rows < 1 {
		rows = 1
	}
	hist := m.ColumnHistogram(m.Height-rows, m.Height)
	mid := m.Width / 2

	left, _ = argmax(hist, 0, mid-1)
	right, _ = argmax(hist, mid, m.Width-1)
	if right < 0 {
		right = mid
	}
	if left < 0 {
		left = 0
	}
	diagf("coarse seeds left=%d right=%d (bottom %d rows)", left, right, rows)
	return left, right
}

// Scan runs the window search for both sides from the given seeds. Each
// returned PointSet holds exactly WindowCount samples.
func (s *Scanner) Scan(m *l1mask.BinaryMask, seedLeft, seedRight float64) ScanResult {
	bands := Bands(m.Height, s.cfg.WindowCount)
	res := ScanResult{
		Left:  make(PointSet, 0, len(bands)),
		Right: make(PointSet, 0, len(bands)),
	}

	curLeft, curRight := seedLeft, seedRight
	for i, band := range bands {
		hist := m.ColumnHistogram(band.YLow, band.YHigh)

		var p PointSample
		p, curLeft = s.searchBand(hist, band, curLeft, seedLeft, res.Left, m.Width)
		res.Left = append(res.Left, p)

		p, curRight = s.searchBand(hist, band, curRight, seedRight, res.Right, m.Width)
		res.Right = append(res.Right, p)

		tracef("band %d rows [%d,%d) left=%.1f(imputed=%v) right=%.1f(imputed=%v)",
			i, band.YLow, band.YHigh,
			res.Left[i].X, res.Left[i].Imputed, res.Right[i].X, res.Right[i].Imputed)
	}

	diagf("scan complete: left detected %d/%d, right detected %d/%d",
		res.Left.DetectedCount(), len(bands), res.Right.DetectedCount(), len(bands))
	return res
}

// searchBand looks for a positive peak within margin of seed. It returns
// the recorded sample and the seed for the next band up.
func (s *Scanner) searchBand(hist []int, band Band, seed, origSeed float64, history PointSet, width int) (PointSample, float64) {
	center := int(math.Round(seed))
	lo := center - s.cfg.Margin
	hi := center + s.cfg.Margin
	if lo < 0 {
		lo = 0
	}
	if hi > width-1 {
		hi = width - 1
	}

	if idx, peak := argmax(hist, lo, hi); idx >= 0 && peak > 0 {
		x := float64(idx)
		return PointSample{X: x, Y: band.Center()}, x
	}

	next := clamp(s.impute(seed, origSeed, history), 0, float64(width-1))
	return PointSample{X: next, Y: band.Center(), Imputed: true}, next
}

// impute extrapolates the next seed as the running seed plus the mean of
// successive deltas over the last HistoryDepth recorded samples. With no
// recorded samples the side's original seed is reused.
func (s *Scanner) impute(seed, origSeed float64, history PointSet) float64 {
	if len(history) == 0 {
		return origSeed
	}
	start := len(history) - s.cfg.HistoryDepth
	if start < 0 {
		start = 0
	}
	recent := history[start:]
	if len(recent) < 2 {
		return seed
	}

	var sum float64
	for i := 1; i < len(recent); i++ {
		sum += recent[i].X - recent[i-1].X
	}
	return seed + sum/float64(len(recent)-1)
}

// argmax returns the first index of the maximum of hist[lo..hi] inclusive
// and that maximum. An empty range returns (-1, 0).
func argmax(hist []int, lo, hi int) (int, int) {
	if lo < 0 {
		lo = 0
	}
	if hi > len(hist)-1 {
		hi = len(hist) - 1
	}
	if lo > hi {
		return -1, 0
	}
	best, bestVal := lo, hist[lo]
	for i := lo + 1; i <= hi; i++ {
		if hist[i] > bestVal {
			best, bestVal = i, hist[i]
		}
	}
	return best, bestVal
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
