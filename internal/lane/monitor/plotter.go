package monitor

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/lane.report/internal/lane/storage/sqlite"
	"github.com/banshee-data/lane.report/internal/monitoring"
	"github.com/banshee-data/lane.report/internal/security"
)

var (
	colorSmoothed = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	colorLeft     = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	colorRight    = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	colorOffset   = color.RGBA{R: 148, G: 103, B: 189, A: 255}
)

// HistoryPlotter writes PNG plots of a run's radius and offset history.
type HistoryPlotter struct {
	OutputDir string
	RadiusCap float64
	Width     vg.Length
	Height    vg.Length
}

// NewHistoryPlotter creates a plotter writing 14x6 inch PNGs to outputDir.
func NewHistoryPlotter(outputDir string) *HistoryPlotter {
	return &HistoryPlotter{
		OutputDir: outputDir,
		RadiusCap: DefaultRadiusCap,
		Width:     14 * vg.Inch,
		Height:    6 * vg.Inch,
	}
}

// GeneratePlots writes radius.png and offset.png for the records and
// returns the written paths. No files are written for an empty run.
func (hp *HistoryPlotter) GeneratePlots(records []sqlite.FrameRecord) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(hp.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create plot dir: %w", err)
	}

	s := NewSeries(records, hp.RadiusCap)
	var written []string

	radius, err := hp.radiusPlot(s)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(hp.OutputDir, "radius.png")
	if err := radius.Save(hp.Width, hp.Height, path); err != nil {
		return nil, fmt.Errorf("save radius plot: %w", err)
	}
	written = append(written, path)

	offset, err := hp.offsetPlot(s)
	if err != nil {
		return nil, err
	}
	path = filepath.Join(hp.OutputDir, "offset.png")
	if err := offset.Save(hp.Width, hp.Height, path); err != nil {
		return nil, fmt.Errorf("save offset plot: %w", err)
	}
	written = append(written, path)

	monitoring.Logf("[monitor] wrote %d plots for %d frames to %s", len(written), s.Len(), hp.OutputDir)
	return written, nil
}

// WriteRadiusPNG renders the radius plot to w.
func (hp *HistoryPlotter) WriteRadiusPNG(w io.Writer, records []sqlite.FrameRecord) error {
	p, err := hp.radiusPlot(NewSeries(records, hp.RadiusCap))
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(hp.Width, hp.Height, "png")
	if err != nil {
		return fmt.Errorf("radius plot writer: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

func (hp *HistoryPlotter) radiusPlot(s Series) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Radius of curvature (capped at %.0f m)", hp.RadiusCap)
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "Radius (m)"

	lines := []struct {
		name string
		ys   []float64
		c    color.Color
		w    vg.Length
	}{
		{"left", s.LeftRadius, colorLeft, vg.Points(1)},
		{"right", s.RightRadius, colorRight, vg.Points(1)},
		{"smoothed", s.Smoothed, colorSmoothed, vg.Points(2)},
	}
	for _, l := range lines {
		pts := finitePoints(s.Frames, l.ys)
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = l.c
		line.Width = l.w
		p.Add(line)
		p.Legend.Add(l.name, line)
	}
	hp.placeLegend(p)
	return p, nil
}

func (hp *HistoryPlotter) offsetPlot(s Series) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Lateral offset (negative is left of center)"
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "Offset (m)"
	p.Add(plotter.NewGrid())

	pts := finitePoints(s.Frames, s.Offset)
	if len(pts) > 0 {
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = colorOffset
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add("offset", line)
	}

	var frozen plotter.XYs
	for i, f := range s.Frozen {
		if f && !math.IsNaN(s.Offset[i]) {
			frozen = append(frozen, plotter.XY{X: s.Frames[i], Y: s.Offset[i]})
		}
	}
	if len(frozen) > 0 {
		sc, err := plotter.NewScatter(frozen)
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Color = colorRight
		p.Add(sc)
		p.Legend.Add("frozen", sc)
	}
	hp.placeLegend(p)
	return p, nil
}

func (hp *HistoryPlotter) placeLegend(p *plot.Plot) {
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
}

func finitePoints(xs, ys []float64) plotter.XYs {
	pts := make(plotter.XYs, 0, len(xs))
	for i := range xs {
		if math.IsNaN(ys[i]) || math.IsInf(ys[i], 0) {
			continue
		}
		pts = append(pts, plotter.XY{X: xs[i], Y: ys[i]})
	}
	return pts
}

// FormatTimestamp generates a timestamp string for directory naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// MakePlotOutputDir returns plots/<source basename>/<timestamp>, or
// plots/live_<timestamp> when there is no source.
func MakePlotOutputDir(baseDir, source string) string {
	ts := FormatTimestamp(time.Now())
	if source != "" {
		base := filepath.Base(filepath.Clean(source))
		base = strings.TrimSuffix(base, filepath.Ext(base))
		return filepath.Join(baseDir, security.SafeName(base), ts)
	}
	return filepath.Join(baseDir, "live_"+ts)
}
