package monitor

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/lane.report/internal/lane/storage/sqlite"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// RenderHistoryChart writes an HTML page with the radius and offset
// history of the records.
func RenderHistoryChart(w io.Writer, title string, records []sqlite.FrameRecord) error {
	s := NewSeries(records, DefaultRadiusCap)

	xAxis := make([]string, s.Len())
	for i, f := range s.Frames {
		xAxis[i] = strconv.Itoa(int(f))
	}

	radius := charts.NewLine()
	radius.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "420px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Radius of curvature", Subtitle: fmt.Sprintf("%s frames=%d cap=%.0f m", title, s.Len(), DefaultRadiusCap)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "m"}),
	)
	radius.SetXAxis(xAxis).
		AddSeries("smoothed", lineData(s.Smoothed)).
		AddSeries("left", lineData(s.LeftRadius)).
		AddSeries("right", lineData(s.RightRadius))

	offset := charts.NewLine()
	offset.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "320px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Lateral offset", Subtitle: "negative is left of center"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "m"}),
	)
	offset.SetXAxis(xAxis).AddSeries("offset", lineData(s.Offset))

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.PageTitle = title
	page.AddCharts(radius, offset)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

// lineData maps NaN to echarts' "-" placeholder so gaps render as gaps.
func lineData(vs []float64) []opts.LineData {
	out := make([]opts.LineData, len(vs))
	for i, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = opts.LineData{Value: "-"}
			continue
		}
		out[i] = opts.LineData{Value: v}
	}
	return out
}
