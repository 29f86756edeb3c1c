// Package monitor renders lane run history for humans: PNG plots via
// gonum/plot for offline runs and go-echarts HTML pages for the API.
//
// Both renderers read sqlite.FrameRecord slices, so the same code serves
// a live session's in-memory records and a stored run.
package monitor
