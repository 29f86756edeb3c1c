package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Reseed policies accepted by reseed_policy.
const (
	// ReseedInitial scans every frame from the seed column fixed at first detection.
	ReseedInitial = "initial"
	// ReseedTracked scans from the smoothed fit evaluated at the bottom row.
	ReseedTracked = "tracked"
)

// TuningConfig represents the root configuration for lane tracking parameters.
// All values are construction-time: a session reads them once and never
// reconfigures mid-run.
type TuningConfig struct {
	// Window scanner params
	WindowCount    *int  `json:"window_count,omitempty"`
	Margin         *int  `json:"margin,omitempty"`
	HistoryDepth   *int  `json:"history_depth,omitempty"`
	CoarseDivisor  *int  `json:"coarse_divisor,omitempty"` // bottom 1/N rows used for the coarse seed search
	ExcludeImputed *bool `json:"exclude_imputed,omitempty"`

	// Lane state params
	FitHistory       *int    `json:"fit_history,omitempty"`
	CurvatureHistory *int    `json:"curvature_history,omitempty"`
	ReseedPolicy     *string `json:"reseed_policy,omitempty"`

	// Metric scale params
	LaneWidthMeters *float64 `json:"lane_width_m,omitempty"`
	ViewDepthMeters *float64 `json:"view_depth_m,omitempty"`

	// Fitting params
	ConditionLimit *float64 `json:"condition_limit,omitempty"`

	// Expected frame geometry (0 = taken from the first frame of a session)
	FrameWidth  *int `json:"frame_width,omitempty"`
	FrameHeight *int `json:"frame_height,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// with the built-in defaults.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		WindowCount:      ptrInt(10),
		Margin:           ptrInt(40),
		HistoryDepth:     ptrInt(5),
		CoarseDivisor:    ptrInt(6),
		ExcludeImputed:   ptrBool(false),
		FitHistory:       ptrInt(5),
		CurvatureHistory: ptrInt(10),
		ReseedPolicy:     ptrString(ReseedInitial),
		LaneWidthMeters:  ptrFloat64(3.7),
		ViewDepthMeters:  ptrFloat64(30),
		ConditionLimit:   ptrFloat64(1e12),
		FrameWidth:       ptrInt(0),
		FrameHeight:      ptrInt(0),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// The Get* methods provide fallback defaults for any fields not
	// specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/lane/pipeline/
		"../../../../" + DefaultConfigPath, // from internal/lane/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.WindowCount != nil && *c.WindowCount < 1 {
		return fmt.Errorf("window_count must be positive, got %d", *c.WindowCount)
	}
	if c.Margin != nil && *c.Margin < 0 {
		return fmt.Errorf("margin must be non-negative, got %d", *c.Margin)
	}
	if c.HistoryDepth != nil && *c.HistoryDepth < 0 {
		return fmt.Errorf("history_depth must be non-negative, got %d", *c.HistoryDepth)
	}
	if c.CoarseDivisor != nil && *c.CoarseDivisor < 1 {
		return fmt.Errorf("coarse_divisor must be positive, got %d", *c.CoarseDivisor)
	}
	if c.FitHistory != nil && *c.FitHistory < 1 {
		return fmt.Errorf("fit_history must be positive, got %d", *c.FitHistory)
	}
	if c.CurvatureHistory != nil && *c.CurvatureHistory < 1 {
		return fmt.Errorf("curvature_history must be positive, got %d", *c.CurvatureHistory)
	}
	if c.ReseedPolicy != nil {
		switch *c.ReseedPolicy {
		case ReseedInitial, ReseedTracked:
		default:
			return fmt.Errorf("reseed_policy must be %q or %q, got %q", ReseedInitial, ReseedTracked, *c.ReseedPolicy)
		}
	}
	if c.LaneWidthMeters != nil && *c.LaneWidthMeters <= 0 {
		return fmt.Errorf("lane_width_m must be positive, got %f", *c.LaneWidthMeters)
	}
	if c.ViewDepthMeters != nil && *c.ViewDepthMeters <= 0 {
		return fmt.Errorf("view_depth_m must be positive, got %f", *c.ViewDepthMeters)
	}
	if c.ConditionLimit != nil && *c.ConditionLimit <= 1 {
		return fmt.Errorf("condition_limit must be greater than 1, got %g", *c.ConditionLimit)
	}
	if c.FrameWidth != nil && *c.FrameWidth < 0 {
		return fmt.Errorf("frame_width must be non-negative, got %d", *c.FrameWidth)
	}
	if c.FrameHeight != nil && *c.FrameHeight < 0 {
		return fmt.Errorf("frame_height must be non-negative, got %d", *c.FrameHeight)
	}
	return nil
}

// GetWindowCount returns the window_count value or the default.
func (c *TuningConfig) GetWindowCount() int {
	if c.WindowCount == nil {
		return 10
	}
	return *c.WindowCount
}

// GetMargin returns the margin value or the default.
func (c *TuningConfig) GetMargin() int {
	if c.Margin == nil {
		return 40
	}
	return *c.Margin
}

// GetHistoryDepth returns the history_depth value or the default.
func (c *TuningConfig) GetHistoryDepth() int {
	if c.HistoryDepth == nil {
		return 5
	}
	return *c.HistoryDepth
}

// GetCoarseDivisor returns the coarse_divisor value or the default.
func (c *TuningConfig) GetCoarseDivisor() int {
	if c.CoarseDivisor == nil {
		return 6
	}
	return *c.CoarseDivisor
}

// GetExcludeImputed returns the exclude_imputed value or the default.
func (c *TuningConfig) GetExcludeImputed() bool {
	if c.ExcludeImputed == nil {
		return false
	}
	return *c.ExcludeImputed
}

// GetFitHistory returns the fit_history value or the default.
func (c *TuningConfig) GetFitHistory() int {
	if c.FitHistory == nil {
		return 5
	}
	return *c.FitHistory
}

// GetCurvatureHistory returns the curvature_history value or the default.
func (c *TuningConfig) GetCurvatureHistory() int {
	if c.CurvatureHistory == nil {
		return 10
	}
	return *c.CurvatureHistory
}

// GetReseedPolicy returns the reseed_policy value or the default.
func (c *TuningConfig) GetReseedPolicy() string {
	if c.ReseedPolicy == nil || *c.ReseedPolicy == "" {
		return ReseedInitial
	}
	return *c.ReseedPolicy
}

// GetLaneWidthMeters returns the lane_width_m value or the default.
func (c *TuningConfig) GetLaneWidthMeters() float64 {
	if c.LaneWidthMeters == nil {
		return 3.7
	}
	return *c.LaneWidthMeters
}

// GetViewDepthMeters returns the view_depth_m value or the default.
func (c *TuningConfig) GetViewDepthMeters() float64 {
	if c.ViewDepthMeters == nil {
		return 30
	}
	return *c.ViewDepthMeters
}

// GetConditionLimit returns the condition_limit value or the default.
func (c *TuningConfig) GetConditionLimit() float64 {
	if c.ConditionLimit == nil {
		return 1e12
	}
	return *c.ConditionLimit
}

// GetFrameWidth returns the frame_width value or the default.
func (c *TuningConfig) GetFrameWidth() int {
	if c.FrameWidth == nil {
		return 0
	}
	return *c.FrameWidth
}

// GetFrameHeight returns the frame_height value or the default.
func (c *TuningConfig) GetFrameHeight() int {
	if c.FrameHeight == nil {
		return 0
	}
	return *c.FrameHeight
}
