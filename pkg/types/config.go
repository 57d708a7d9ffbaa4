// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoFilenameList is returned when a conversion is requested without a
// list of output names.
var ErrNoFilenameList = errors.New("a filename list is required for conversion")

const (
	// DefaultDPI is the rasterization resolution used when none is configured.
	DefaultDPI = 300

	// DefaultProbeDPI is the resolution used by the render probe.
	DefaultProbeDPI = 10

	// DefaultPrefix is the run-directory naming convention of the replay output.
	DefaultPrefix = "COIN_NPS_50k_replay_"

	// DefaultMinFreeGB is the free space required before a conversion starts.
	DefaultMinFreeGB = 10.0
)

// LogConfig selects the diagnostic logger format and level.
type LogConfig struct {
	// Level is one of debug, info, warn, error (default info).
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// Format is console or json (default console).
	Format string `json:"format" yaml:"format" mapstructure:"format"`
}

// RasterConfig holds settings for one pdfraster invocation.
type RasterConfig struct {
	// ParentDir contains the run subdirectories to scan.
	ParentDir string `json:"parent_dir" yaml:"parent_dir" mapstructure:"parent_dir"`

	// FilenameList is the text file naming output images in page order.
	// Only required for conversion.
	FilenameList string `json:"filename_list,omitempty" yaml:"filename_list,omitempty" mapstructure:"filename_list"`

	// Prefix selects which subdirectories of ParentDir are scanned.
	Prefix string `json:"prefix" yaml:"prefix" mapstructure:"prefix"`

	// DPI is the rasterization resolution (default 300).
	DPI int `json:"dpi" yaml:"dpi" mapstructure:"dpi"`

	// Workers is the pool size; zero or less means one per CPU.
	Workers int `json:"num_workers" yaml:"num_workers" mapstructure:"num_workers"`

	// CheckOnly runs the integrity probe instead of converting.
	CheckOnly bool `json:"check_only" yaml:"check_only" mapstructure:"check_only"`

	// RenderProbe makes the check pipeline render every page at low DPI
	// instead of only parsing the document structure.
	RenderProbe bool `json:"render_probe" yaml:"render_probe" mapstructure:"render_probe"`

	// MinFreeGB is the free space (GiB) required on ParentDir's filesystem
	// before conversion is dispatched. Zero disables the check.
	MinFreeGB float64 `json:"min_free_gb" yaml:"min_free_gb" mapstructure:"min_free_gb"`

	// LogDir is where error_log_<timestamp>.txt files are written.
	LogDir string `json:"log_dir" yaml:"log_dir" mapstructure:"log_dir"`

	// History enables the SQLite run ledger.
	History bool `json:"history" yaml:"history" mapstructure:"history"`

	// HistoryPath is the ledger database file.
	HistoryPath string `json:"history_path" yaml:"history_path" mapstructure:"history_path"`

	Log LogConfig `json:"log" yaml:"log" mapstructure:"log"`
}

// Defaults fills empty name and path fields. DPI and MinFreeGB are left
// alone: their defaults come from the CLI layer so that an explicit zero
// can disable the disk check.
func (c *RasterConfig) Defaults() {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.LogDir == "" {
		c.LogDir = "."
	}
	if c.HistoryPath == "" {
		c.HistoryPath = "pdfraster.db"
	}
}

// Validate reports configuration errors that make a run impossible.
func (c RasterConfig) Validate() error {
	if c.ParentDir == "" {
		return fmt.Errorf("parent directory is required")
	}
	if !c.CheckOnly && c.FilenameList == "" {
		return fmt.Errorf("%w (or pass --check-only)", ErrNoFilenameList)
	}
	if c.DPI <= 0 {
		return fmt.Errorf("dpi must be positive, got %d", c.DPI)
	}
	if c.MinFreeGB < 0 {
		return fmt.Errorf("min_free_gb must not be negative, got %g", c.MinFreeGB)
	}
	return nil
}

// MinFreeBytes converts MinFreeGB to bytes.
func (c RasterConfig) MinFreeBytes() uint64 {
	return uint64(c.MinFreeGB * (1 << 30))
}

// RunMode identifies which pipeline an invocation drove.
type RunMode string

const (
	ModeCheck   RunMode = "check"
	ModeConvert RunMode = "convert"
)

// RunSummary is the aggregate record of one invocation.
type RunSummary struct {
	ID         string        `json:"id" yaml:"id"`
	Mode       RunMode       `json:"mode" yaml:"mode"`
	ParentDir  string        `json:"parent_dir" yaml:"parent_dir"`
	StartedAt  time.Time     `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time     `json:"finished_at" yaml:"finished_at"`
	DPI        int           `json:"dpi" yaml:"dpi"`
	Workers    int           `json:"workers" yaml:"workers"`
	Documents  int           `json:"documents" yaml:"documents"`
	Succeeded  int           `json:"succeeded" yaml:"succeeded"`
	Skipped    int           `json:"skipped" yaml:"skipped"`
	Failed     int           `json:"failed" yaml:"failed"`
	ErrorLog   string        `json:"error_log,omitempty" yaml:"error_log,omitempty"`
	Elapsed    time.Duration `json:"elapsed" yaml:"elapsed"`
}
