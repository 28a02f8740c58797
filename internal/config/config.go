// Package config loads the reconciliation settings from viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/Veraticus/tally-reconcile/internal/common"
	"github.com/Veraticus/tally-reconcile/internal/model"
)

// Config is the resolved application configuration.
type Config struct {
	Logging    LoggingConfig     `mapstructure:"logging"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Pipeline   PipelineConfig    `mapstructure:"pipeline"`
	Candidates []model.Candidate `mapstructure:"candidates"`
	Report     ReportConfig      `mapstructure:"report"`
	Extraction ExtractionConfig  `mapstructure:"extraction"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig locates the SQLite store.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ReportConfig describes the scanned report being reconciled.
type ReportConfig struct {
	// SkipPages are summary pages that carry no ballot box.
	SkipPages     []int `mapstructure:"skip_pages"`
	ExpectedBoxes int   `mapstructure:"expected_boxes"`
	PageCount     int   `mapstructure:"page_count"`
}

// PipelineConfig tunes the worker pool and the resolution policy.
type PipelineConfig struct {
	Strategy string `mapstructure:"strategy"`
	Workers  int    `mapstructure:"workers"`
}

// ExtractionConfig holds page validation thresholds and OCR settings.
type ExtractionConfig struct {
	Languages          []string `mapstructure:"languages"`
	ExpectedSignatures int      `mapstructure:"expected_signatures"`
	MinHumanConfidence float64  `mapstructure:"min_human_confidence"`
	// MinWidth is the pixel width scans are upscaled to before OCR.
	MinWidth int `mapstructure:"min_width"`
}

// SetDefaults registers every key with its default so environment
// variables are honored for all of them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("database.path", "~/.local/share/tally/tally.db")
	v.SetDefault("report.expected_boxes", 126)
	v.SetDefault("report.page_count", 126)
	v.SetDefault("report.skip_pages", []int{})
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.strategy", "override")
	v.SetDefault("extraction.expected_signatures", 8)
	v.SetDefault("extraction.min_human_confidence", 0.0)
	v.SetDefault("extraction.languages", []string{"kor", "eng"})
	v.SetDefault("extraction.min_width", 2400)
}

// Load reads the configuration held by v, applying defaults and validation.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidConfig, err)
	}
	if len(cfg.Candidates) == 0 {
		cfg.Candidates = model.DefaultCandidates()
	}
	cfg.Database.Path = expandPath(cfg.Database.Path)
	cfg.Pipeline.Strategy = strings.ToLower(strings.TrimSpace(cfg.Pipeline.Strategy))
	sort.Ints(cfg.Report.SkipPages)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("%w: pipeline.workers must be at least 1, got %d", common.ErrInvalidConfig, c.Pipeline.Workers)
	}
	switch c.Pipeline.Strategy {
	case "override", "sum":
	default:
		return fmt.Errorf("%w: pipeline.strategy %q (want override or sum)", common.ErrInvalidConfig, c.Pipeline.Strategy)
	}
	if c.Report.PageCount < 1 {
		return fmt.Errorf("%w: report.page_count must be positive", common.ErrInvalidConfig)
	}
	for _, p := range c.Report.SkipPages {
		if p < 1 || p > c.Report.PageCount {
			return fmt.Errorf("%w: report.skip_pages entry %d outside 1..%d", common.ErrInvalidConfig, p, c.Report.PageCount)
		}
	}
	if avail := c.Report.PageCount - len(c.Report.SkipPages); c.Report.ExpectedBoxes < 1 || c.Report.ExpectedBoxes > avail {
		return fmt.Errorf("%w: report.expected_boxes must be within 1..%d, got %d", common.ErrInvalidConfig, avail, c.Report.ExpectedBoxes)
	}
	if c.Extraction.ExpectedSignatures < 0 {
		return fmt.Errorf("%w: extraction.expected_signatures cannot be negative", common.ErrInvalidConfig)
	}
	if c.Extraction.MinHumanConfidence < 0 || c.Extraction.MinHumanConfidence > 1 {
		return fmt.Errorf("%w: extraction.min_human_confidence must be between 0 and 1", common.ErrInvalidConfig)
	}
	if c.Extraction.MinWidth < 0 {
		return fmt.Errorf("%w: extraction.min_width cannot be negative", common.ErrInvalidConfig)
	}
	if _, err := model.NewCandidateSet(c.Candidates); err != nil {
		return fmt.Errorf("%w: candidates: %v", common.ErrInvalidConfig, err)
	}
	return nil
}

// CandidateSet builds the lookup for the configured candidates.
func (c *Config) CandidateSet() (*model.CandidateSet, error) {
	return model.NewCandidateSet(c.Candidates)
}

// expandPath resolves a leading ~ and $VAR references. The in-memory
// database name is left alone.
func expandPath(path string) string {
	if path == "" || path == ":memory:" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return os.ExpandEnv(path)
}
