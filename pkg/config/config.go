package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned when a loaded configuration fails validation.
var ErrInvalid = errors.New("invalid config")

// Config holds all qcache configuration.
type Config struct {
	Cache     CacheConfig     `yaml:"cache"`
	Templates TemplatesConfig `yaml:"templates"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// CacheConfig controls the two-tier result cache.
type CacheConfig struct {
	Dir             string        `yaml:"dir"`
	TTL             time.Duration `yaml:"ttl"`
	MemoryLimit     int           `yaml:"memory_limit"`
	CompactInterval time.Duration `yaml:"compact_interval"`
}

// TemplatesConfig controls the template registry.
type TemplatesConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// AnalyzerConfig controls the usage analyzer.
type AnalyzerConfig struct {
	DBPath        string            `yaml:"db_path"`
	RetentionDays int               `yaml:"retention_days"`
	DefaultCost   float64           `yaml:"default_cost"`
	Suggestions   SuggestionsConfig `yaml:"suggestions"`
}

// SuggestionsConfig holds the heuristic thresholds of the suggestion engine.
type SuggestionsConfig struct {
	VolumeWindow           time.Duration `yaml:"volume_window"`
	VolumeThreshold        int64         `yaml:"volume_threshold"`
	TTLReferenceRate       float64       `yaml:"ttl_reference_rate"`
	MinTTL                 time.Duration `yaml:"min_ttl"`
	MaxTTL                 time.Duration `yaml:"max_ttl"`
	PatternLimit           int           `yaml:"pattern_limit"`
	PrecompileMinCount     int64         `yaml:"precompile_min_count"`
	PrecompileSavingsRatio float64       `yaml:"precompile_savings_ratio"`
	ExpensiveAvgCost       float64       `yaml:"expensive_avg_cost"`
	LoadWindow             time.Duration `yaml:"load_window"`
	LoadHourThreshold      int64         `yaml:"load_hour_threshold"`
	LoadTopHours           int           `yaml:"load_top_hours"`
	RedundantWindow        time.Duration `yaml:"redundant_window"`
	RedundantThreshold     int64         `yaml:"redundant_threshold"`
	RedundantTop           int           `yaml:"redundant_top"`
	CostPerQuery           float64       `yaml:"cost_per_query"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

const defaultDir = "~/.qcache"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			Dir:         defaultDir,
			TTL:         24 * time.Hour,
			MemoryLimit: 100,
		},
		Analyzer: AnalyzerConfig{
			RetentionDays: 90,
			DefaultCost:   0.09,
			Suggestions:   DefaultSuggestions(),
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// DefaultSuggestions returns the stock suggestion thresholds.
func DefaultSuggestions() SuggestionsConfig {
	return SuggestionsConfig{
		VolumeWindow:           30 * 24 * time.Hour,
		VolumeThreshold:        100,
		TTLReferenceRate:       100,
		MinTTL:                 time.Hour,
		MaxTTL:                 72 * time.Hour,
		PatternLimit:           10,
		PrecompileMinCount:     5,
		PrecompileSavingsRatio: 0.9,
		ExpensiveAvgCost:       0.1,
		LoadWindow:             7 * 24 * time.Hour,
		LoadHourThreshold:      20,
		LoadTopHours:           5,
		RedundantWindow:        24 * time.Hour,
		RedundantThreshold:     3,
		RedundantTop:           5,
		CostPerQuery:           0.09,
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve expands home-relative paths, derives unset file locations from the
// cache directory and validates the result.
func (c *Config) Resolve() error {
	dir, err := expandHome(c.Cache.Dir)
	if err != nil {
		return err
	}
	c.Cache.Dir = dir

	if c.Templates.Path == "" {
		c.Templates.Path = filepath.Join(c.Cache.Dir, "templates.json")
	} else if c.Templates.Path, err = expandHome(c.Templates.Path); err != nil {
		return err
	}
	if c.Analyzer.DBPath == "" {
		c.Analyzer.DBPath = filepath.Join(c.Cache.Dir, "query_log.db")
	} else if c.Analyzer.DBPath, err = expandHome(c.Analyzer.DBPath); err != nil {
		return err
	}
	if c.Log.File != "" {
		if c.Log.File, err = expandHome(c.Log.File); err != nil {
			return err
		}
	}

	return c.Validate()
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.Cache.Dir == "":
		return fmt.Errorf("%w: cache.dir is required", ErrInvalid)
	case c.Cache.TTL <= 0:
		return fmt.Errorf("%w: cache.ttl must be positive", ErrInvalid)
	case c.Cache.MemoryLimit <= 0:
		return fmt.Errorf("%w: cache.memory_limit must be positive", ErrInvalid)
	case c.Cache.CompactInterval < 0:
		return fmt.Errorf("%w: cache.compact_interval must not be negative", ErrInvalid)
	case c.Analyzer.RetentionDays < 0:
		return fmt.Errorf("%w: analyzer.retention_days must not be negative", ErrInvalid)
	case c.Analyzer.Suggestions.MinTTL > c.Analyzer.Suggestions.MaxTTL:
		return fmt.Errorf("%w: analyzer.suggestions.min_ttl exceeds max_ttl", ErrInvalid)
	}
	return nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
