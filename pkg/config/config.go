// Package config provides configuration loading and management for timelapsemap.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"timelapsemap/pkg/crop"
	"timelapsemap/pkg/mapeval"
	"timelapsemap/pkg/matching"
	"timelapsemap/pkg/profile"
	"timelapsemap/pkg/split"
	"timelapsemap/pkg/stats"
)

// Environment variables that override the configuration file
const (
	EnvConfig   = "TIMELAPSEMAP_CONFIG"
	EnvLogLevel = "LOG_LEVEL"
	EnvLedger   = "TIMELAPSEMAP_LEDGER"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Column naming of the profile files
	Schema struct {
		// MetadataPrefix marks descriptive columns; everything else is a feature
		MetadataPrefix string `yaml:"metadataPrefix"`

		WellColumn  string `yaml:"wellColumn"`
		FOVColumn   string `yaml:"fovColumn"`
		TimeColumn  string `yaml:"timeColumn"`
		DoseColumn  string `yaml:"doseColumn"`
		TrackColumn string `yaml:"trackColumn"`
		XColumn     string `yaml:"xColumn"`
		YColumn     string `yaml:"yColumn"`

		// CellCountColumn holds the number of cells behind an aggregated profile
		CellCountColumn string `yaml:"cellCountColumn"`

		// TargetPrefix marks the endpoint features a model predicts
		TargetPrefix string `yaml:"targetPrefix"`

		FeatureSets []profile.FeatureSet `yaml:"featureSets"`
	} `yaml:"schema"`

	// Track-to-endpoint matching
	Matching struct {
		// Threshold is the exclusive centroid distance in pixels
		Threshold float64 `yaml:"threshold"`

		// TieBreak is "last" or "nearest"
		TieBreak string `yaml:"tieBreak"`

		// TerminalTime is written to the time column of matched endpoint cells
		TerminalTime float64 `yaml:"terminalTime"`
	} `yaml:"matching"`

	// Mean average precision
	MAP struct {
		NullSize  int     `yaml:"nullSize"`
		Threshold float64 `yaml:"threshold"`
		Seed      uint64  `yaml:"seed"`

		// ReferenceGroup is "min" or a literal value of ReferenceColumn
		ReferenceGroup       string `yaml:"referenceGroup"`
		ReferenceColumn      string `yaml:"referenceColumn"`
		ReferenceIndexColumn string `yaml:"referenceIndexColumn"`
	} `yaml:"map"`

	// Cell-count subsampling sweep
	Sampling struct {
		Iterations int     `yaml:"iterations"`
		Seed       uint64  `yaml:"seed"`
		MaxSeed    int64   `yaml:"maxSeed"`
		Start      float64 `yaml:"start"`
		Steps      int     `yaml:"steps"`
	} `yaml:"sampling"`

	// ANOVA and linear models
	Stats struct {
		// TerminalContains selects the endpoint features tested against dose
		TerminalContains string  `yaml:"terminalContains"`
		Alpha            float64 `yaml:"alpha"`
	} `yaml:"stats"`

	// Embedding of profiles
	Embedding struct {
		Components   int    `yaml:"components"`
		ColumnPrefix string `yaml:"columnPrefix"`
	} `yaml:"embedding"`

	// Single-cell crops
	Crop struct {
		Radius     int               `yaml:"radius"`
		Workers    int               `yaml:"workers"`
		ImageCache int               `yaml:"imageCache"`
		Channels   map[string]string `yaml:"channels"`
	} `yaml:"crop"`

	// Terminal-state regression
	Regression struct {
		// Alphas are the ridge penalties tried by cross-validation
		Alphas []float64 `yaml:"alphas"`
		Folds  int       `yaml:"folds"`
		Seed   uint64    `yaml:"seed"`
	} `yaml:"regression"`

	// Train, validation and test splits
	Split struct {
		Seed          uint64  `yaml:"seed"`
		TrainFraction float64 `yaml:"trainFraction"`
		ValFraction   float64 `yaml:"valFraction"`
	} `yaml:"split"`

	Ledger struct {
		// Path of the SQLite stage ledger
		Path string `yaml:"path"`
	} `yaml:"ledger"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Cache struct {
		// Tables is the number of parsed profile files kept in memory
		Tables int `yaml:"tables"`
	} `yaml:"cache"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	mp := matching.DefaultParams()
	cfg.Schema.MetadataPrefix = profile.DefaultMetadataPrefix
	cfg.Schema.WellColumn = mp.WellColumn
	cfg.Schema.FOVColumn = mp.FOVColumn
	cfg.Schema.TimeColumn = mp.TimeColumn
	cfg.Schema.DoseColumn = "Metadata_dose"
	cfg.Schema.TrackColumn = mp.TrackColumn
	cfg.Schema.XColumn = mp.XColumn
	cfg.Schema.YColumn = mp.YColumn
	cfg.Schema.CellCountColumn = stats.DefaultLinearParams().CountColumn
	cfg.Schema.TargetPrefix = "Terminal_"
	cfg.Schema.FeatureSets = profile.DefaultFeatureSets()

	cfg.Matching.Threshold = mp.Threshold
	cfg.Matching.TieBreak = string(mp.TieBreak)
	cfg.Matching.TerminalTime = mp.TerminalTime

	ep := mapeval.DefaultParams()
	cfg.MAP.NullSize = ep.NullSize
	cfg.MAP.Threshold = ep.Threshold
	cfg.MAP.Seed = ep.Seed
	cfg.MAP.ReferenceGroup = ep.ReferenceGroup
	cfg.MAP.ReferenceColumn = ep.ReferenceColumn
	cfg.MAP.ReferenceIndexColumn = ep.ReferenceIndexColumn

	cfg.Sampling.Iterations = 100
	cfg.Sampling.Seed = 0
	cfg.Sampling.MaxSeed = 1000000
	cfg.Sampling.Start = 0.1
	cfg.Sampling.Steps = 10

	tp := stats.DefaultTerminalParams()
	cfg.Stats.TerminalContains = tp.Contains
	cfg.Stats.Alpha = tp.Alpha

	cfg.Embedding.Components = 2
	cfg.Embedding.ColumnPrefix = "UMAP_"

	cp := crop.DefaultParams()
	jc := crop.DefaultJobColumns()
	cfg.Crop.Radius = cp.Radius
	cfg.Crop.Workers = runtime.NumCPU()
	cfg.Crop.ImageCache = cp.ImageCache
	cfg.Crop.Channels = jc.Channels

	cfg.Regression.Alphas = []float64{0.1, 1, 10, 100}
	cfg.Regression.Folds = 5
	cfg.Regression.Seed = 0

	sp := split.DefaultSingleCellParams()
	cfg.Split.TrainFraction = sp.TrainFraction
	cfg.Split.ValFraction = sp.ValFraction

	cfg.Ledger.Path = filepath.Join("results", "ledger.db")
	cfg.Logging.Level = "info"
	cfg.Cache.Tables = 8

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, cfg.Validate()
}

// ApplyEnv overrides file values with the LOG_LEVEL and TIMELAPSEMAP_LEDGER
// environment variables when they are set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvLedger); v != "" {
		c.Ledger.Path = v
	}
}

// Validate rejects values the stages cannot run with.
func (c *Config) Validate() error {
	if c.Matching.Threshold <= 0 {
		return fmt.Errorf("config: matching.threshold must be positive")
	}
	if _, err := matching.ParseTieBreak(c.Matching.TieBreak); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.MAP.NullSize <= 0 {
		return fmt.Errorf("config: map.nullSize must be positive")
	}
	if c.MAP.Threshold <= 0 || c.MAP.Threshold >= 1 {
		return fmt.Errorf("config: map.threshold must be in (0, 1)")
	}
	if c.Embedding.Components < 1 {
		return fmt.Errorf("config: embedding.components must be at least 1")
	}
	if len(c.Regression.Alphas) == 0 {
		return fmt.Errorf("config: regression.alphas must not be empty")
	}
	for _, a := range c.Regression.Alphas {
		if a <= 0 {
			return fmt.Errorf("config: regression.alphas must be positive, got %v", a)
		}
	}
	if c.Regression.Folds < 2 {
		return fmt.Errorf("config: regression.folds must be at least 2")
	}
	if c.Split.TrainFraction <= 0 || c.Split.ValFraction < 0 || c.Split.TrainFraction+c.Split.ValFraction > 1 {
		return fmt.Errorf("config: split fractions must leave room for a test set")
	}
	if c.Crop.Radius <= 0 {
		return fmt.Errorf("config: crop.radius must be positive")
	}
	return nil
}

// FeatureSet returns the named feature set.
func (c *Config) FeatureSet(name string) (profile.FeatureSet, error) {
	for _, fs := range c.Schema.FeatureSets {
		if fs.Name == name {
			return fs, nil
		}
	}
	return profile.FeatureSet{}, fmt.Errorf("config: unknown feature set %q", name)
}

// MatchParams returns the matcher settings.
func (c *Config) MatchParams() matching.Params {
	p := matching.DefaultParams()
	p.WellColumn = c.Schema.WellColumn
	p.FOVColumn = c.Schema.FOVColumn
	p.TrackColumn = c.Schema.TrackColumn
	p.TimeColumn = c.Schema.TimeColumn
	p.XColumn = c.Schema.XColumn
	p.YColumn = c.Schema.YColumn
	p.Threshold = c.Matching.Threshold
	p.TieBreak, _ = matching.ParseTieBreak(c.Matching.TieBreak)
	p.TerminalTime = c.Matching.TerminalTime
	return p
}

// MAPParams returns the evaluator settings.
func (c *Config) MAPParams() mapeval.Params {
	return mapeval.Params{
		TimeColumn:           c.Schema.TimeColumn,
		ReferenceColumn:      c.MAP.ReferenceColumn,
		ReferenceIndexColumn: c.MAP.ReferenceIndexColumn,
		ReferenceGroup:       c.MAP.ReferenceGroup,
		ShuffleColumn:        c.Schema.MetadataPrefix + "Shuffle",
		NullSize:             c.MAP.NullSize,
		Threshold:            c.MAP.Threshold,
		Seed:                 c.MAP.Seed,
	}
}

// TerminalParams returns the endpoint ANOVA settings.
func (c *Config) TerminalParams() stats.TerminalParams {
	return stats.TerminalParams{
		DoseColumn: c.Schema.DoseColumn,
		Contains:   c.Stats.TerminalContains,
		Alpha:      c.Stats.Alpha,
	}
}

// LinearParams returns the linear model design columns.
func (c *Config) LinearParams() stats.LinearParams {
	return stats.LinearParams{
		TimeColumn:  c.Schema.TimeColumn,
		CountColumn: c.Schema.CellCountColumn,
		DoseColumn:  c.Schema.DoseColumn,
	}
}

// CropParams returns the cropper settings writing below outputDir.
func (c *Config) CropParams(outputDir string) crop.Params {
	return crop.Params{
		Radius:     c.Crop.Radius,
		Workers:    c.Crop.Workers,
		OutputDir:  outputDir,
		ImageCache: c.Crop.ImageCache,
	}
}

// CropColumns returns the per-cell columns of the crop stage.
func (c *Config) CropColumns() crop.JobColumns {
	jc := crop.DefaultJobColumns()
	jc.Well = c.Schema.WellColumn
	jc.X = c.Schema.XColumn
	jc.Y = c.Schema.YColumn
	jc.Channels = c.Crop.Channels
	return jc
}

// SingleCellParams returns the single-cell split settings.
func (c *Config) SingleCellParams() split.SingleCellParams {
	p := split.DefaultSingleCellParams()
	p.WellColumn = c.Schema.WellColumn
	p.TrainFraction = c.Split.TrainFraction
	p.ValFraction = c.Split.ValFraction
	p.Seed = c.Split.Seed
	return p
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
