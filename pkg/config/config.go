// Package config holds the inference engine's configuration: every knob
// enumerated by the engine's public contract, defaulted, YAML-loadable and
// validated at construction time rather than deep inside the engine.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full set of knobs the engine's Analyze honors.
type Config struct {
	GuessLimit                      int     `yaml:"guess_limit"`
	MaxIterations                   int     `yaml:"max_iterations"`
	MinAssetsPerIteration           int     `yaml:"min_assets_per_iteration"`
	MaxAssetsPerIteration           int     `yaml:"max_assets_per_iteration"`
	MinSupport                      float64 `yaml:"min_support"`
	MinAbsoluteSupport              float64 `yaml:"min_absolute_support"`
	MaxIterationsWithoutImprovement int     `yaml:"max_iterations_without_improvement"`
	IterationMinImprovement         float64 `yaml:"iteration_min_improvement"`
	GuessIgnoreDistance             float64 `yaml:"guess_ignore_distance"`
	GuessRelativeIgnoreDistance     float64 `yaml:"guess_relative_ignore_distance"`
	GuessIgnoreMinPositive          float64 `yaml:"guess_ignore_min_positive"`
	PositiveMatchWeight             float64 `yaml:"positive_match_weight"`
	NegativeMatchWeight             float64 `yaml:"negative_match_weight"`
	FailedAssetWeight               float64 `yaml:"failed_asset_weight"`

	// Transport knobs: the per-request fetch timeout and how many probes
	// within one iteration fetch concurrently.
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	FetchConcurrency int           `yaml:"fetch_concurrency"`
}

// Default returns the engine's default configuration. Note the default
// NegativeMatchWeight is a small positive penalty, so a negative match
// adds a little strength rather than subtracting it; keep it configurable
// and signed when tuning.
func Default() Config {
	return Config{
		GuessLimit:                      10,
		MaxIterations:                   20,
		MinAssetsPerIteration:           3,
		MaxAssetsPerIteration:           10,
		MinSupport:                      0.2,
		MinAbsoluteSupport:              10,
		MaxIterationsWithoutImprovement: 3,
		IterationMinImprovement:         0.01,
		GuessIgnoreDistance:             5,
		GuessRelativeIgnoreDistance:     0.1,
		GuessIgnoreMinPositive:          1,
		PositiveMatchWeight:             1.0,
		NegativeMatchWeight:             0.1,
		FailedAssetWeight:               0.5,
		RequestTimeout:                  15 * time.Second,
		FetchConcurrency:                4,
	}
}

// Validate refuses to run with nonsensical settings - an invalid Config is
// a construction-time error, never something the engine discovers mid-run.
func (c Config) Validate() error {
	switch {
	case c.GuessLimit <= 0:
		return fmt.Errorf("config: guess_limit must be positive, got %d", c.GuessLimit)
	case c.MaxIterations <= 0:
		return fmt.Errorf("config: max_iterations must be positive, got %d", c.MaxIterations)
	case c.MinAssetsPerIteration <= 0:
		return fmt.Errorf("config: min_assets_per_iteration must be positive, got %d", c.MinAssetsPerIteration)
	case c.MaxAssetsPerIteration < c.MinAssetsPerIteration:
		return fmt.Errorf("config: max_assets_per_iteration (%d) must be >= min_assets_per_iteration (%d)", c.MaxAssetsPerIteration, c.MinAssetsPerIteration)
	case c.MinSupport < 0 || c.MinSupport > 1:
		return fmt.Errorf("config: min_support must be in [0,1], got %f", c.MinSupport)
	case c.MinAbsoluteSupport < 0:
		return fmt.Errorf("config: min_absolute_support must be non-negative, got %f", c.MinAbsoluteSupport)
	case c.MaxIterationsWithoutImprovement <= 0:
		return fmt.Errorf("config: max_iterations_without_improvement must be positive, got %d", c.MaxIterationsWithoutImprovement)
	case c.GuessRelativeIgnoreDistance < 0 || c.GuessRelativeIgnoreDistance > 1:
		return fmt.Errorf("config: guess_relative_ignore_distance must be in [0,1], got %f", c.GuessRelativeIgnoreDistance)
	case c.RequestTimeout <= 0:
		return fmt.Errorf("config: request_timeout must be positive, got %s", c.RequestTimeout)
	case c.FetchConcurrency <= 0:
		return fmt.Errorf("config: fetch_concurrency must be positive, got %d", c.FetchConcurrency)
	}
	return nil
}

// Load reads a YAML config file, layering its values over Default() so a
// partial file only needs to mention the settings it overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
