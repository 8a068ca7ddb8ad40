// Project: Cost of Disease - Demographic Effects of Reduced Foreign Health Aid
// Date: Oct 14th 2026

package main

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the complete run configuration
type Config struct {
	Model        ModelConfig        `mapstructure:"model"`
	Data         DataConfig         `mapstructure:"data"`
	Scenarios    []ScenarioConfig   `mapstructure:"scenarios"`
	Productivity ProductivityConfig `mapstructure:"productivity"`
	Output       OutputConfig       `mapstructure:"output"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Run          RunConfig          `mapstructure:"run"`
}

// ModelConfig holds the cohort dimensions of the equilibrium solver
type ModelConfig struct {
	S         int `mapstructure:"s"`
	E         int `mapstructure:"e"`
	T         int `mapstructure:"t"`
	StartYear int `mapstructure:"start_year"`
}

// DataConfig locates the baseline demographic inputs
type DataConfig struct {
	Dir         string `mapstructure:"dir"`
	AbilityFile string `mapstructure:"ability_file"`
}

// ScenarioConfig is one excess-deaths scenario
type ScenarioConfig struct {
	Name          string   `mapstructure:"name"`
	ExcessDeaths  float64  `mapstructure:"excess_deaths"`
	PhaseYears    int      `mapstructure:"phase_years"`
	Horizon       int      `mapstructure:"horizon"`
	ReferenceYear int      `mapstructure:"reference_year"`
	InitialGuess  *float64 `mapstructure:"initial_guess"`
}

// ProductivityConfig holds the year -> productivity loss table
type ProductivityConfig struct {
	Groups      int                `mapstructure:"groups"`
	Adjustments map[string]float64 `mapstructure:"adjustments"`
}

// OutputConfig says where CSV results go
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// RunConfig holds execution settings
type RunConfig struct {
	Workers int `mapstructure:"workers"`
}

// LoadConfig reads configuration from file and environment variables.
// An empty path uses defaults and the environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("COST_OF_DISEASE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// A missing scenario list means the single reference scenario
	if len(cfg.Scenarios) == 0 {
		cfg.Scenarios = []ScenarioConfig{{
			Name:         "Median Excess Deaths",
			ExcessDeaths: DefaultExcessDeaths,
		}}
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Model defaults
	v.SetDefault("model.s", 80)
	v.SetDefault("model.e", 20)
	v.SetDefault("model.t", 320)
	v.SetDefault("model.start_year", 2025)

	// Data defaults
	v.SetDefault("data.dir", "./data")
	v.SetDefault("data.ability_file", "")

	// Productivity defaults
	v.SetDefault("productivity.groups", 3)

	// Output defaults
	v.SetDefault("output.dir", "./output")

	// Logging defaults
	v.SetDefault("logging.level", "info")

	// Run defaults
	v.SetDefault("run.workers", runtime.NumCPU())
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Model.S < 1 {
		return fmt.Errorf("model.s must be at least 1")
	}
	if c.Model.E < 0 {
		return fmt.Errorf("model.e must be non-negative")
	}
	if c.Model.T < 1 {
		return fmt.Errorf("model.t must be at least 1")
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir is required")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	if c.Productivity.Groups < 0 {
		return fmt.Errorf("productivity.groups must be non-negative")
	}
	if c.Run.Workers < 1 {
		return fmt.Errorf("run.workers must be at least 1")
	}

	names := make(map[string]bool, len(c.Scenarios))
	for i, s := range c.Scenarios {
		if s.Name == "" {
			return fmt.Errorf("scenarios[%d].name is required", i)
		}
		if names[s.Name] {
			return fmt.Errorf("scenarios[%d].name %q is duplicated", i, s.Name)
		}
		names[s.Name] = true
		if err := s.Spec().withDefaults().Validate(); err != nil {
			return fmt.Errorf("scenarios[%d]: %w", i, err)
		}
	}

	if _, err := c.AdjustmentTable(); err != nil {
		return err
	}
	return nil
}

// Dimensions returns the model cohort constants.
func (c *Config) Dimensions() Dimensions {
	return Dimensions{S: c.Model.S, E: c.Model.E, T: c.Model.T, StartYear: c.Model.StartYear}
}

// Spec converts a configured scenario to a ScenarioSpec.
func (s ScenarioConfig) Spec() ScenarioSpec {
	return ScenarioSpec{
		Name:          s.Name,
		ExcessDeaths:  s.ExcessDeaths,
		PhaseYears:    s.PhaseYears,
		Horizon:       s.Horizon,
		ReferenceYear: s.ReferenceYear,
		InitialGuess:  s.InitialGuess,
	}
}

// ScenarioSpecs returns every configured scenario as a ScenarioSpec.
func (c *Config) ScenarioSpecs() []ScenarioSpec {
	specs := make([]ScenarioSpec, len(c.Scenarios))
	for i, s := range c.Scenarios {
		specs[i] = s.Spec()
	}
	return specs
}

// AdjustmentTable parses the productivity table. Without configured entries
// the reference 2025-2040 table is used.
func (c *Config) AdjustmentTable() (*AdjustmentTable, error) {
	if len(c.Productivity.Adjustments) == 0 {
		return ReferenceProductivityAdjustments(), nil
	}
	values := make(map[int]float64, len(c.Productivity.Adjustments))
	for k, v := range c.Productivity.Adjustments {
		year, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("productivity.adjustments key %q is not a year: %w", k, err)
		}
		values[year] = v
	}
	return NewAdjustmentTable(values), nil
}
