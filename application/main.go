// Project: Cost of Disease - Demographic Effects of Reduced Foreign Health Aid
// Date: Oct 14th 2026

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gonum.org/v1/gonum/mat"
)

// This program measures the demographic cost of losing foreign health aid.
// It loads baseline fertility, mortality, infant mortality and immigration
// schedules, calibrates a mortality multiplier to each scenario's excess
// deaths, phases it in, and projects baseline and shocked populations.
// The results are written as CSV files for the equilibrium solver and the
// reporting layer.

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    *Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "costofdisease",
	Short: "Excess-death mortality shocks and cohort projections",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = LoadConfig(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		logger, err = newLogger(cfg.Logging.Level, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Calibrate, phase in and project every configured scenario",
	RunE:  runScenarios,
}

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Only fit the mortality scale factor for each scenario",
	RunE:  calibrateScenarios,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (toml, yaml or json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(runCmd, calibrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds a production zap logger at the configured level.
func newLogger(level string, debug bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if debug {
		lvl = zapcore.DebugLevel
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	return config.Build()
}

// loadBaseline reads the baseline schedule and checks it against the solver dimensions.
func loadBaseline(src RateSource, dims Dimensions) (*RateSchedule, error) {
	base, err := src.Load()
	if err != nil {
		return nil, err
	}
	if len(base.Pop0) != dims.Ages() {
		return nil, fmt.Errorf("baseline has %d ages, model has S+E = %d: %w",
			len(base.Pop0), dims.Ages(), ErrDimensionMismatch)
	}
	return base, nil
}

func runScenarios(cmd *cobra.Command, args []string) error {
	dims := cfg.Dimensions()
	runID := uuid.New().String()
	logger = logger.With(zap.String("run_id", runID))

	// 1. Load baseline schedules
	base, err := loadBaseline(CSVRateSource{Dir: cfg.Data.Dir}, dims)
	if err != nil {
		return err
	}
	logger.Info("baseline loaded",
		zap.String("dir", cfg.Data.Dir),
		zap.Int("ages", len(base.Pop0)),
		zap.Int("mort_years", rowsOf(base.Mort)))

	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return err
	}

	// 2. Run every scenario against its own copy of the baseline
	runner := NewScenarioRunner(base, cfg.Run.Workers, logger)
	results, err := runner.RunAll(cfg.ScenarioSpecs())
	if err != nil {
		return err
	}

	// 3. Write baseline and shocked death matrices
	if err := OutputDeathsToCSV(filepath.Join(cfg.Output.Dir, "deaths_baseline.csv"),
		results[0].Baseline.Deaths, dims.StartYear); err != nil {
		return err
	}
	for _, res := range results {
		path := filepath.Join(cfg.Output.Dir, "deaths_"+fileSlug(res.Spec.Name)+".csv")
		if err := OutputDeathsToCSV(path, res.Shock.Deaths, dims.StartYear); err != nil {
			return err
		}

		// 4. Shape the shocked demographics for the equilibrium solver
		in, err := BuildSolverInputs(res.Shocked, res.Shock, dims)
		if err != nil {
			return err
		}
		solverPath := filepath.Join(cfg.Output.Dir, "solver_"+fileSlug(res.Spec.Name)+".csv")
		if err := OutputSolverInputsToCSV(solverPath, in, dims.StartYear); err != nil {
			return err
		}
		logger.Debug("solver inputs written",
			zap.String("scenario", res.Spec.Name),
			zap.String("path", solverPath),
			zap.Int("rate_rows", rowsOf(in.Mort)),
			zap.Int("pop_rows", rowsOf(in.Pop)))

		PrintCalibration(res.Spec.Name, res.Calibration)
		PrintScenarioSummary(res, dims.StartYear, 10)
	}

	if err := OutputExcessDeathsToCSV(filepath.Join(cfg.Output.Dir, "excess_deaths.csv"), results, dims.StartYear); err != nil {
		return err
	}
	if err := OutputCalibrationsToCSV(filepath.Join(cfg.Output.Dir, "calibration.csv"), results); err != nil {
		return err
	}

	summary := NewRunSummary(runID, dims.StartYear, results)
	if err := OutputSummaryToYAML(filepath.Join(cfg.Output.Dir, "summary.yaml"), summary); err != nil {
		return err
	}

	// 5. Productivity losses for the lowest ability groups
	if err := writeProductivity(dims); err != nil {
		return err
	}

	logger.Info("results written", zap.String("dir", cfg.Output.Dir), zap.Int("scenarios", len(results)))
	return nil
}

func calibrateScenarios(cmd *cobra.Command, args []string) error {
	base, err := loadBaseline(CSVRateSource{Dir: cfg.Data.Dir}, cfg.Dimensions())
	if err != nil {
		return err
	}
	runner := NewScenarioRunner(base, 1, logger)
	for _, spec := range cfg.ScenarioSpecs() {
		cal, err := runner.Calibrate(spec)
		if err != nil {
			return err
		}
		logger.Debug("scale calibrated", zap.String("scenario", spec.Name), zap.Float64("scale", cal.Scale))
		PrintCalibration(spec.Name, cal)
	}
	return nil
}

// writeProductivity applies the adjustment table to the ability matrix, if one
// is configured, and writes the adjusted path.
func writeProductivity(dims Dimensions) error {
	table, err := cfg.AdjustmentTable()
	if err != nil {
		return err
	}
	if cfg.Data.AbilityFile == "" {
		logger.Debug("no ability file, skipping productivity adjustment")
		return nil
	}
	ability, _, err := LoadCSVMatrix(cfg.Data.AbilityFile)
	if err != nil {
		return err
	}
	e := make([]*mat.Dense, dims.T)
	for t := range e {
		e[t] = ability
	}
	adjusted, err := ApplyProductivity(e, dims.StartYear, table, cfg.Productivity.Groups)
	if err != nil {
		return err
	}
	last, _ := table.LastYear()
	logger.Info("productivity adjusted",
		zap.Int("groups", cfg.Productivity.Groups),
		zap.Int("table_years", table.Len()),
		zap.Int("held_from", last))
	return OutputProductivityToCSV(filepath.Join(cfg.Output.Dir, "productivity.csv"), adjusted, dims.StartYear)
}

// fileSlug turns a scenario name into a file name fragment.
func fileSlug(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), "_"))
}
