// Project: Cost of Disease - Demographic Effects of Reduced Foreign Health Aid
// Date: Oct 14th 2026

package main

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Dimensions are the cohort constants shared with the equilibrium solver.
type Dimensions struct {
	// Working-age cohorts
	S int
	// Pre-economic cohorts (children)
	E int
	// Solver horizon in years
	T int
	// First model year
	StartYear int
}

// Ages returns the total number of model ages, S+E.
func (d Dimensions) Ages() int { return d.S + d.E }

// RateSchedule holds the baseline demographic inputs for one country.
// Fert, Mort and Imm are years x ages; row y is the age profile in year y.
// InfMort carries one scalar per year and may have its own length.
type RateSchedule struct {
	Fert    *mat.Dense
	Mort    *mat.Dense
	Imm     *mat.Dense
	InfMort []float64

	// Head counts by age in the first model year
	Pop0 []float64
}

// RateSource supplies baseline schedules, estimated or from a fixed dataset.
type RateSource interface {
	Load() (*RateSchedule, error)
}

// CalibrationOptions tunes the scale-factor search.
type CalibrationOptions struct {
	// Starting point for the minimizer; nil uses the default of 0.01
	InitialGuess *float64

	// Baseline deaths the excess is measured against. When nil the baseline
	// is the same year as the shock: sum(pop * mort).
	CurrentDeaths *float64

	// Cap on minimizer major iterations; 0 uses the default
	MaxIterations int
}

// Calibration is the outcome of fitting a mortality scale factor.
type Calibration struct {
	// Multiplier s applied as mort * (1+s)
	Scale float64

	// Target and achieved excess deaths in the reference year
	Target   float64
	Achieved float64

	// Achieved - Target
	Residual float64

	// Squared residual at Scale
	Objective float64

	// Largest excess attainable with every positive rate clamped at 1
	MaxExcess float64

	// True if Target exceeds MaxExcess
	Saturated bool

	Iterations int
	Status     optimize.Status
}

// Regime is the state of the cohort projector in a given year.
type Regime int

const (
	// Rates still come from explicit schedule rows
	Phased Regime = iota
	// Past the last stored row; that row is held constant
	Steady
)

func (r Regime) String() string {
	switch r {
	case Phased:
		return "phased"
	case Steady:
		return "steady"
	}
	return "unknown"
}

// Projection is the output of the cohort-component recursion.
type Projection struct {
	// Horizon x ages; row y counts deaths between year y and y+1
	Deaths *mat.Dense

	// (Horizon+1) x ages; row 0 is the initial distribution
	Pop *mat.Dense

	// First year in which every input schedule is tail-held
	SteadyFrom int
}

// ScenarioSpec describes one mortality-shock scenario.
type ScenarioSpec struct {
	Name string

	// Additional deaths in the first shock year
	ExcessDeaths float64

	// Years over which the shock ramps in
	PhaseYears int

	// Years to project
	Horizon int

	// Baseline projection year whose deaths count as "current deaths" in
	// the calibration objective. 0 is the shock year itself.
	ReferenceYear int

	// Minimizer start point, nil for the default
	InitialGuess *float64
}

// ScenarioResult bundles the baseline and shocked trajectories for one scenario.
type ScenarioResult struct {
	Spec        ScenarioSpec
	Calibration *Calibration

	// Fresh schedule built from the baseline plus the calibrated shock
	Shocked *RateSchedule

	Baseline *Projection
	Shock    *Projection

	// Shocked minus baseline total deaths, per year and running total
	ExcessByYear []float64
	Cumulative   []float64
}

// AdjustmentTable is a sparse year -> value table. Any year without an entry,
// in particular every year past the largest key, reuses the value stored at
// the largest key.
type AdjustmentTable struct {
	years  []int
	values []float64
}

// SolverInputs are the demographic arrays handed to the population-object
// constructor of the equilibrium solver.
type SolverInputs struct {
	Dims Dimensions

	// (T+S) x (S+E) rate paths, tail-held past their stored rows
	Fert *mat.Dense
	Mort *mat.Dense
	Imm  *mat.Dense

	// T+S infant mortality rates
	InfMort []float64

	// T x (S+E) population path and T x S working-age slice
	Pop        *mat.Dense
	WorkingPop *mat.Dense

	// Year-0 working-age (E..E+S-1) and child (0..E-1) head counts
	WorkingPopDist []float64
	ChildPopDist   []float64
}

// RunSummary is the manifest written next to the CSV results of one run.
type RunSummary struct {
	RunID     string            `yaml:"run_id"`
	StartYear int               `yaml:"start_year"`
	Scenarios []ScenarioSummary `yaml:"scenarios"`
}

// ScenarioSummary is the calibration and headline outcome of one scenario.
type ScenarioSummary struct {
	Name             string  `yaml:"name"`
	ExcessDeaths     float64 `yaml:"excess_deaths"`
	PhaseYears       int     `yaml:"phase_years"`
	Horizon          int     `yaml:"horizon"`
	ReferenceYear    int     `yaml:"reference_year"`
	Scale            float64 `yaml:"scale"`
	Achieved         float64 `yaml:"achieved"`
	Residual         float64 `yaml:"residual"`
	Saturated        bool    `yaml:"saturated"`
	Status           string  `yaml:"status"`
	CumulativeExcess float64 `yaml:"cumulative_excess"`
}
