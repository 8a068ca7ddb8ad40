// Project: Cost of Disease - Demographic Effects of Reduced Foreign Health Aid
// Date: Oct 14th 2026

package main

import (
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Reference configuration
const (
	DefaultPhaseYears   = 5
	DefaultHorizon      = 200
	DefaultExcessDeaths = 202_693
)

// ScenarioRunner runs shock scenarios against one baseline schedule.
// Each scenario gets its own copy of the baseline, so runs are independent.
type ScenarioRunner struct {
	Base    *RateSchedule
	Workers int
	Logger  *zap.Logger
}

// NewScenarioRunner returns a runner over base. workers <= 0 uses NumCPU and a
// nil logger discards output.
func NewScenarioRunner(base *RateSchedule, workers int, logger *zap.Logger) *ScenarioRunner {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScenarioRunner{Base: base, Workers: workers, Logger: logger}
}

// withDefaults fills unset fields with the reference configuration.
func (s ScenarioSpec) withDefaults() ScenarioSpec {
	if s.PhaseYears == 0 {
		s.PhaseYears = DefaultPhaseYears
	}
	if s.Horizon == 0 {
		s.Horizon = DefaultHorizon
	}
	return s
}

// Validate checks a scenario after defaults are applied.
func (s ScenarioSpec) Validate() error {
	if math.IsNaN(s.ExcessDeaths) || math.IsInf(s.ExcessDeaths, 0) || s.ExcessDeaths < 0 {
		return fmt.Errorf("scenario %q: target %v: %w", s.Name, s.ExcessDeaths, ErrNegativeTarget)
	}
	if g := s.InitialGuess; g != nil && (math.IsNaN(*g) || math.IsInf(*g, 0)) {
		return fmt.Errorf("scenario %q: initial guess %v: %w", s.Name, *g, ErrNonFinite)
	}
	if s.PhaseYears < 1 {
		return fmt.Errorf("scenario %q: %d phase years: %w", s.Name, s.PhaseYears, ErrBadPhaseLength)
	}
	if s.Horizon < 1 {
		return fmt.Errorf("scenario %q: horizon %d: %w", s.Name, s.Horizon, ErrBadHorizon)
	}
	if s.ReferenceYear < 0 || s.ReferenceYear >= s.Horizon {
		return fmt.Errorf("scenario %q: reference year %d outside [0, %d): %w",
			s.Name, s.ReferenceYear, s.Horizon, ErrBadHorizon)
	}
	return nil
}

// RunScenario runs one scenario without logging.
func RunScenario(base *RateSchedule, spec ScenarioSpec) (*ScenarioResult, error) {
	return NewScenarioRunner(base, 1, nil).Run(spec)
}

// Run projects the baseline, calibrates the shock against the first shock
// year, phases it in and projects the shocked schedule over the same horizon.
func (r *ScenarioRunner) Run(spec ScenarioSpec) (*ScenarioResult, error) {
	spec = spec.withDefaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := r.Base.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %q: %w", spec.Name, err)
	}
	base := r.Base.Clone()
	log := r.Logger.With(zap.String("scenario", spec.Name))

	// 1. Baseline trajectory
	baseline, err := ProjectSchedule(base, spec.Horizon)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: baseline: %w", spec.Name, err)
	}
	log.Debug("baseline projected", zap.Int("horizon", spec.Horizon))

	// 2. Calibrate against the first shock year
	cal, err := calibrateScenario(base, baseline, spec)
	if err != nil {
		return nil, err
	}
	log.Info("scale calibrated",
		zap.Float64("scale", cal.Scale),
		zap.Float64("target", cal.Target),
		zap.Float64("residual", cal.Residual),
		zap.Bool("saturated", cal.Saturated),
		zap.String("status", cal.Status.String()))
	if cal.Saturated {
		log.Warn("excess deaths target exceeds clamp ceiling",
			zap.Float64("max_excess", cal.MaxExcess))
	}

	// 3. Phase in and project
	shocked, err := ShockSchedule(base, cal.Scale, spec.PhaseYears)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", spec.Name, err)
	}
	shock, err := ProjectSchedule(shocked, spec.Horizon)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: shocked: %w", spec.Name, err)
	}

	excess := ExcessDeathsByYear(shock.Deaths, baseline.Deaths)
	cumulative := make([]float64, len(excess))
	floats.CumSum(cumulative, excess)

	log.Debug("scenario done", zap.Float64("cumulative_excess", cumulative[len(cumulative)-1]))

	return &ScenarioResult{
		Spec:         spec,
		Calibration:  cal,
		Shocked:      shocked,
		Baseline:     baseline,
		Shock:        shock,
		ExcessByYear: excess,
		Cumulative:   cumulative,
	}, nil
}

// calibrateScenario fits the scale to year 0 of base. The current-deaths term
// comes from row spec.ReferenceYear of the baseline deaths when it is past 0.
func calibrateScenario(base *RateSchedule, baseline *Projection, spec ScenarioSpec) (*Calibration, error) {
	opts := CalibrationOptions{InitialGuess: spec.InitialGuess}
	if spec.ReferenceYear > 0 {
		current := floats.Sum(baseline.Deaths.RawRowView(spec.ReferenceYear))
		opts.CurrentDeaths = &current
	}
	cal, err := CalibrateScale(base.Pop0, base.Mort.RawRowView(0), spec.ExcessDeaths, opts)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", spec.Name, err)
	}
	return cal, nil
}

// Calibrate fits the scale factor for spec without projecting the shock.
func (r *ScenarioRunner) Calibrate(spec ScenarioSpec) (*Calibration, error) {
	spec = spec.withDefaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := r.Base.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %q: %w", spec.Name, err)
	}
	baseline, err := ProjectSchedule(r.Base, spec.ReferenceYear+1)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: baseline: %w", spec.Name, err)
	}
	return calibrateScenario(r.Base, baseline, spec)
}

// scenarioOutcome carries one worker result back to the collector.
type scenarioOutcome struct {
	idx    int
	result *ScenarioResult
	err    error
}

// RunAll runs independent scenarios in a worker pool.
// Results come back in the order of specs; the first error in that order is returned.
func (r *ScenarioRunner) RunAll(specs []ScenarioSpec) ([]*ScenarioResult, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	numWorkers := r.Workers
	if numWorkers > len(specs) {
		numWorkers = len(specs)
	}

	jobs := make(chan int)
	resultsCh := make(chan scenarioOutcome, len(specs))

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	worker := func() {
		defer wg.Done()
		for i := range jobs {
			res, err := r.Run(specs[i])
			resultsCh <- scenarioOutcome{idx: i, result: res, err: err}
		}
	}

	for w := 0; w < numWorkers; w++ {
		go worker()
	}

	go func() {
		for i := range specs {
			jobs <- i
		}
		close(jobs)
	}()

	results := make([]*ScenarioResult, len(specs))
	errs := make([]error, len(specs))
	for i := 0; i < len(specs); i++ {
		out := <-resultsCh
		results[out.idx] = out.result
		errs[out.idx] = out.err
	}

	wg.Wait()
	close(resultsCh)

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// ExcessDeathsByYear returns total shocked minus total baseline deaths per year.
// Both matrices must have the same number of rows.
func ExcessDeathsByYear(shocked, baseline *mat.Dense) []float64 {
	out := RowTotals(shocked)
	floats.Sub(out, RowTotals(baseline))
	return out
}

// ============================================================================
// PRODUCTIVITY ADJUSTMENTS
// ============================================================================

// NewAdjustmentTable builds a table from year -> value pairs.
func NewAdjustmentTable(values map[int]float64) *AdjustmentTable {
	t := &AdjustmentTable{
		years:  make([]int, 0, len(values)),
		values: make([]float64, 0, len(values)),
	}
	for y := range values {
		t.years = append(t.years, y)
	}
	sort.Ints(t.years)
	for _, y := range t.years {
		t.values = append(t.values, values[y])
	}
	return t
}

// Len is the number of stored years.
func (t *AdjustmentTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.years)
}

// LastYear returns the largest stored year.
func (t *AdjustmentTable) LastYear() (int, bool) {
	if t.Len() == 0 {
		return 0, false
	}
	return t.years[len(t.years)-1], true
}

// At returns the adjustment for year. Years with no entry fall back to the
// value at the largest stored year. An empty table yields 0.
func (t *AdjustmentTable) At(year int) float64 {
	n := t.Len()
	if n == 0 {
		return 0
	}
	i := sort.SearchInts(t.years, year)
	if i < n && t.years[i] == year {
		return t.values[i]
	}
	return t.values[n-1]
}

// ReferenceProductivityAdjustments are the losses for the bottom 70% of
// earners, interpolated between four scenario values, for 2025-2040.
func ReferenceProductivityAdjustments() *AdjustmentTable {
	return NewAdjustmentTable(map[int]float64{
		2025: -0.000018,
		2026: -0.00007,
		2027: -0.000122,
		2028: -0.000174,
		2029: -0.000226,
		2030: -0.000278,
		2031: -0.000401,
		2032: -0.000524,
		2033: -0.000647,
		2034: -0.00077,
		2035: -0.000893,
		2036: -0.000957,
		2037: -0.001021,
		2038: -0.001085,
		2039: -0.00115,
		2040: -0.001214,
	})
}

// ApplyProductivity scales the first groups ability columns of each year's
// S x J productivity matrix by (1 + table.At(startYear+t)).
// Returns new matrices; e is left unchanged.
func ApplyProductivity(e []*mat.Dense, startYear int, table *AdjustmentTable, groups int) ([]*mat.Dense, error) {
	out := make([]*mat.Dense, len(e))
	for t, et := range e {
		if rowsOf(et) == 0 {
			return nil, fmt.Errorf("productivity year %d: %w", t, ErrEmptySchedule)
		}
		s, j := et.Dims()
		if groups < 0 || groups > j {
			return nil, fmt.Errorf("productivity year %d: %d groups of %d: %w", t, groups, j, ErrDimensionMismatch)
		}
		factor := 1 + table.At(startYear+t)
		adj := mat.DenseCopyOf(et)
		for a := 0; a < s; a++ {
			floats.Scale(factor, adj.RawRowView(a)[:groups])
		}
		out[t] = adj
	}
	return out, nil
}

// ============================================================================
// SOLVER HAND-OFF
// ============================================================================

// extendRows tail-holds m to exactly n rows.
func extendRows(m *mat.Dense, n int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(n, c, nil)
	for y := 0; y < n; y++ {
		out.SetRow(y, holdRow(m, y))
	}
	return out
}

// extendSeries tail-holds v to exactly n entries.
func extendSeries(v []float64, n int) []float64 {
	out := make([]float64, n)
	for y := range out {
		out[y] = holdAt(v, y)
	}
	return out
}

// BuildSolverInputs reshapes a schedule and its projection into the arrays the
// equilibrium solver's population constructor expects: rate paths of T+S rows
// and a T-year population path split at the working-age boundary E.
func BuildSolverInputs(rs *RateSchedule, proj *Projection, dims Dimensions) (*SolverInputs, error) {
	if dims.S < 1 || dims.E < 0 || dims.T < 1 {
		return nil, fmt.Errorf("solver inputs: dimensions %+v: %w", dims, ErrDimensionMismatch)
	}
	if err := rs.Validate(); err != nil {
		return nil, fmt.Errorf("solver inputs: %w", err)
	}
	ages := dims.Ages()
	if len(rs.Pop0) != ages {
		return nil, fmt.Errorf("solver inputs: schedule has %d ages, S+E = %d: %w",
			len(rs.Pop0), ages, ErrDimensionMismatch)
	}
	if proj == nil || rowsOf(proj.Pop) == 0 {
		return nil, fmt.Errorf("solver inputs: projection: %w", ErrEmptySchedule)
	}
	if _, c := proj.Pop.Dims(); c != ages {
		return nil, fmt.Errorf("solver inputs: projection has %d ages, S+E = %d: %w",
			c, ages, ErrDimensionMismatch)
	}

	n := dims.T + dims.S
	pop := extendRows(proj.Pop, dims.T)
	working := mat.DenseCopyOf(pop.Slice(0, dims.T, dims.E, ages))

	return &SolverInputs{
		Dims:           dims,
		Fert:           extendRows(rs.Fert, n),
		Mort:           extendRows(rs.Mort, n),
		Imm:            extendRows(rs.Imm, n),
		InfMort:        extendSeries(rs.InfMort, n),
		Pop:            pop,
		WorkingPop:     working,
		WorkingPopDist: append([]float64(nil), rs.Pop0[dims.E:]...),
		ChildPopDist:   append([]float64(nil), rs.Pop0[:dims.E]...),
	}, nil
}
