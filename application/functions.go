// Project: Cost of Disease - Demographic Effects of Reduced Foreign Health Aid
// Date: Oct 14th 2026

package main

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

const (
	defaultInitialGuess  = 0.01
	defaultMaxIterations = 1000
	maxBisections        = 200
)

// ============================================================================
// VALIDATION
// ============================================================================

// checkProbabilities returns ErrRateOutOfRange if any entry is outside [0, 1].
func checkProbabilities(name string, v []float64) error {
	for a, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%s[%d] = %v: %w", name, a, x, ErrNonFinite)
		}
		if x < 0 || x > 1 {
			return fmt.Errorf("%s[%d] = %v: %w", name, a, x, ErrRateOutOfRange)
		}
	}
	return nil
}

// checkNonNegative returns errNeg if any entry is below zero.
func checkNonNegative(name string, v []float64, errNeg error) error {
	for a, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%s[%d] = %v: %w", name, a, x, ErrNonFinite)
		}
		if x < 0 {
			return fmt.Errorf("%s[%d] = %v: %w", name, a, x, errNeg)
		}
	}
	return nil
}

func checkFinite(name string, v []float64) error {
	for a, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%s[%d] = %v: %w", name, a, x, ErrNonFinite)
		}
	}
	return nil
}

// rowsOf returns the number of stored rows, 0 for a nil or empty matrix.
func rowsOf(m *mat.Dense) int {
	if m == nil || m.IsEmpty() {
		return 0
	}
	r, _ := m.Dims()
	return r
}

// checkMatrix validates the shape of a years x ages schedule and applies
// check to every row.
func checkMatrix(name string, m *mat.Dense, ages int, check func(string, []float64) error) error {
	if rowsOf(m) == 0 {
		return fmt.Errorf("%s: %w", name, ErrEmptySchedule)
	}
	r, c := m.Dims()
	if c != ages {
		return fmt.Errorf("%s has %d ages, want %d: %w", name, c, ages, ErrDimensionMismatch)
	}
	for y := 0; y < r; y++ {
		if err := check(fmt.Sprintf("%s[%d]", name, y), m.RawRowView(y)); err != nil {
			return err
		}
	}
	return nil
}

func validateProjectionInputs(pop0 []float64, fert, mort *mat.Dense, infmort []float64, imm *mat.Dense, horizon int) error {
	if horizon < 1 {
		return fmt.Errorf("horizon %d: %w", horizon, ErrBadHorizon)
	}
	if len(pop0) == 0 {
		return fmt.Errorf("initial population: %w", ErrEmptySchedule)
	}
	if len(infmort) == 0 {
		return fmt.Errorf("infant mortality: %w", ErrEmptySchedule)
	}
	ages := len(pop0)
	if err := checkNonNegative("population", pop0, ErrNegativePopulation); err != nil {
		return err
	}
	fertCheck := func(name string, v []float64) error { return checkNonNegative(name, v, ErrNegativeRate) }
	if err := checkMatrix("fertility", fert, ages, fertCheck); err != nil {
		return err
	}
	if err := checkMatrix("mortality", mort, ages, checkProbabilities); err != nil {
		return err
	}
	if err := checkMatrix("immigration", imm, ages, checkFinite); err != nil {
		return err
	}
	return checkProbabilities("infant mortality", infmort)
}

// Validate checks that a schedule is fit for calibration and projection.
func (rs *RateSchedule) Validate() error {
	if rs == nil {
		return fmt.Errorf("rate schedule: %w", ErrEmptySchedule)
	}
	return validateProjectionInputs(rs.Pop0, rs.Fert, rs.Mort, rs.InfMort, rs.Imm, 1)
}

// Clone returns a deep copy so scenarios never share mutable arrays.
func (rs *RateSchedule) Clone() *RateSchedule {
	return &RateSchedule{
		Fert:    mat.DenseCopyOf(rs.Fert),
		Mort:    mat.DenseCopyOf(rs.Mort),
		Imm:     mat.DenseCopyOf(rs.Imm),
		InfMort: append([]float64(nil), rs.InfMort...),
		Pop0:    append([]float64(nil), rs.Pop0...),
	}
}

// ============================================================================
// CALIBRATION
// ============================================================================

// shockedDeaths is sum_a pop[a] * min(mort[a]*(1+scale), 1).
func shockedDeaths(scale float64, pop, mort []float64) float64 {
	total := 0.0
	for a, p := range pop {
		total += p * math.Min(mort[a]*(1+scale), 1.0)
	}
	return total
}

// excessDeathObjective is the squared distance between the excess deaths a
// scale factor produces and the target.
func excessDeathObjective(scale float64, pop, mort []float64, currentDeaths, target float64) float64 {
	d := shockedDeaths(scale, pop, mort) - currentDeaths - target
	return d * d
}

// saturatingScale is the smallest scale that clamps every positive rate at 1.
// ok is false when no rate is positive.
func saturatingScale(mort []float64) (scale float64, ok bool) {
	minRate := math.Inf(1)
	for _, m := range mort {
		if m > 0 && m < minRate {
			minRate = m
		}
	}
	if math.IsInf(minRate, 1) {
		return 0, false
	}
	return 1/minRate - 1, true
}

// CalibrateScale finds the multiplier s such that scaling mort by (1+s),
// clamped at 1, raises deaths in pop by excessDeaths.
// pop: head counts by age
// mort: mortality rates by age in the same year
// Returns the fitted scale and the residual diagnostics. A target beyond what
// full clamping can produce is not an error; Saturated is set and Scale is the
// clamp-saturating factor.
func CalibrateScale(pop, mort []float64, excessDeaths float64, opts CalibrationOptions) (*Calibration, error) {
	if len(pop) == 0 {
		return nil, fmt.Errorf("calibrate scale: population: %w", ErrEmptySchedule)
	}
	if len(pop) != len(mort) {
		return nil, fmt.Errorf("calibrate scale: population has %d ages, mortality %d: %w",
			len(pop), len(mort), ErrDimensionMismatch)
	}
	if math.IsNaN(excessDeaths) || math.IsInf(excessDeaths, 0) || excessDeaths < 0 {
		return nil, fmt.Errorf("calibrate scale: target %v: %w", excessDeaths, ErrNegativeTarget)
	}
	if err := checkNonNegative("population", pop, ErrNegativePopulation); err != nil {
		return nil, fmt.Errorf("calibrate scale: %w", err)
	}
	if err := checkProbabilities("mortality", mort); err != nil {
		return nil, fmt.Errorf("calibrate scale: %w", err)
	}

	current := shockedDeaths(0, pop, mort)
	if opts.CurrentDeaths != nil {
		current = *opts.CurrentDeaths
		if math.IsNaN(current) || math.IsInf(current, 0) {
			return nil, fmt.Errorf("calibrate scale: current deaths %v: %w", current, ErrNonFinite)
		}
	}

	// The gap is nondecreasing on [-1, satScale] and flat past satScale.
	satScale, hasRate := saturatingScale(mort)
	bound := func(s float64) float64 {
		s = math.Max(s, -1)
		if hasRate {
			s = math.Min(s, satScale)
		}
		return s
	}

	guess := defaultInitialGuess
	if opts.InitialGuess != nil {
		guess = *opts.InitialGuess
		if math.IsNaN(guess) || math.IsInf(guess, 0) {
			return nil, fmt.Errorf("calibrate scale: initial guess %v: %w", guess, ErrNonFinite)
		}
	}
	guess = bound(guess)
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return excessDeathObjective(bound(x[0]), pop, mort, current, excessDeaths)
		},
	}
	settings := &optimize.Settings{
		MajorIterations: maxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Relative:   1e-12,
			Iterations: 50,
		},
	}

	result, err := optimize.Minimize(problem, []float64{guess}, settings, &optimize.NelderMead{})
	if result == nil {
		return nil, fmt.Errorf("calibrate scale: %w", err)
	}

	scale := bound(result.X[0])

	// Entries with zero mortality can never contribute excess deaths.
	saturatedDeaths := 0.0
	for a, m := range mort {
		if m > 0 {
			saturatedDeaths += pop[a]
		}
	}
	maxExcess := saturatedDeaths - current
	saturated := excessDeaths > maxExcess
	switch {
	case saturated && hasRate:
		scale = satScale
	case hasRate:
		gap := func(s float64) float64 { return shockedDeaths(s, pop, mort) - current - excessDeaths }
		tol := 1e-12 * math.Max(1, math.Abs(current)+excessDeaths)
		scale = refineScale(scale, -1, satScale, tol, gap)
	}

	achieved := shockedDeaths(scale, pop, mort) - current
	residual := achieved - excessDeaths

	cal := &Calibration{
		Scale:      scale,
		Target:     excessDeaths,
		Achieved:   achieved,
		Residual:   residual,
		Objective:  residual * residual,
		MaxExcess:  maxExcess,
		Saturated:  saturated,
		Iterations: result.MajorIterations,
		Status:     result.Status,
	}
	return cal, nil
}

// refineScale bisects the nondecreasing gap on [lo, hi] from the minimizer's
// answer until |gap| <= tol. scale is returned unchanged when it is already
// within tol or the bracket holds no root.
func refineScale(scale, lo, hi, tol float64, gap func(float64) float64) float64 {
	g := gap(scale)
	if math.Abs(g) <= tol {
		return scale
	}
	if g > 0 {
		hi = scale
	} else {
		lo = scale
	}
	glo, ghi := gap(lo), gap(hi)
	if glo > 0 || ghi < 0 {
		return scale
	}
	for i := 0; i < maxBisections; i++ {
		mid := lo + (hi-lo)/2
		if mid <= lo || mid >= hi {
			break
		}
		gm := gap(mid)
		if math.Abs(gm) <= tol {
			return mid
		}
		if gm > 0 {
			hi, ghi = mid, gm
		} else {
			lo, glo = mid, gm
		}
	}
	if -glo < ghi {
		return lo
	}
	return hi
}

// ============================================================================
// PHASE-IN
// ============================================================================

// PhaseWeights returns the shock fractions (i+1)/n for i = 0..n-1.
// The final weight is exactly 1.
func PhaseWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = float64(i+1) / float64(n)
	}
	if n > 0 {
		w[n-1] = 1
	}
	return w
}

// PhaseSchedule ramps a calibrated shock in over nYears.
// Row i of the returned matrix is min(mort*(1+scale*(i+1)/nYears), 1), and the
// infant mortality path follows the same ramp.
func PhaseSchedule(mort []float64, infmort, scale float64, nYears int) (*mat.Dense, []float64, error) {
	if nYears < 1 {
		return nil, nil, fmt.Errorf("phase schedule: %d years: %w", nYears, ErrBadPhaseLength)
	}
	if len(mort) == 0 {
		return nil, nil, fmt.Errorf("phase schedule: mortality: %w", ErrEmptySchedule)
	}
	if err := checkProbabilities("mortality", mort); err != nil {
		return nil, nil, fmt.Errorf("phase schedule: %w", err)
	}
	if err := checkProbabilities("infant mortality", []float64{infmort}); err != nil {
		return nil, nil, fmt.Errorf("phase schedule: %w", err)
	}

	out := mat.NewDense(nYears, len(mort), nil)
	inf := make([]float64, nYears)
	for i, w := range PhaseWeights(nYears) {
		row := out.RawRowView(i)
		for a, m := range mort {
			row[a] = math.Min(m*(1+scale*w), 1.0)
		}
		inf[i] = math.Min(infmort*(1+scale*w), 1.0)
	}
	return out, inf, nil
}

// broadcastRow repeats row n times as an n x len(row) matrix.
func broadcastRow(row []float64, n int) *mat.Dense {
	out := mat.NewDense(n, len(row), nil)
	for i := 0; i < n; i++ {
		out.SetRow(i, row)
	}
	return out
}

// ShockSchedule builds a fresh shocked schedule from base: mortality and infant
// mortality are phased in from their year-0 values, fertility and immigration
// hold their year-0 profile over the same nYears.
func ShockSchedule(base *RateSchedule, scale float64, nYears int) (*RateSchedule, error) {
	if err := base.Validate(); err != nil {
		return nil, fmt.Errorf("shock schedule: %w", err)
	}

	mort, inf, err := PhaseSchedule(base.Mort.RawRowView(0), base.InfMort[0], scale, nYears)
	if err != nil {
		return nil, err
	}

	return &RateSchedule{
		Fert:    broadcastRow(base.Fert.RawRowView(0), nYears),
		Mort:    mort,
		Imm:     broadcastRow(base.Imm.RawRowView(0), nYears),
		InfMort: inf,
		Pop0:    append([]float64(nil), base.Pop0...),
	}, nil
}

// ============================================================================
// COHORT PROJECTION
// ============================================================================

// RegimeAt reports whether year y still reads an explicit row of a schedule
// with scheduleLen stored rows.
func RegimeAt(y, scheduleLen int) Regime {
	if y < scheduleLen {
		return Phased
	}
	return Steady
}

// Regime reports the projector state in year y.
func (p *Projection) Regime(y int) Regime {
	return RegimeAt(y, p.SteadyFrom)
}

// holdRow returns row y of m, or its last row once y runs past the end.
func holdRow(m *mat.Dense, y int) []float64 {
	r, _ := m.Dims()
	if y >= r {
		y = r - 1
	}
	return m.RawRowView(y)
}

// holdAt is holdRow for a per-year scalar series.
func holdAt(v []float64, y int) float64 {
	if y >= len(v) {
		y = len(v) - 1
	}
	return v[y]
}

// Project runs the cohort-component recursion for horizon years.
// pop0: initial head counts by age
// fert, mort, imm: years x ages schedules, each tail-held past its last row
// infmort: per-year infant mortality, also tail-held
// Returns deaths (horizon x ages) and the population path (horizon+1 x ages).
// The oldest cohort has no older slot; its survivors leave the model.
func Project(pop0 []float64, fert, mort *mat.Dense, infmort []float64, imm *mat.Dense, horizon int) (*Projection, error) {
	if err := validateProjectionInputs(pop0, fert, mort, infmort, imm, horizon); err != nil {
		return nil, fmt.Errorf("project: %w", err)
	}

	ages := len(pop0)
	deaths := mat.NewDense(horizon, ages, nil)
	pops := mat.NewDense(horizon+1, ages, nil)
	pops.SetRow(0, pop0)

	for y := 0; y < horizon; y++ {
		cur := pops.RawRowView(y)
		next := pops.RawRowView(y + 1)

		m := holdRow(mort, y)
		f := holdRow(fert, y)
		im := holdRow(imm, y)
		inf := holdAt(infmort, y)

		floats.MulTo(deaths.RawRowView(y), cur, m)

		// survivors and immigrants age one year
		for a := 0; a < ages-1; a++ {
			next[a+1] = cur[a]*(1-m[a]) + cur[a]*im[a]
		}
		next[0] = floats.Dot(cur, f) * (1 - inf)
	}

	steadyFrom := len(infmort)
	for _, m := range []*mat.Dense{fert, mort, imm} {
		if r := rowsOf(m); r > steadyFrom {
			steadyFrom = r
		}
	}

	return &Projection{Deaths: deaths, Pop: pops, SteadyFrom: steadyFrom}, nil
}

// ProjectDeaths returns only the horizon x ages death matrix of Project.
func ProjectDeaths(pop0 []float64, fert, mort *mat.Dense, infmort []float64, imm *mat.Dense, horizon int) (*mat.Dense, error) {
	p, err := Project(pop0, fert, mort, infmort, imm, horizon)
	if err != nil {
		return nil, err
	}
	return p.Deaths, nil
}

// ProjectSchedule projects a full RateSchedule from its own Pop0.
func ProjectSchedule(rs *RateSchedule, horizon int) (*Projection, error) {
	if rs == nil {
		return nil, fmt.Errorf("project: %w", ErrEmptySchedule)
	}
	return Project(rs.Pop0, rs.Fert, rs.Mort, rs.InfMort, rs.Imm, horizon)
}

// RowTotals sums each row of m.
func RowTotals(m *mat.Dense) []float64 {
	r, _ := m.Dims()
	out := make([]float64, r)
	for i := 0; i < r; i++ {
		out[i] = floats.Sum(m.RawRowView(i))
	}
	return out
}

// TotalPopulation returns the head count in each projected year.
func (p *Projection) TotalPopulation() []float64 {
	return RowTotals(p.Pop)
}
