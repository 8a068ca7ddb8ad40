// Project: Cost of Disease - Demographic Effects of Reduced Foreign Health Aid
// Date: Oct 14th 2026

package main

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// testBaseline is a four-age schedule with 66 deaths in year 0.
func testBaseline() *RateSchedule {
	return &RateSchedule{
		Fert:    mat.NewDense(1, 4, []float64{0, 0.05, 0.03, 0}),
		Mort:    mat.NewDense(1, 4, []float64{0.01, 0.005, 0.02, 0.1}),
		Imm:     mat.NewDense(1, 4, []float64{0, 0, 0, 0}),
		InfMort: []float64{0.02},
		Pop0:    []float64{1000, 800, 600, 400},
	}
}

func TestRunScenario(t *testing.T) {
	base := testBaseline()
	before := base.Clone()

	res, err := RunScenario(base, ScenarioSpec{Name: "test", ExcessDeaths: 10, Horizon: 50})
	require.NoError(t, err)

	require.Equal(t, DefaultPhaseYears, res.Spec.PhaseYears)
	require.InDelta(t, 10.0/66.0, res.Calibration.Scale, 1e-4)
	require.False(t, res.Calibration.Saturated)

	r, c := res.Shock.Deaths.Dims()
	require.Equal(t, 50, r)
	require.Equal(t, 4, c)
	r, _ = res.Baseline.Deaths.Dims()
	require.Equal(t, 50, r)
	require.Len(t, res.ExcessByYear, 50)

	// the first phase-in year carries 1/N of the shock
	require.InDelta(t, 10.0/DefaultPhaseYears, res.ExcessByYear[0], 1e-3)
	running := 0.0
	want := make([]float64, len(res.ExcessByYear))
	for y, e := range res.ExcessByYear {
		running += e
		want[y] = running
	}
	if diff := cmp.Diff(want, res.Cumulative, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("cumulative excess mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t, DefaultPhaseYears, res.Shock.SteadyFrom)
	require.Equal(t, Steady, res.Shock.Regime(DefaultPhaseYears))

	require.True(t, mat.Equal(before.Mort, base.Mort))
	require.Equal(t, before.Pop0, base.Pop0)
}

func TestRunScenarioReferenceYear(t *testing.T) {
	base := testBaseline()
	spec := ScenarioSpec{Name: "ref", ExcessDeaths: 10, Horizon: 20, ReferenceYear: 3}

	res, err := RunScenario(base, spec)
	require.NoError(t, err)

	current := floats.Sum(res.Baseline.Deaths.RawRowView(3))
	got := shockedDeaths(res.Calibration.Scale, base.Pop0, base.Mort.RawRowView(0)) - current
	require.InDelta(t, 10, got, 1e-3)

	cal, err := NewScenarioRunner(base, 1, nil).Calibrate(spec)
	require.NoError(t, err)
	require.Equal(t, res.Calibration.Scale, cal.Scale)
}

func TestRunScenarioSaturatedLogsWarning(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	runner := NewScenarioRunner(testBaseline(), 1, zap.New(core))

	res, err := runner.Run(ScenarioSpec{Name: "huge", ExcessDeaths: 1e6, Horizon: 10})
	require.NoError(t, err)
	require.True(t, res.Calibration.Saturated)
	require.InDelta(t, 1/0.005-1, res.Calibration.Scale, 1e-9)

	require.Equal(t, 1, logs.FilterMessage("scale calibrated").Len())
	warn := logs.FilterMessage("excess deaths target exceeds clamp ceiling").All()
	require.Len(t, warn, 1)
	require.Equal(t, zapcore.WarnLevel, warn[0].Level)
	require.Equal(t, "huge", warn[0].ContextMap()["scenario"])
}

func TestScenarioSpecValidate(t *testing.T) {
	inf := math.Inf(-1)
	cases := []struct {
		name string
		spec ScenarioSpec
		want error
	}{
		{"negative target", ScenarioSpec{ExcessDeaths: -1}, ErrNegativeTarget},
		{"infinite target", ScenarioSpec{ExcessDeaths: math.Inf(1)}, ErrNegativeTarget},
		{"infinite guess", ScenarioSpec{InitialGuess: &inf}, ErrNonFinite},
		{"negative phase", ScenarioSpec{PhaseYears: -2}, ErrBadPhaseLength},
		{"negative horizon", ScenarioSpec{Horizon: -1}, ErrBadHorizon},
		{"reference past horizon", ScenarioSpec{Horizon: 10, ReferenceYear: 10}, ErrBadHorizon},
		{"negative reference", ScenarioSpec{ReferenceYear: -1}, ErrBadHorizon},
	}
	for _, tc := range cases {
		err := tc.spec.withDefaults().Validate()
		require.ErrorIs(t, err, tc.want, tc.name)
	}
	require.NoError(t, ScenarioSpec{Name: "ok"}.withDefaults().Validate())
}

func TestRunScenarioInitialGuess(t *testing.T) {
	zero := 0.0
	res, err := RunScenario(testBaseline(), ScenarioSpec{Name: "zero", Horizon: 5, InitialGuess: &zero})
	require.NoError(t, err)
	require.Equal(t, 0.0, res.Calibration.Scale)

	far := 1e4
	res, err = RunScenario(testBaseline(), ScenarioSpec{Name: "far", ExcessDeaths: 10, Horizon: 5, InitialGuess: &far})
	require.NoError(t, err)
	require.False(t, res.Calibration.Saturated)
	require.InDelta(t, 10, res.Calibration.Achieved, 1e-9)
}

func TestRunAll(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := NewScenarioRunner(testBaseline(), 2, nil)
	specs := []ScenarioSpec{
		{Name: "low", ExcessDeaths: 2, Horizon: 30},
		{Name: "median", ExcessDeaths: 10, Horizon: 30},
		{Name: "high", ExcessDeaths: 20, Horizon: 30, PhaseYears: 3},
	}

	results, err := runner.RunAll(specs)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, spec := range specs {
		require.Equal(t, spec.Name, results[i].Spec.Name)

		single, err := runner.Run(spec)
		require.NoError(t, err)
		require.Equal(t, single.Calibration.Scale, results[i].Calibration.Scale)
		if diff := cmp.Diff(single.ExcessByYear, results[i].ExcessByYear); diff != "" {
			t.Errorf("%s: pooled run differs from a single run (-single +pooled):\n%s", spec.Name, diff)
		}
	}
	require.Less(t, results[0].Calibration.Scale, results[1].Calibration.Scale)
	require.Less(t, results[1].Calibration.Scale, results[2].Calibration.Scale)
}

func TestRunAllError(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := NewScenarioRunner(testBaseline(), 4, nil)
	_, err := runner.RunAll([]ScenarioSpec{
		{Name: "ok", ExcessDeaths: 1, Horizon: 5},
		{Name: "bad", ExcessDeaths: 1, Horizon: 5, PhaseYears: -1},
	})
	require.ErrorIs(t, err, ErrBadPhaseLength)

	results, err := runner.RunAll(nil)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestAdjustmentTable(t *testing.T) {
	table := NewAdjustmentTable(map[int]float64{2025: -0.1, 2026: -0.2, 2030: -0.5})

	require.Equal(t, 3, table.Len())
	require.Equal(t, -0.1, table.At(2025))
	require.Equal(t, -0.2, table.At(2026))
	// missing years take the value at the largest stored year
	require.Equal(t, -0.5, table.At(2028))
	require.Equal(t, -0.5, table.At(2100))
	require.Equal(t, -0.5, table.At(2000))

	last, ok := table.LastYear()
	require.True(t, ok)
	require.Equal(t, 2030, last)

	empty := NewAdjustmentTable(nil)
	require.Equal(t, 0.0, empty.At(2025))
	_, ok = empty.LastYear()
	require.False(t, ok)

	ref := ReferenceProductivityAdjustments()
	require.Equal(t, 16, ref.Len())
	require.Equal(t, -0.000018, ref.At(2025))
	require.Equal(t, -0.001214, ref.At(2041))
}

func TestApplyProductivity(t *testing.T) {
	et := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	e := []*mat.Dense{et, et}
	table := NewAdjustmentTable(map[int]float64{2025: -0.5, 2026: -0.25})

	out, err := ApplyProductivity(e, 2025, table, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)

	require.Equal(t, []float64{0.5, 1, 3}, out[0].RawRowView(0))
	require.Equal(t, []float64{2, 2.5, 6}, out[0].RawRowView(1))
	require.Equal(t, []float64{0.75, 1.5, 3}, out[1].RawRowView(0))

	// input is untouched
	require.Equal(t, []float64{1, 2, 3}, et.RawRowView(0))

	_, err = ApplyProductivity(e, 2025, table, 4)
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestBuildSolverInputs(t *testing.T) {
	dims := Dimensions{S: 3, E: 1, T: 5, StartYear: 2025}
	res, err := RunScenario(testBaseline(), ScenarioSpec{Name: "solver", ExcessDeaths: 5, Horizon: 3, PhaseYears: 2})
	require.NoError(t, err)

	in, err := BuildSolverInputs(res.Shocked, res.Shock, dims)
	require.NoError(t, err)

	r, c := in.Mort.Dims()
	require.Equal(t, dims.T+dims.S, r)
	require.Equal(t, 4, c)
	require.Equal(t, res.Shocked.Mort.RawRowView(1), in.Mort.RawRowView(r-1))
	require.Len(t, in.InfMort, dims.T+dims.S)
	require.Equal(t, res.Shocked.InfMort[1], in.InfMort[dims.T+dims.S-1])

	r, c = in.Pop.Dims()
	require.Equal(t, dims.T, r)
	require.Equal(t, 4, c)
	// three projected years plus the initial row, held for the last one
	require.Equal(t, res.Shock.Pop.RawRowView(3), in.Pop.RawRowView(4))

	r, c = in.WorkingPop.Dims()
	require.Equal(t, dims.T, r)
	require.Equal(t, dims.S, c)
	require.Equal(t, in.Pop.At(2, 1), in.WorkingPop.At(2, 0))

	require.Equal(t, []float64{800, 600, 400}, in.WorkingPopDist)
	require.Equal(t, []float64{1000}, in.ChildPopDist)

	_, err = BuildSolverInputs(res.Shocked, res.Shock, Dimensions{S: 2, E: 1, T: 5})
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestExcessDeathsByYear(t *testing.T) {
	shocked := mat.NewDense(2, 2, []float64{3, 4, 5, 6})
	baseline := mat.NewDense(2, 2, []float64{1, 1, 2, 2})
	require.Equal(t, []float64{5, 7}, ExcessDeathsByYear(shocked, baseline))
}
