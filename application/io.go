// Project: Cost of Disease - Demographic Effects of Reduced Foreign Health Aid
// Date: Oct 14th 2026

package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// File names inside a rate-schedule directory
const (
	fertFile    = "fert_rates.csv"
	mortFile    = "mort_rates.csv"
	immFile     = "imm_rates.csv"
	infmortFile = "infmort_rates.csv"
	popFile     = "pop_dist.csv"
)

// LoadCSVMatrix loads a CSV file with a header row into a rows x columns matrix.
// The header is returned as column labels.
func LoadCSVMatrix(path string) (*mat.Dense, []string, error) {
	// 1. Open file
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	// 2. Make CSV reader
	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	// 3. Read header row
	header, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	if len(header) == 0 {
		return nil, nil, fmt.Errorf("empty header in %s", path)
	}
	K := len(header)

	var (
		data []float64 // flat data for mat.Dense
		row  int       // row counter
	)

	// 4. Read each data row
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read row %d of %s: %w", row+2, path, err) // +2 for header + 1-based
		}

		if len(record) == 1 && record[0] == "" {
			continue
		}

		if len(record) != K {
			return nil, nil, fmt.Errorf(
				"%s row %d: expected %d columns, got %d",
				path, row+2, K, len(record),
			)
		}

		for j, s := range record {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, nil, fmt.Errorf(
					"%s: parse float at row %d col %d (%q): %w",
					path, row+2, j+1, s, err,
				)
			}
			data = append(data, v)
		}
		row++
	}

	if row == 0 {
		return nil, nil, fmt.Errorf("no data rows in %s", path)
	}

	return mat.NewDense(row, K, data), header, nil
}

// CSVRateSource reads a baseline schedule from a directory of CSV files:
// fert_rates.csv, mort_rates.csv and imm_rates.csv (years x ages),
// infmort_rates.csv (one column) and pop_dist.csv (one row of ages).
type CSVRateSource struct {
	Dir string
}

// Load reads and validates the schedule.
func (s CSVRateSource) Load() (*RateSchedule, error) {
	load := func(name string) (*mat.Dense, error) {
		m, _, err := LoadCSVMatrix(filepath.Join(s.Dir, name))
		return m, err
	}

	fert, err := load(fertFile)
	if err != nil {
		return nil, err
	}
	mort, err := load(mortFile)
	if err != nil {
		return nil, err
	}
	imm, err := load(immFile)
	if err != nil {
		return nil, err
	}
	inf, err := load(infmortFile)
	if err != nil {
		return nil, err
	}
	if _, c := inf.Dims(); c != 1 {
		return nil, fmt.Errorf("%s: expected 1 column, got %d: %w", infmortFile, c, ErrDimensionMismatch)
	}
	pop, err := load(popFile)
	if err != nil {
		return nil, err
	}
	if r, _ := pop.Dims(); r != 1 {
		return nil, fmt.Errorf("%s: expected 1 row, got %d: %w", popFile, r, ErrDimensionMismatch)
	}

	rs := &RateSchedule{
		Fert:    fert,
		Mort:    mort,
		Imm:     imm,
		InfMort: mat.Col(nil, 0, inf),
		Pop0:    mat.Row(nil, 0, pop),
	}
	if err := rs.Validate(); err != nil {
		return nil, fmt.Errorf("load %s: %w", s.Dir, err)
	}
	return rs, nil
}

// StaticRateSource serves a fixed reference schedule held in memory.
type StaticRateSource struct {
	Schedule *RateSchedule
}

// Load returns a validated copy of the reference schedule.
func (s StaticRateSource) Load() (*RateSchedule, error) {
	if err := s.Schedule.Validate(); err != nil {
		return nil, fmt.Errorf("static schedule: %w", err)
	}
	return s.Schedule.Clone(), nil
}

// OutputDeathsToCSV writes a year x age death matrix with a Year column.
func OutputDeathsToCSV(path string, deaths *mat.Dense, startYear int) error {
	rows, cols := deaths.Dims()

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := make([]string, cols+1)
	header[0] = "Year"
	for a := 0; a < cols; a++ {
		header[a+1] = fmt.Sprintf("Age%d", a)
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for y := 0; y < rows; y++ {
		record := make([]string, cols+1)
		record[0] = strconv.Itoa(startYear + y)
		for a := 0; a < cols; a++ {
			record[a+1] = fmt.Sprintf("%f", deaths.At(y, a))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// OutputExcessDeathsToCSV writes one row per year for every scenario:
// Scenario, Year, BaselineDeaths, ShockedDeaths, Excess, CumulativeExcess
func OutputExcessDeathsToCSV(path string, results []*ScenarioResult, startYear int) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"Scenario", "Year", "BaselineDeaths", "ShockedDeaths", "Excess", "CumulativeExcess"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, res := range results {
		base := RowTotals(res.Baseline.Deaths)
		shock := RowTotals(res.Shock.Deaths)
		for y := range res.ExcessByYear {
			record := []string{
				res.Spec.Name,
				strconv.Itoa(startYear + y),
				fmt.Sprintf("%f", base[y]),
				fmt.Sprintf("%f", shock[y]),
				fmt.Sprintf("%f", res.ExcessByYear[y]),
				fmt.Sprintf("%f", res.Cumulative[y]),
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

// OutputCalibrationsToCSV writes the fitted scale and diagnostics per scenario.
func OutputCalibrationsToCSV(path string, results []*ScenarioResult) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"Scenario", "Target", "Scale", "Achieved", "Residual", "Saturated", "Iterations", "Status"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, res := range results {
		c := res.Calibration
		record := []string{
			res.Spec.Name,
			fmt.Sprintf("%f", c.Target),
			fmt.Sprintf("%.10f", c.Scale),
			fmt.Sprintf("%f", c.Achieved),
			fmt.Sprintf("%g", c.Residual),
			fmt.Sprintf("%t", c.Saturated),
			fmt.Sprintf("%d", c.Iterations),
			c.Status.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// OutputProductivityToCSV writes adjusted ability matrices in long format:
// Year, Age, Group, Value
func OutputProductivityToCSV(path string, e []*mat.Dense, startYear int) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if err := writer.Write([]string{"Year", "Age", "Group", "Value"}); err != nil {
		return err
	}

	for t, et := range e {
		rows, cols := et.Dims()
		for s := 0; s < rows; s++ {
			for j := 0; j < cols; j++ {
				record := []string{
					strconv.Itoa(startYear + t),
					strconv.Itoa(s),
					strconv.Itoa(j),
					fmt.Sprintf("%f", et.At(s, j)),
				}
				if err := writer.Write(record); err != nil {
					return err
				}
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

// OutputSolverInputsToCSV writes the solver hand-off arrays in long format:
// Series, Year, Age, Value. Infant mortality is written against age 0.
func OutputSolverInputsToCSV(path string, in *SolverInputs, startYear int) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if err := writer.Write([]string{"Series", "Year", "Age", "Value"}); err != nil {
		return err
	}

	series := []struct {
		name string
		m    *mat.Dense
	}{
		{"fert", in.Fert},
		{"mort", in.Mort},
		{"imm", in.Imm},
		{"pop", in.Pop},
	}
	for _, sr := range series {
		rows, cols := sr.m.Dims()
		for t := 0; t < rows; t++ {
			for a := 0; a < cols; a++ {
				record := []string{
					sr.name,
					strconv.Itoa(startYear + t),
					strconv.Itoa(a),
					fmt.Sprintf("%g", sr.m.At(t, a)),
				}
				if err := writer.Write(record); err != nil {
					return err
				}
			}
		}
	}
	for t, v := range in.InfMort {
		record := []string{"infmort", strconv.Itoa(startYear + t), "0", fmt.Sprintf("%g", v)}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// NewRunSummary collects the headline numbers of every scenario in a run.
func NewRunSummary(runID string, startYear int, results []*ScenarioResult) *RunSummary {
	s := &RunSummary{RunID: runID, StartYear: startYear}
	for _, res := range results {
		c := res.Calibration
		s.Scenarios = append(s.Scenarios, ScenarioSummary{
			Name:             res.Spec.Name,
			ExcessDeaths:     res.Spec.ExcessDeaths,
			PhaseYears:       res.Spec.PhaseYears,
			Horizon:          res.Spec.Horizon,
			ReferenceYear:    res.Spec.ReferenceYear,
			Scale:            c.Scale,
			Achieved:         c.Achieved,
			Residual:         c.Residual,
			Saturated:        c.Saturated,
			Status:           c.Status.String(),
			CumulativeExcess: res.Cumulative[len(res.Cumulative)-1],
		})
	}
	return s
}

// OutputSummaryToYAML writes the run manifest.
func OutputSummaryToYAML(path string, s *RunSummary) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// PrintCalibration prints the fitted scale factor and its residual.
func PrintCalibration(name string, c *Calibration) {
	fmt.Printf("\n=== Calibration: %s ===\n", name)
	fmt.Printf("Target excess deaths:   %14.2f\n", c.Target)
	fmt.Printf("Achieved excess deaths: %14.2f\n", c.Achieved)
	fmt.Printf("Residual:               %14.6g\n", c.Residual)
	fmt.Printf("Scale factor:           %14.8f\n", c.Scale)
	fmt.Printf("Minimizer status:       %14s (%d iterations)\n", c.Status, c.Iterations)
	if c.Saturated {
		fmt.Printf("Target exceeds the clamp ceiling of %.2f excess deaths\n", c.MaxExcess)
	}
}

// PrintScenarioSummary prints the first years of excess deaths and the total.
func PrintScenarioSummary(res *ScenarioResult, startYear, years int) {
	fmt.Printf("\n=== Excess Deaths: %s ===\n", res.Spec.Name)
	fmt.Printf("%-6s %-7s %14s %16s\n", "Year", "Regime", "Excess", "Cumulative")
	if years > len(res.ExcessByYear) {
		years = len(res.ExcessByYear)
	}
	for y := 0; y < years; y++ {
		fmt.Printf("%-6d %-7s %14.2f %16.2f\n",
			startYear+y, res.Shock.Regime(y), res.ExcessByYear[y], res.Cumulative[y])
	}
	last := len(res.Cumulative) - 1
	fmt.Printf("Total over %d years: %.2f\n", last+1, res.Cumulative[last])
}
