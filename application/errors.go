// Project: Cost of Disease - Demographic Effects of Reduced Foreign Health Aid
// Date: Oct 14th 2026

package main

import "errors"

// Validation errors. Call sites wrap these with context, match with errors.Is.
var (
	ErrDimensionMismatch  = errors.New("demography: age dimension mismatch")
	ErrRateOutOfRange     = errors.New("demography: rate outside [0, 1]")
	ErrNegativeRate       = errors.New("demography: negative rate")
	ErrNegativePopulation = errors.New("demography: negative population")
	ErrNonFinite          = errors.New("demography: NaN or Inf value")
	ErrEmptySchedule      = errors.New("demography: empty rate schedule")
	ErrBadHorizon         = errors.New("demography: horizon must be >= 1")
	ErrNegativeTarget     = errors.New("demography: excess deaths must be >= 0")
	ErrBadPhaseLength     = errors.New("demography: phase-in length must be >= 1")
)
