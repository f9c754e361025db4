package fitting

import (
	"errors"
	"fmt"
)

var (
	ErrTooFewPoints = errors.New("fitting: fewer points than parameters")
	ErrNotConverged = errors.New("fitting: did not converge")
	ErrNaN          = errors.New("fitting: fit yields Not-a-Number")
	ErrOutOfBounds  = errors.New("fitting: parameter out of bounds")
)

// FitError reports a curve fit that could not produce usable parameters.
type FitError struct {
	Iterations int
	Err        error
}

func (e *FitError) Error() string {
	return fmt.Sprintf("fitting: after %d iterations: %v", e.Iterations, e.Err)
}

func (e *FitError) Unwrap() error { return e.Err }

// ValidationError reports a converged fit whose parameters are not
// physically reasonable.
type ValidationError struct {
	Param    string
	Value    float64
	Min, Max float64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("fitting: %s = %.4g outside [%.4g, %.4g]", e.Param, e.Value, e.Min, e.Max)
}

func (e *ValidationError) Unwrap() error { return ErrOutOfBounds }
