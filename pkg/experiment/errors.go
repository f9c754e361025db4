package experiment

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownKeyword = errors.New("unrecognized keyword")
	ErrArgumentCount  = errors.New("incorrect number of values")
	ErrBadNumber      = errors.New("value is not a number")
	ErrDuplicate      = errors.New("keyword given more than once")
	ErrMissingKeyword = errors.New("required keyword missing")
	ErrInvalidValue   = errors.New("value out of range")
)

// ConfigError reports a malformed experiment file. Line is 1-based and is 0
// when the problem concerns the file as a whole (a missing keyword or an
// inconsistent combination of values).
type ConfigError struct {
	Line int
	Text string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("experiment: line %d %q: %v", e.Line, e.Text, e.Err)
	}
	return fmt.Sprintf("experiment: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// GeometryError reports a pixel for which the reciprocal-space transform
// could not be evaluated, typically because the orientation system is
// singular.
type GeometryError struct {
	X, Z  int
	Omega float64
	Err   error
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("experiment: transform of pixel (%d, %d) at omega %.3f: %v", e.X, e.Z, e.Omega, e.Err)
}

func (e *GeometryError) Unwrap() error { return e.Err }
