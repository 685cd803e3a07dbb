// Package simulator defines the capability contract between the
// simulation store and the code that actually produces observations.
//
// A Simulator maps a parameter vector onto a named set of numeric arrays
// and declares the shape of every output field up front; the store
// validates each result against the declared shapes before an entry can
// reach the done state. Three adapters conform to the contract:
//
//   - Func wraps an in-process Go function.
//   - Exec invokes an external program per call, in an isolated working
//     directory, with user-supplied stdin/stdout codecs.
//   - Pool schedules any Simulator onto a bounded worker pool and hands
//     back futures, which is how asynchronous and distributed execution
//     is expressed.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrShapeMismatch is returned when an observation field does not match
	// the declared schema.
	ErrShapeMismatch = errors.New("simulator: observation shape mismatch")
)

// Observation is a simulator result: one flattened numeric array per
// declared output field.
type Observation map[string][]float64

// Simulator produces observations from parameter vectors.
type Simulator interface {
	// Shapes declares the expected field -> shape mapping. Observations
	// are validated against it on every call.
	Shapes() map[string][]int

	// Simulate runs the simulator for one parameter vector. A returned
	// error of type *Error marks the entry failed without aborting the
	// surrounding batch.
	Simulate(ctx context.Context, params []float64) (Observation, error)
}

// Error is a failed simulator invocation: a non-zero exit, a panic-free
// in-process error, or malformed output.
type Error struct {
	Op     string // adapter that failed: "func", "exec", "pool"
	Stderr string // captured standard error, if any
	Err    error
}

func (e *Error) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("simulator %s: %v (stderr: %s)", e.Op, e.Err, e.Stderr)
	}
	return fmt.Sprintf("simulator %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NumElements returns the flattened element count of a shape.
func NumElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Validate checks an observation against a declared schema: every
// declared field must be present with the flattened element count of its
// shape, and no undeclared fields may appear.
func Validate(obs Observation, shapes map[string][]int) error {
	for name, shape := range shapes {
		field, ok := obs[name]
		if !ok {
			return fmt.Errorf("%w: missing field %q", ErrShapeMismatch, name)
		}
		if want := NumElements(shape); len(field) != want {
			return fmt.Errorf("%w: field %q has %d elements, want %d (shape %v)",
				ErrShapeMismatch, name, len(field), want, shape)
		}
	}
	if len(obs) != len(shapes) {
		extra := make([]string, 0, 1)
		for name := range obs {
			if _, ok := shapes[name]; !ok {
				extra = append(extra, name)
			}
		}
		sort.Strings(extra)
		return fmt.Errorf("%w: undeclared fields %v", ErrShapeMismatch, extra)
	}
	return nil
}
