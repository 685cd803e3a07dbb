package simulator

import "context"

// Func adapts an in-process function to the Simulator contract.
type Func struct {
	shapes map[string][]int
	fn     func(params []float64) (Observation, error)
}

// NewFunc wraps fn with the declared output schema.
func NewFunc(shapes map[string][]int, fn func(params []float64) (Observation, error)) *Func {
	return &Func{shapes: shapes, fn: fn}
}

// Shapes returns the declared schema.
func (f *Func) Shapes() map[string][]int { return f.shapes }

// Simulate calls the wrapped function and validates its output.
func (f *Func) Simulate(ctx context.Context, params []float64) (Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	obs, err := f.fn(params)
	if err != nil {
		return nil, &Error{Op: "func", Err: err}
	}
	if err := Validate(obs, f.shapes); err != nil {
		return nil, &Error{Op: "func", Err: err}
	}
	return obs, nil
}

var _ Simulator = (*Func)(nil)
