package prior

import (
	"encoding/json"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
)

const uniformType = "uniform"

func init() {
	Register(uniformType, func(state json.RawMessage) (Distribution, error) {
		var u Uniform
		if err := json.Unmarshal(state, &u); err != nil {
			return nil, err
		}
		if err := u.validate(); err != nil {
			return nil, err
		}
		return &u, nil
	})
}

// Uniform is a box prior: independent uniform densities per dimension.
type Uniform struct {
	Low  []float64 `json:"low"`
	High []float64 `json:"high"`
}

// NewUniform creates a box prior on [low, high) per dimension.
func NewUniform(low, high []float64) (*Uniform, error) {
	u := &Uniform{Low: low, High: high}
	if err := u.validate(); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *Uniform) validate() error {
	if len(u.Low) == 0 || len(u.Low) != len(u.High) {
		return fmt.Errorf("prior: uniform bounds must be non-empty and equal length, got %d/%d", len(u.Low), len(u.High))
	}
	for i := range u.Low {
		if !(u.Low[i] < u.High[i]) {
			return fmt.Errorf("prior: uniform dimension %d has empty interval [%g, %g)", i, u.Low[i], u.High[i])
		}
	}
	return nil
}

// Type returns the registered type name.
func (u *Uniform) Type() string { return uniformType }

// NumParameters returns the dimensionality.
func (u *Uniform) NumParameters() int { return len(u.Low) }

// Sample draws n parameter vectors.
func (u *Uniform) Sample(n int, rng *rand.Rand) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		v := make([]float64, len(u.Low))
		for d := range v {
			v[d] = u.Low[d] + rng.Float64()*(u.High[d]-u.Low[d])
		}
		out[i] = v
	}
	return out
}

// LogProb returns the log-density at v, -Inf outside the box.
func (u *Uniform) LogProb(v []float64) float64 {
	if len(v) != len(u.Low) {
		return math.Inf(-1)
	}
	lp := 0.0
	for d := range v {
		if v[d] < u.Low[d] || v[d] >= u.High[d] {
			return math.Inf(-1)
		}
		lp -= math.Log(u.High[d] - u.Low[d])
	}
	return lp
}

// CDF maps parameter space onto the unit hypercube.
func (u *Uniform) CDF(v []float64) []float64 {
	out := make([]float64, len(v))
	for d := range v {
		out[d] = (v[d] - u.Low[d]) / (u.High[d] - u.Low[d])
	}
	return out
}

// ICDF maps the unit hypercube onto parameter space.
func (u *Uniform) ICDF(q []float64) []float64 {
	out := make([]float64, len(q))
	for d := range q {
		out[d] = u.Low[d] + q[d]*(u.High[d]-u.Low[d])
	}
	return out
}

var _ Mappable = (*Uniform)(nil)
