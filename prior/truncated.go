package prior

import (
	"encoding/json"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
)

const truncatedType = "truncated"

func init() {
	Register(truncatedType, func(state json.RawMessage) (Distribution, error) {
		var t Truncated
		if err := json.Unmarshal(state, &t); err != nil {
			return nil, err
		}
		return &t, nil
	})
}

// Box is an axis-aligned region of the unit hypercube.
type Box struct {
	Low  []float64 `json:"low"`
	High []float64 `json:"high"`
}

// Volume returns the box volume.
func (b Box) Volume() float64 {
	v := 1.0
	for d := range b.Low {
		v *= b.High[d] - b.Low[d]
	}
	return v
}

// Contains reports whether the unit-hypercube point q lies in the box.
func (b Box) Contains(q []float64) bool {
	if len(q) != len(b.Low) {
		return false
	}
	for d := range q {
		if q[d] < b.Low[d] || q[d] >= b.High[d] {
			return false
		}
	}
	return true
}

// UnitBox returns the untruncated unit hypercube in dim dimensions.
func UnitBox(dim int) Box {
	low := make([]float64, dim)
	high := make([]float64, dim)
	for d := range high {
		high[d] = 1
	}
	return Box{Low: low, High: high}
}

// Truncated restricts a base distribution to a sub-box of its hypercube
// mapping and renormalizes the density by the box volume. Samples are
// drawn by sampling the box uniformly and mapping through the base ICDF,
// so truncation composes with any Mappable base.
type Truncated struct {
	base Mappable
	box  Box
}

// Truncate restricts base to the given hypercube box.
func Truncate(base Mappable, box Box) (*Truncated, error) {
	if len(box.Low) != base.NumParameters() || len(box.High) != base.NumParameters() {
		return nil, fmt.Errorf("prior: box dimensionality %d/%d does not match base %d",
			len(box.Low), len(box.High), base.NumParameters())
	}
	for d := range box.Low {
		if box.Low[d] < 0 || box.High[d] > 1 || !(box.Low[d] < box.High[d]) {
			return nil, fmt.Errorf("prior: box dimension %d [%g, %g) not a sub-interval of [0, 1)", d, box.Low[d], box.High[d])
		}
	}
	return &Truncated{base: base, box: box}, nil
}

// Type returns the registered type name.
func (t *Truncated) Type() string { return truncatedType }

// Base returns the untruncated distribution.
func (t *Truncated) Base() Mappable { return t.base }

// Bound returns the truncation box.
func (t *Truncated) Bound() Box { return t.box }

// NumParameters returns the dimensionality.
func (t *Truncated) NumParameters() int { return t.base.NumParameters() }

// Sample draws n parameter vectors from the truncated region.
func (t *Truncated) Sample(n int, rng *rand.Rand) [][]float64 {
	out := make([][]float64, n)
	q := make([]float64, len(t.box.Low))
	for i := range out {
		for d := range q {
			q[d] = t.box.Low[d] + rng.Float64()*(t.box.High[d]-t.box.Low[d])
		}
		out[i] = t.base.ICDF(q)
	}
	return out
}

// LogProb returns the renormalized log-density, -Inf outside the box.
func (t *Truncated) LogProb(v []float64) float64 {
	q := t.base.CDF(v)
	if !t.box.Contains(q) {
		return math.Inf(-1)
	}
	return t.base.LogProb(v) - math.Log(t.box.Volume())
}

// CDF maps parameter space onto the truncated distribution's own unit
// hypercube: the base mapping rescaled so the box spans [0, 1) per
// dimension. Points outside the box map outside the unit hypercube.
func (t *Truncated) CDF(v []float64) []float64 {
	q := t.base.CDF(v)
	out := make([]float64, len(q))
	for d := range q {
		out[d] = (q[d] - t.box.Low[d]) / (t.box.High[d] - t.box.Low[d])
	}
	return out
}

// ICDF maps the unit hypercube onto parameter space through the box.
func (t *Truncated) ICDF(q []float64) []float64 {
	u := make([]float64, len(q))
	for d := range q {
		u[d] = t.box.Low[d] + q[d]*(t.box.High[d]-t.box.Low[d])
	}
	return t.base.ICDF(u)
}

type truncatedState struct {
	Base Encoded `json:"base"`
	Box  Box     `json:"box"`
}

// MarshalJSON encodes the truncation box and the base distribution
// through the codec registry.
func (t *Truncated) MarshalJSON() ([]byte, error) {
	base, err := Encode(t.base)
	if err != nil {
		return nil, err
	}
	return json.Marshal(truncatedState{Base: base, Box: t.box})
}

// UnmarshalJSON decodes through the codec registry. The base must itself
// be Mappable.
func (t *Truncated) UnmarshalJSON(data []byte) error {
	var state truncatedState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	base, err := Decode(state.Base)
	if err != nil {
		return err
	}
	mappable, ok := base.(Mappable)
	if !ok {
		return fmt.Errorf("prior: truncated base %q is not mappable", state.Base.Type)
	}
	t.base = mappable
	t.box = state.Box
	return nil
}

var _ Mappable = (*Truncated)(nil)
