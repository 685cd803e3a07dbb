// Package prior defines the distribution contract consumed by the
// simulation store and ships serializable reference priors.
//
// The store only needs three capabilities from a prior: drawing parameter
// vectors, evaluating log-density, and a notion of support (a point is
// outside the support iff its log-density is -Inf). Distributions that
// additionally expose their CDF/ICDF hypercube mapping can be truncated to
// a sub-box of the unit hypercube, which is how posterior-constrained
// (truncated) priors are expressed.
//
// Durable stores persist the priors behind their intensity records, so
// every distribution that reaches a store must be registered with a codec
// under a stable type name. Uniform and truncated priors register
// themselves; custom distributions call Register from an init function.
package prior

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/exp/rand"
)

// ErrUnknownType is returned when decoding a prior whose type name has no
// registered codec.
var ErrUnknownType = errors.New("prior: unknown distribution type")

// Distribution is a prior over a fixed-dimensional parameter space.
type Distribution interface {
	// NumParameters returns the dimensionality of the parameter space.
	NumParameters() int

	// Sample draws n parameter vectors using the supplied source.
	Sample(n int, rng *rand.Rand) [][]float64

	// LogProb returns the log-density at v, -Inf outside the support.
	LogProb(v []float64) float64
}

// Mappable is a Distribution that exposes its hypercube mapping.
// Required for truncation.
type Mappable interface {
	Distribution

	// CDF maps a parameter vector onto the unit hypercube, per dimension.
	CDF(v []float64) []float64

	// ICDF maps a unit-hypercube point onto parameter space, per dimension.
	ICDF(u []float64) []float64
}

// Typed is implemented by distributions that can be persisted.
type Typed interface {
	// Type returns the stable name the distribution is registered under.
	Type() string
}

// Encoded is the serialized form of a distribution.
type Encoded struct {
	Type  string          `json:"type"`
	State json.RawMessage `json:"state"`
}

var (
	registryMu sync.RWMutex
	registry   = map[string]func(json.RawMessage) (Distribution, error){}
)

// Register installs a decoder for the given type name.
// Registering a duplicate name panics, mirroring database/sql drivers.
func Register(name string, decode func(json.RawMessage) (Distribution, error)) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("prior: Register called twice for %q", name))
	}
	registry[name] = decode
}

// Registered returns the sorted list of registered type names.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Encode serializes a distribution for persistence. The distribution must
// implement Typed and marshal to JSON.
func Encode(d Distribution) (Encoded, error) {
	typed, ok := d.(Typed)
	if !ok {
		return Encoded{}, fmt.Errorf("prior: %T does not implement Typed and cannot be persisted", d)
	}
	state, err := json.Marshal(d)
	if err != nil {
		return Encoded{}, fmt.Errorf("prior: encode %s: %w", typed.Type(), err)
	}
	return Encoded{Type: typed.Type(), State: state}, nil
}

// Decode reconstructs a distribution from its serialized form.
func Decode(e Encoded) (Distribution, error) {
	registryMu.RLock()
	decode, ok := registry[e.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	return decode(e.State)
}
