// Package intensity implements the Poisson point-process accounting that
// decides how many fresh simulator runs a sample request needs.
//
// Every historical request against a store is one Record: drawing an
// expected N samples from a prior is an inhomogeneous Poisson process
// with log-intensity log N + logp(v). The store's accumulated intensity
// is the pointwise maximum over all records (a Stack). A new request is
// partially answerable from storage; only the shortfall — proposals whose
// fresh thinning weight beats the stored intensity — must be simulated.
// Thinning keeps the union of stored and fresh points Poisson-distributed
// with the max intensity, so repeated overlapping requests never skew the
// effective prior.
//
// All density arithmetic is carried in log space and exponentiated only
// where a probability is actually needed.
package intensity

import (
	"encoding/json"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/swyftgo/swyft/prior"
)

// Record is one sample request: an expected count N under a prior.
type Record struct {
	Dist prior.Distribution
	N    float64
}

// LogIntensity returns log N + logp(v), -Inf outside the prior support.
func (r Record) LogIntensity(v []float64) float64 {
	if r.N <= 0 {
		return math.Inf(-1)
	}
	return math.Log(r.N) + r.Dist.LogProb(v)
}

// Stack is the append-only list of intensity records accumulated by a
// store. The zero value is an empty stack.
type Stack struct {
	records []Record
}

// NewStack creates a stack from existing records (store load path).
func NewStack(records []Record) *Stack {
	return &Stack{records: records}
}

// Append adds a record.
func (s *Stack) Append(r Record) {
	s.records = append(s.records, r)
}

// Len returns the number of records.
func (s *Stack) Len() int { return len(s.records) }

// Records returns the records in append order.
func (s *Stack) Records() []Record {
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// LogIntensity returns the stack's log-intensity at v: the maximum over
// records, -Inf for an empty stack.
func (s *Stack) LogIntensity(v []float64) float64 {
	best := math.Inf(-1)
	for _, r := range s.records {
		if li := r.LogIntensity(v); li > best {
			best = li
		}
	}
	return best
}

// PoissonCount draws a Poisson-distributed count with the given mean.
func PoissonCount(mean float64, rng *rand.Rand) int {
	if mean <= 0 {
		return 0
	}
	p := distuv.Poisson{Lambda: mean, Src: rng}
	return int(p.Rand())
}

// Propose draws Poisson(target.N) candidates from the target prior and
// thins them against the stack: a candidate is kept iff its fresh
// log-weight log U + logλ_target(v) exceeds the stored log-intensity at
// v. Returns the accepted points with their log-weights.
func (s *Stack) Propose(target Record, rng *rand.Rand) (points [][]float64, logw []float64) {
	n := PoissonCount(target.N, rng)
	if n == 0 {
		return nil, nil
	}

	for _, v := range target.Dist.Sample(n, rng) {
		w := math.Log(rng.Float64()) + target.LogIntensity(v)
		if w > s.LogIntensity(v) {
			points = append(points, v)
			logw = append(logw, w)
		}
	}
	return points, logw
}

// Select returns the indices of stored points usable for the target
// request: point i is selected iff its stored log-weight lies below the
// target log-intensity at its parameters. Points outside the target
// support are never selected (their target log-intensity is -Inf).
func Select(points [][]float64, logw []float64, target Record) []int {
	var idx []int
	for i, v := range points {
		if logw[i] < target.LogIntensity(v) {
			idx = append(idx, i)
		}
	}
	return idx
}

// Coverage returns the fraction in [0, 1] of the target request already
// answerable from the stored points: the selected count divided by the
// requested expected count. An empty store covers nothing; a request for
// nothing is fully covered.
func Coverage(points [][]float64, logw []float64, target Record) float64 {
	if target.N <= 0 {
		return 1
	}
	if len(points) == 0 {
		return 0
	}
	c := float64(len(Select(points, logw, target))) / target.N
	if c > 1 {
		c = 1
	}
	return c
}

type encodedRecord struct {
	N     float64       `json:"n"`
	Prior prior.Encoded `json:"prior"`
}

// MarshalJSON serializes the stack for the durable store layout.
func (s *Stack) MarshalJSON() ([]byte, error) {
	out := make([]encodedRecord, 0, len(s.records))
	for _, r := range s.records {
		enc, err := prior.Encode(r.Dist)
		if err != nil {
			return nil, err
		}
		out = append(out, encodedRecord{N: r.N, Prior: enc})
	}
	return json.Marshal(out)
}

// UnmarshalJSON reconstructs records through the prior codec registry.
func (s *Stack) UnmarshalJSON(data []byte) error {
	var raw []encodedRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	records := make([]Record, 0, len(raw))
	for _, e := range raw {
		dist, err := prior.Decode(e.Prior)
		if err != nil {
			return err
		}
		records = append(records, Record{Dist: dist, N: e.N})
	}
	s.records = records
	return nil
}
