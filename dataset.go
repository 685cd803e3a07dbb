package swyft

import (
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/swyftgo/swyft/intensity"
	"github.com/swyftgo/swyft/prior"
)

// Dataset is a read-only window onto a store's completed entries for one
// sample request: the candidate index set is drawn once at construction
// (the usual Poisson thinning against the target request, without growing
// the store), but the done filter is evaluated lazily against the live
// status vector. As the store completes simulations, Len grows without
// rebuilding the view.
type Dataset struct {
	store      *Store
	target     intensity.Record
	candidates *roaring.Bitmap
	strict     bool
}

// DatasetOption configures NewDataset.
type DatasetOption func(*Dataset)

// WithStrict makes Samples fail with ErrInsufficientSamples when fewer
// completed entries than the requested expected count are available,
// instead of silently returning a short slice.
func WithStrict() DatasetOption {
	return func(d *Dataset) {
		d.strict = true
	}
}

// NewDataset builds a view of n expected samples under dist. The store is
// not grown: candidates come from what it already holds, so a request the
// store does not cover yields a proportionally smaller candidate set.
func NewDataset(s *Store, n float64, dist prior.Distribution, opts ...DatasetOption) (*Dataset, error) {
	if dist == nil {
		return nil, fmt.Errorf("%w: nil distribution", ErrInvalidRequest)
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: negative sample count %g", ErrInvalidRequest, n)
	}

	target := intensity.Record{Dist: dist, N: n}
	idx, err := s.selectIndices(target)
	if err != nil {
		return nil, err
	}

	bm := roaring.New()
	for _, i := range idx {
		bm.Add(uint32(i))
	}

	d := &Dataset{store: s, target: target, candidates: bm}
	for _, fn := range opts {
		fn(d)
	}
	return d, nil
}

// Indices returns the candidate indices in ascending order, regardless of
// simulation status.
func (d *Dataset) Indices() []int {
	out := make([]int, 0, d.candidates.GetCardinality())
	it := d.candidates.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}

// doneIndices evaluates the done filter against the live status vector.
func (d *Dataset) doneIndices() ([]int, error) {
	statuses, err := d.store.SimulationStatus()
	if err != nil {
		return nil, err
	}

	var out []int
	it := d.candidates.Iterator()
	for it.HasNext() {
		i := int(it.Next())
		if i < len(statuses) && statuses[i] == StatusDone {
			out = append(out, i)
		}
	}
	return out, nil
}

// Len returns the number of candidates currently done.
func (d *Dataset) Len() (int, error) {
	idx, err := d.doneIndices()
	if err != nil {
		return 0, err
	}
	return len(idx), nil
}

// Get returns the k-th done candidate, in ascending index order.
func (d *Dataset) Get(k int) (Entry, error) {
	idx, err := d.doneIndices()
	if err != nil {
		return Entry{}, err
	}
	if k < 0 || k >= len(idx) {
		return Entry{}, fmt.Errorf("%w: sample %d of %d", ErrInsufficientSamples, k, len(idx))
	}
	return d.store.Entry(idx[k])
}

// Samples returns all done candidates. Under WithStrict, fewer done
// entries than the requested expected count is an error.
func (d *Dataset) Samples() ([]Entry, error) {
	idx, err := d.doneIndices()
	if err != nil {
		return nil, err
	}
	if d.strict && float64(len(idx)) < math.Ceil(d.target.N) {
		return nil, fmt.Errorf("%w: %d done of %g requested", ErrInsufficientSamples, len(idx), d.target.N)
	}

	out := make([]Entry, 0, len(idx))
	for _, i := range idx {
		e, err := d.store.Entry(i)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
