package swyft

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDataset_LenGrowsWithStore(t *testing.T) {
	ctx := context.Background()
	s := memStore(t, WithSimulator(xySim()))
	p := unitPrior(t)

	added, err := s.Add(ctx, 100, p)
	require.NoError(t, err)
	require.Positive(t, added)

	ds, err := NewDataset(s, 100, p)
	require.NoError(t, err)
	require.NotEmpty(t, ds.Indices())

	// Nothing simulated yet: the candidate set exists but is all pending.
	n, err := ds.Len()
	require.NoError(t, err)
	require.Zero(t, n)

	// The view is not rebuilt; it sees completions as they land.
	require.NoError(t, s.Simulate(ctx, WithIndices(ds.Indices()[:3]...)))
	n, err = ds.Len()
	require.NoError(t, err)
	require.Equal(t, 3, n)

	require.NoError(t, s.Simulate(ctx))
	n, err = ds.Len()
	require.NoError(t, err)
	require.Equal(t, len(ds.Indices()), n)
}

func TestDataset_DoesNotGrowStore(t *testing.T) {
	ctx := context.Background()
	s := memStore(t)
	p := unitPrior(t)

	_, err := s.Add(ctx, 50, p)
	require.NoError(t, err)
	before, err := s.Len()
	require.NoError(t, err)

	// Requesting far more than the store covers must not append entries.
	_, err = NewDataset(s, 1000, p)
	require.NoError(t, err)

	after, err := s.Len()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestDataset_GetReturnsDoneEntries(t *testing.T) {
	ctx := context.Background()
	s := memStore(t, WithSimulator(xySim()))
	p := unitPrior(t)

	_, err := s.Add(ctx, 50, p)
	require.NoError(t, err)
	require.NoError(t, s.Simulate(ctx))

	ds, err := NewDataset(s, 50, p)
	require.NoError(t, err)

	n, err := ds.Len()
	require.NoError(t, err)
	require.Positive(t, n)

	e, err := ds.Get(0)
	require.NoError(t, err)
	require.Equal(t, StatusDone, e.Status)
	require.InDelta(t, e.Params[0]+e.Params[1], e.Observation["x"][0], 1e-12)

	_, err = ds.Get(n)
	require.ErrorIs(t, err, ErrInsufficientSamples)
}

func TestDataset_StrictShortfall(t *testing.T) {
	ctx := context.Background()
	s := memStore(t, WithSimulator(xySim()))
	p := unitPrior(t)

	_, err := s.Add(ctx, 50, p)
	require.NoError(t, err)

	// Complete only three entries; the request wants ~50.
	require.NoError(t, s.Simulate(ctx, WithIndices(0, 1, 2)))

	strict, err := NewDataset(s, 50, p, WithStrict())
	require.NoError(t, err)
	_, err = strict.Samples()
	require.ErrorIs(t, err, ErrInsufficientSamples)

	relaxed, err := NewDataset(s, 50, p)
	require.NoError(t, err)
	samples, err := relaxed.Samples()
	require.NoError(t, err)
	require.LessOrEqual(t, len(samples), 3)
	for _, e := range samples {
		require.Equal(t, StatusDone, e.Status)
	}
}

func TestDataset_InvalidRequest(t *testing.T) {
	s := memStore(t)
	_, err := NewDataset(s, -1, unitPrior(t))
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = NewDataset(s, 10, nil)
	require.ErrorIs(t, err, ErrInvalidRequest)
}
