package swyft

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swyftgo/swyft/blobstore"
	"github.com/swyftgo/swyft/prior"
	"github.com/swyftgo/swyft/simulator"
)

var testShapes = map[string][]int{"x": {2}}

func xySim() simulator.Simulator {
	return simulator.NewFunc(testShapes, func(p []float64) (simulator.Observation, error) {
		return simulator.Observation{"x": []float64{p[0] + p[1], p[0] * p[1]}}, nil
	})
}

// flakySim fails for parameter vectors with first coordinate above 0.9.
func flakySim() simulator.Simulator {
	return simulator.NewFunc(testShapes, func(p []float64) (simulator.Observation, error) {
		if p[0] > 0.9 {
			return nil, errors.New("simulator rejected parameters")
		}
		return simulator.Observation{"x": []float64{p[0], p[1]}}, nil
	})
}

func unitPrior(t *testing.T) prior.Distribution {
	t.Helper()
	p, err := prior.NewUniform([]float64{0, 0}, []float64{1, 1})
	require.NoError(t, err)
	return p
}

func memStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithLogger(NoopLogger()), WithSeed(7)}, opts...)
	s, err := New(2, testShapes, opts...)
	require.NoError(t, err)
	return s
}

func TestNew_SchemaValidation(t *testing.T) {
	_, err := New(0, testShapes)
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = New(2, nil)
	require.ErrorIs(t, err, ErrInvalidRequest)

	// Simulator shapes serve as the schema when none is declared.
	s, err := New(2, nil, WithSimulator(xySim()))
	require.NoError(t, err)
	require.Equal(t, testShapes, s.Shapes())

	_, err = New(2, map[string][]int{"y": {3}}, WithSimulator(xySim()))
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestStore_EmptyCoverageIsZero(t *testing.T) {
	s := memStore(t)
	c, err := s.Coverage(100, unitPrior(t))
	require.NoError(t, err)
	require.Zero(t, c)

	c, err = s.Coverage(0, unitPrior(t))
	require.NoError(t, err)
	require.Equal(t, 1.0, c)
}

func TestStore_AddCountIsPoisson(t *testing.T) {
	const (
		mean  = 100.0
		runs  = 40
		sigma = 3.0
	)

	total := 0
	for seed := uint64(1); seed <= runs; seed++ {
		s, err := New(2, testShapes, WithLogger(NoopLogger()), WithSeed(seed))
		require.NoError(t, err)

		n, err := s.Add(context.Background(), mean, unitPrior(t))
		require.NoError(t, err)
		total += n
	}

	got := float64(total) / runs
	require.InDelta(t, mean, got, sigma*math.Sqrt(mean/runs))
}

func TestStore_AddSkipsCoveredMass(t *testing.T) {
	ctx := context.Background()
	s := memStore(t)
	p := unitPrior(t)

	first, err := s.Add(ctx, 100, p)
	require.NoError(t, err)
	require.Positive(t, first)

	// The identical request is fully covered: every fresh proposal loses
	// the thinning race against the stored intensity.
	second, err := s.Add(ctx, 100, p)
	require.NoError(t, err)
	require.Zero(t, second)

	c, err := s.Coverage(100, p)
	require.NoError(t, err)
	require.Positive(t, c)

	// Opting out of coverage accounting appends a full fresh draw.
	third, err := s.Add(ctx, 100, p, WithoutCoverage())
	require.NoError(t, err)
	require.Greater(t, third, 50)
}

func TestStore_SampleGrowsAndSelects(t *testing.T) {
	ctx := context.Background()
	s := memStore(t)
	p := unitPrior(t)

	idx, err := s.Sample(ctx, 100, p)
	require.NoError(t, err)

	// On an empty store every appended point is usable for the request
	// that created it.
	n, err := s.Len()
	require.NoError(t, err)
	require.Len(t, idx, n)
	for i, v := range idx {
		require.Equal(t, i, v)
	}

	// A second identical request selects from storage without growing.
	idx2, err := s.Sample(ctx, 100, p)
	require.NoError(t, err)
	require.Equal(t, idx, idx2)

	after, err := s.Len()
	require.NoError(t, err)
	require.Equal(t, n, after)
}

func TestStore_SimulateDrainsPending(t *testing.T) {
	ctx := context.Background()
	s := memStore(t, WithSimulator(xySim()))

	n, err := s.Add(ctx, 50, unitPrior(t))
	require.NoError(t, err)
	require.Positive(t, n)

	pending, err := s.RequiresSim()
	require.NoError(t, err)
	require.True(t, pending)

	require.NoError(t, s.Simulate(ctx))

	pending, err = s.RequiresSim()
	require.NoError(t, err)
	require.False(t, pending)

	statuses, err := s.SimulationStatus()
	require.NoError(t, err)
	require.Len(t, statuses, n)
	for _, st := range statuses {
		require.Equal(t, StatusDone, st)
	}

	e, err := s.Entry(0)
	require.NoError(t, err)
	require.Equal(t, StatusDone, e.Status)
	require.InDelta(t, e.Params[0]+e.Params[1], e.Observation["x"][0], 1e-12)
}

func TestStore_SimulateNoSimulator(t *testing.T) {
	s := memStore(t)
	require.ErrorIs(t, s.Simulate(context.Background()), ErrNoSimulator)
}

func TestStore_FailedEntriesStayFailed(t *testing.T) {
	ctx := context.Background()
	s := memStore(t, WithSimulator(flakySim()))

	_, err := s.Add(ctx, 200, unitPrior(t))
	require.NoError(t, err)
	require.NoError(t, s.Simulate(ctx))

	statuses, err := s.SimulationStatus()
	require.NoError(t, err)

	failed := 0
	for i, st := range statuses {
		p, err := s.tab.params(i)
		require.NoError(t, err)
		if p[0] > 0.9 {
			require.Equal(t, StatusFailed, st, "entry %d", i)
			failed++
		} else {
			require.Equal(t, StatusDone, st, "entry %d", i)
		}
	}
	require.Positive(t, failed)

	// Failed entries never reappear as pending.
	idx, err := s.PendingIndices()
	require.NoError(t, err)
	require.Empty(t, idx)
	require.NoError(t, s.Simulate(ctx))
}

func TestStore_NonFiniteOutputFailsEntry(t *testing.T) {
	ctx := context.Background()
	nanSim := simulator.NewFunc(testShapes, func(p []float64) (simulator.Observation, error) {
		return simulator.Observation{"x": []float64{math.NaN(), 0}}, nil
	})

	s := memStore(t, WithSimulator(nanSim))
	_, err := s.Add(ctx, 20, unitPrior(t))
	require.NoError(t, err)
	require.NoError(t, s.Simulate(ctx))

	statuses, err := s.SimulationStatus()
	require.NoError(t, err)
	for _, st := range statuses {
		require.Equal(t, StatusFailed, st)
	}

	relaxed := memStore(t, WithSimulator(nanSim), WithAllowNonFinite())
	_, err = relaxed.Add(ctx, 20, unitPrior(t))
	require.NoError(t, err)
	require.NoError(t, relaxed.Simulate(ctx))

	statuses, err = relaxed.SimulationStatus()
	require.NoError(t, err)
	for _, st := range statuses {
		require.Equal(t, StatusDone, st)
	}
}

func TestStore_SimulateSubset(t *testing.T) {
	ctx := context.Background()
	s := memStore(t, WithSimulator(xySim()))

	n, err := s.Add(ctx, 50, unitPrior(t))
	require.NoError(t, err)
	require.Greater(t, n, 3)

	require.NoError(t, s.Simulate(ctx, WithIndices(0, 1, 2)))

	statuses, err := s.SimulationStatus()
	require.NoError(t, err)
	for i, st := range statuses {
		if i < 3 {
			require.Equal(t, StatusDone, st)
		} else {
			require.Equal(t, StatusPending, st)
		}
	}
}

func TestStore_SimulateNoWait(t *testing.T) {
	ctx := context.Background()
	s := memStore(t, WithSimulator(xySim()))

	_, err := s.Add(ctx, 50, unitPrior(t))
	require.NoError(t, err)

	require.NoError(t, s.Simulate(ctx, WithNoWait(), WithMaxParallel(4)))
	s.Wait()

	pending, err := s.RequiresSim()
	require.NoError(t, err)
	require.False(t, pending)
	require.NoError(t, s.Close())
}

func TestStore_Reclaim(t *testing.T) {
	ctx := context.Background()
	s := memStore(t, WithSimulator(xySim()))

	n, err := s.Add(ctx, 30, unitPrior(t))
	require.NoError(t, err)
	require.Positive(t, n)

	// A claim with no live worker behind it is a stale lease.
	claimed, err := s.tab.claim(0)
	require.NoError(t, err)
	require.True(t, claimed)

	st, err := s.tab.statusOf(0)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, st)

	reclaimed, err := s.Reclaim(0)
	require.NoError(t, err)
	require.Equal(t, 1, reclaimed)

	st, err = s.tab.statusOf(0)
	require.NoError(t, err)
	require.Equal(t, StatusPending, st)
}

func TestStore_ReclaimRespectsLeaseAge(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "store")
	s, err := Open(dir, WithLogger(NoopLogger()), WithSeed(3), WithSchema(2, testShapes))
	require.NoError(t, err)

	_, err = s.Add(ctx, 30, unitPrior(t))
	require.NoError(t, err)

	claimed, err := s.tab.claim(0)
	require.NoError(t, err)
	require.True(t, claimed)

	// The status column was touched just now, so a worker may still be
	// alive: nothing is reclaimed within the lease age.
	reclaimed, err := s.Reclaim(time.Hour)
	require.NoError(t, err)
	require.Zero(t, reclaimed)

	reclaimed, err = s.Reclaim(0)
	require.NoError(t, err)
	require.Equal(t, 1, reclaimed)
}

func TestStore_OpenLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "store")

	s, err := Open(dir, WithLogger(NoopLogger()), WithSeed(11), WithSimulator(flakySim()))
	require.NoError(t, err)

	n, err := s.Add(ctx, 100, unitPrior(t))
	require.NoError(t, err)
	require.Positive(t, n)
	require.NoError(t, s.Simulate(ctx))

	want, err := s.SimulationStatus()
	require.NoError(t, err)

	loaded, err := Load(dir, WithLogger(NoopLogger()))
	require.NoError(t, err)

	got, err := loaded.SimulationStatus()
	require.NoError(t, err)
	require.Equal(t, want, got)

	for i := range want {
		pw, err := s.tab.params(i)
		require.NoError(t, err)
		pg, err := loaded.tab.params(i)
		require.NoError(t, err)
		require.Equal(t, pw, pg)
	}

	// Coverage accounting survives the reload: the same request is fully
	// covered in the loaded store.
	appended, err := loaded.Add(ctx, 100, unitPrior(t))
	require.NoError(t, err)
	require.Zero(t, appended)

	// The simulator is not persisted; attaching a mismatched one fails.
	_, err = Load(dir, WithLogger(NoopLogger()), WithSimulator(
		simulator.NewFunc(map[string][]int{"y": {1}}, nil)))
	require.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = Load(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestStore_OpenSimulatorOnlyDefersZdim(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "store")

	// A simulator declares the observation schema but not the parameter
	// dimensionality; the first Add fixes it from the prior.
	s, err := Open(dir, WithLogger(NoopLogger()), WithSeed(2), WithSimulator(xySim()))
	require.NoError(t, err)
	require.Zero(t, s.Zdim())

	n, err := s.Add(ctx, 80, unitPrior(t))
	require.NoError(t, err)
	require.Positive(t, n)
	require.Equal(t, 2, s.Zdim())

	// Once fixed, a prior of different dimensionality is rejected.
	p3, err := prior.NewUniform([]float64{0, 0, 0}, []float64{1, 1, 1})
	require.NoError(t, err)
	_, err = s.Add(ctx, 10, p3)
	require.ErrorIs(t, err, ErrInvalidRequest)

	// The fixed dimensionality is durable.
	loaded, err := Load(dir, WithLogger(NoopLogger()))
	require.NoError(t, err)
	require.Equal(t, 2, loaded.Zdim())
}

func TestStore_SaveFromMemory(t *testing.T) {
	ctx := context.Background()
	s := memStore(t, WithSimulator(xySim()))

	_, err := s.Add(ctx, 50, unitPrior(t))
	require.NoError(t, err)
	require.NoError(t, s.Simulate(ctx))

	dir := filepath.Join(t.TempDir(), "saved")
	require.NoError(t, s.Save(dir))

	loaded, err := Load(dir, WithLogger(NoopLogger()))
	require.NoError(t, err)

	want, err := s.SimulationStatus()
	require.NoError(t, err)
	got, err := loaded.SimulationStatus()
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestStore_ToMemorySnapshotIsIsolated(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "store")
	s, err := Open(dir, WithLogger(NoopLogger()), WithSeed(5), WithSimulator(xySim()))
	require.NoError(t, err)

	n, err := s.Add(ctx, 40, unitPrior(t))
	require.NoError(t, err)
	require.Positive(t, n)

	snap, err := s.ToMemory()
	require.NoError(t, err)

	want, err := s.SimulationStatus()
	require.NoError(t, err)
	got, err := snap.SimulationStatus()
	require.NoError(t, err)
	require.Equal(t, want, got)

	// Writes to the source do not leak into the snapshot.
	require.NoError(t, s.Simulate(ctx))

	got, err = snap.SimulationStatus()
	require.NoError(t, err)
	require.Equal(t, want, got)

	// The copy is a working store in its own right.
	require.NoError(t, snap.Simulate(ctx))
	pending, err := snap.RequiresSim()
	require.NoError(t, err)
	require.False(t, pending)
}

func TestStore_PushPullRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := memStore(t, WithSimulator(xySim()))

	_, err := s.Add(ctx, 50, unitPrior(t))
	require.NoError(t, err)
	require.NoError(t, s.Simulate(ctx))

	bs := blobstore.NewMemoryStore()
	require.NoError(t, s.Push(ctx, bs, "snapshots/run1"))

	dir := filepath.Join(t.TempDir(), "pulled")
	pulled, err := Pull(ctx, bs, "snapshots/run1", dir, WithLogger(NoopLogger()))
	require.NoError(t, err)

	want, err := s.SimulationStatus()
	require.NoError(t, err)
	got, err := pulled.SimulationStatus()
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestStore_SetSimulator(t *testing.T) {
	s := memStore(t)

	require.ErrorIs(t, s.SetSimulator(nil), ErrInvalidRequest)

	bad := simulator.NewFunc(map[string][]int{"x": {3}}, nil)
	require.ErrorIs(t, s.SetSimulator(bad), ErrSchemaMismatch)

	require.NoError(t, s.SetSimulator(xySim()))

	_, err := s.Add(context.Background(), 10, unitPrior(t))
	require.NoError(t, err)
	require.NoError(t, s.Simulate(context.Background()))
}
