package swyft

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/swyftgo/swyft/simulator"
)

type simulateOptions struct {
	indices     []int
	noWait      bool
	maxParallel int
	reclaim     time.Duration
	reclaimSet  bool
}

// SimulateOption configures a Simulate call.
type SimulateOption func(*simulateOptions)

// WithIndices restricts the batch to the given entries instead of all
// pending ones. Entries not in the pending state are skipped.
func WithIndices(indices ...int) SimulateOption {
	return func(o *simulateOptions) {
		o.indices = indices
	}
}

// WithNoWait dispatches the batch in the background and returns
// immediately. Results are written back as they complete; query
// SimulationStatus (or call Wait) to observe progress.
func WithNoWait() SimulateOption {
	return func(o *simulateOptions) {
		o.noWait = true
	}
}

// WithMaxParallel bounds in-flight simulator invocations. The default is
// 1: sequential, in ascending index order.
func WithMaxParallel(n int) SimulateOption {
	return func(o *simulateOptions) {
		if n > 0 {
			o.maxParallel = n
		}
	}
}

// WithReclaim re-offers stale running entries before dispatching, as if
// Reclaim(age) had been called.
func WithReclaim(age time.Duration) SimulateOption {
	return func(o *simulateOptions) {
		o.reclaim = age
		o.reclaimSet = true
	}
}

// Simulate runs the attached simulator over pending entries, claiming
// each one (pending → running) and finalizing it done or failed.
//
// Per-entry failures — simulator error, shape mismatch, non-finite output
// — mark that entry failed and the batch continues. Structural errors
// (storage, context cancellation) abort the batch; claimed entries whose
// run was interrupted are handed back to pending.
func (s *Store) Simulate(ctx context.Context, opts ...SimulateOption) error {
	sim := s.simulatorRef()
	if sim == nil {
		return ErrNoSimulator
	}

	o := simulateOptions{maxParallel: 1}
	for _, fn := range opts {
		fn(&o)
	}

	if o.reclaimSet {
		if _, err := s.Reclaim(o.reclaim); err != nil {
			return err
		}
	}

	indices := o.indices
	if indices == nil {
		var err error
		indices, err = s.PendingIndices()
		if err != nil {
			return err
		}
	}
	if len(indices) == 0 {
		return nil
	}

	if o.noWait {
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			// Detached from the caller's cancellation: background batches
			// outlive the dispatching call.
			if err := s.runBatch(context.WithoutCancel(ctx), sim, indices, o.maxParallel); err != nil {
				s.logger.Error("background simulation batch aborted", "error", err)
			}
		}()
		return nil
	}
	return s.runBatch(ctx, sim, indices, o.maxParallel)
}

func (s *Store) runBatch(ctx context.Context, sim simulator.Simulator, indices []int, maxParallel int) error {
	s.logger.WithCount(len(indices)).Info("simulating entries", "parallel", maxParallel)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for _, i := range indices {
		g.Go(func() error {
			return s.simulateOne(ctx, sim, i)
		})
	}
	return g.Wait()
}

// simulateOne claims and finalizes a single entry. A lost claim means
// another worker owns the entry (or it is already terminal); that is not
// an error.
func (s *Store) simulateOne(ctx context.Context, sim simulator.Simulator, i int) error {
	claimed, err := s.tab.claim(i)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	s.trackInflight(i)
	defer s.untrackInflight(i)

	params, err := s.tab.params(i)
	if err != nil {
		return err
	}

	obs, err := sim.Simulate(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			// Interrupted, not failed: hand the entry back.
			if _, rerr := s.tab.release(i); rerr != nil {
				return rerr
			}
			return ctx.Err()
		}
		s.logger.WithIndex(i).Warn("simulation failed", "error", err)
		return s.tab.markFailed(i)
	}

	if !s.allowNonFinite && hasNonFinite(obs) {
		s.logger.WithIndex(i).Warn("simulation produced non-finite values")
		return s.tab.markFailed(i)
	}

	if err := s.tab.setResult(i, obs); err != nil {
		if errors.Is(err, simulator.ErrShapeMismatch) {
			s.logger.WithIndex(i).Warn("simulation output rejected", "error", err)
			return s.tab.markFailed(i)
		}
		return err
	}
	return nil
}

func (s *Store) trackInflight(i int) {
	s.inflightMu.Lock()
	s.inflight[i] = struct{}{}
	s.inflightMu.Unlock()
}

func (s *Store) untrackInflight(i int) {
	s.inflightMu.Lock()
	delete(s.inflight, i)
	s.inflightMu.Unlock()
}

func (s *Store) isInflight(i int) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	_, ok := s.inflight[i]
	return ok
}

// Reclaim hands stale running entries back to pending so they can be
// simulated again. An entry is stale when no worker in this process holds
// it and, for directory-backed stores, the status column has been
// untouched for at least age. The lease clock is the status column's
// modification time, shared by all entries: any status write by any
// worker refreshes every claim in the store at once, so a crashed
// worker's claims go stale only after the whole store has been quiet for
// age. Claims are never expired individually.
//
// Returns the number of entries reclaimed. Running state is never treated
// as failure: a stale claim means the result never arrived, not that the
// simulator rejected the parameters.
func (s *Store) Reclaim(age time.Duration) (int, error) {
	if s.path != "" && age > 0 {
		info, err := os.Stat(filepath.Join(s.path, statusDir, "data.bin"))
		if err == nil && time.Since(info.ModTime()) < age {
			return 0, nil
		}
		if err != nil && !os.IsNotExist(err) {
			return 0, err
		}
	}

	statuses, err := s.tab.statusVector()
	if err != nil {
		return 0, err
	}

	n := 0
	for i, st := range statuses {
		if st != StatusRunning || s.isInflight(i) {
			continue
		}
		swapped, err := s.tab.release(i)
		if err != nil {
			return n, err
		}
		if swapped {
			n++
		}
	}
	if n > 0 {
		s.logger.WithCount(n).Info("reclaimed stale running entries")
	}
	return n, nil
}
