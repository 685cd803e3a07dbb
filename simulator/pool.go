package simulator

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// PoolOptions configures a worker pool.
type PoolOptions struct {
	// MaxWorkers bounds concurrently running simulations. Defaults to 1.
	MaxWorkers int64

	// DispatchRate limits task starts per second. Zero means unlimited.
	// Useful when the wrapped simulator submits to a shared cluster
	// scheduler that throttles bursts.
	DispatchRate rate.Limit

	// DispatchBurst is the rate limiter burst size. Defaults to 1 when a
	// rate is set.
	DispatchBurst int
}

// Pool schedules simulations of a wrapped Simulator onto a bounded worker
// pool. Submit returns a future immediately, which is the store's
// asynchronous execution path; Simulate blocks, so a Pool can also stand
// in wherever a plain Simulator is expected.
type Pool struct {
	sim     Simulator
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// NewPool wraps sim with a worker pool.
func NewPool(sim Simulator, optFns ...func(o *PoolOptions)) *Pool {
	opts := PoolOptions{MaxWorkers: 1}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 1
	}

	p := &Pool{
		sim: sim,
		sem: semaphore.NewWeighted(opts.MaxWorkers),
	}
	if opts.DispatchRate > 0 {
		burst := opts.DispatchBurst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(opts.DispatchRate, burst)
	}
	return p
}

// Shapes returns the wrapped simulator's schema.
func (p *Pool) Shapes() map[string][]int { return p.sim.Shapes() }

// Task is an in-flight simulation.
type Task struct {
	done chan struct{}
	obs  Observation
	err  error
}

// Wait blocks until the task completes or ctx is canceled.
func (t *Task) Wait(ctx context.Context) (Observation, error) {
	select {
	case <-t.done:
		return t.obs, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Submit schedules one simulation and returns immediately. Submit blocks
// only for rate limiting and for a free worker slot; the simulation
// itself runs in the background.
func (p *Pool) Submit(ctx context.Context, params []float64) (*Task, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	t := &Task{done: make(chan struct{})}
	go func() {
		defer p.sem.Release(1)
		t.obs, t.err = p.sim.Simulate(ctx, params)
		close(t.done)
	}()
	return t, nil
}

// Simulate schedules one simulation and waits for it.
func (p *Pool) Simulate(ctx context.Context, params []float64) (Observation, error) {
	t, err := p.Submit(ctx, params)
	if err != nil {
		return nil, err
	}
	return t.Wait(ctx)
}

// Map runs one simulation per parameter vector, bounded by the pool, and
// returns per-item results. Individual failures land in errs at the same
// position; they never abort the batch.
func (p *Pool) Map(ctx context.Context, params [][]float64) (obs []Observation, errs []error) {
	obs = make([]Observation, len(params))
	errs = make([]error, len(params))

	g, gctx := errgroup.WithContext(ctx)
	for i, v := range params {
		g.Go(func() error {
			obs[i], errs[i] = p.Simulate(gctx, v)
			return nil
		})
	}
	_ = g.Wait()
	return obs, errs
}

var _ Simulator = (*Pool)(nil)
