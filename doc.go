// Package swyft implements a simulation cache for truncated marginal
// neural ratio estimation workflows: an append-only, concurrency-safe
// store of (parameters, observation, status) entries with in-memory and
// directory-backed persistence, Poisson point-process coverage accounting
// that decides how many fresh simulator runs a sample request needs, and
// synchronous or background simulation execution with safe multi-process
// resumption.
//
// A typical round trip:
//
//	sim := simulator.NewFunc(map[string][]int{"x": {2}}, run)
//	store, err := swyft.Open("run1.store", swyft.WithSimulator(sim))
//	if err != nil { ... }
//
//	p, err := prior.NewUniform([]float64{-1, -1}, []float64{1, 1})
//	if err != nil { ... }
//	if _, err := store.Add(ctx, 1000, p); err != nil { ... }
//	if err := store.Simulate(ctx, swyft.WithMaxParallel(8)); err != nil { ... }
//
//	ds, err := swyft.NewDataset(store, 1000, p)
//
// Several processes may hold the same directory-backed store open;
// appends and status transitions coordinate through advisory file locks,
// so distributed workers can drain pending entries while a notebook keeps
// adding new ones.
package swyft
