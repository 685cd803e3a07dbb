package swyft

import (
	"errors"

	"github.com/swyftgo/swyft/simulator"
)

var (
	// ErrShapeMismatch is returned when a simulator output field disagrees
	// with the store's declared schema. The offending entry is marked
	// failed; the batch continues.
	ErrShapeMismatch = simulator.ErrShapeMismatch

	// ErrInsufficientSamples is returned when a caller requests more
	// simulated samples than the store holds. Fatal to that call; add and
	// simulate more entries first.
	ErrInsufficientSamples = errors.New("swyft: insufficient simulated samples")

	// ErrConcurrencyConflict is returned when two writers race to finalize
	// the same entry. The loser fails loudly: a lost finalization means an
	// at-most-one-writer invariant was broken upstream.
	ErrConcurrencyConflict = errors.New("swyft: conflicting status transition")

	// ErrSchemaMismatch is returned when an attached simulator's declared
	// schema disagrees with the store's persisted schema.
	ErrSchemaMismatch = errors.New("swyft: simulator schema does not match store")

	// ErrNoSimulator is returned by Simulate when no simulator is attached.
	ErrNoSimulator = errors.New("swyft: no simulator attached")

	// ErrInvalidRequest is returned when a request violates an internal
	// invariant, such as a negative sample count.
	ErrInvalidRequest = errors.New("swyft: invalid request")

	// ErrCorruptStore is returned when a durable layout fails validation.
	ErrCorruptStore = errors.New("swyft: corrupt store layout")
)
