package swyft

import (
	"time"

	"golang.org/x/exp/rand"

	"github.com/swyftgo/swyft/array"
	"github.com/swyftgo/swyft/simulator"
)

type options struct {
	logger         *Logger
	codec          array.Codec
	chunkRows      int
	rng            *rand.Rand
	sim            simulator.Simulator
	zdim           int
	shapes         map[string][]int
	allowNonFinite bool
}

// Option configures Store constructors.
type Option func(*options)

func defaultOptions() options {
	return options{
		logger:    NewLogger(nil),
		codec:     array.CodecZSTD,
		chunkRows: 4096,
	}
}

// WithLogger sets the logger. Nil restores the default text logger.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NewLogger(nil)
		}
		o.logger = l
	}
}

// WithCodec sets the chunk compression codec for durable parameter and
// observation arrays. Default is zstd; lz4 trades ratio for speed.
func WithCodec(c array.Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithChunkRows sets the chunk size (rows per chunk file) for the
// parameter and weight columns. Observation columns always use one row
// per chunk so a completed simulation rewrites exactly one file.
func WithChunkRows(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.chunkRows = n
		}
	}
}

// WithSeed seeds the store's random source. Two stores created with the
// same seed draw identical parameter proposals.
//
// Without a seed the source is time-seeded.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.rng = rand.New(rand.NewSource(seed))
	}
}

// WithRand supplies the random source directly.
func WithRand(rng *rand.Rand) Option {
	return func(o *options) {
		o.rng = rng
	}
}

// WithSimulator attaches a simulator at construction time. For a store
// being created (not loaded) the simulator's declared shapes also serve
// as the observation schema; the parameter dimensionality is then fixed
// by the first Add, from the prior's parameter count.
func WithSimulator(sim simulator.Simulator) Option {
	return func(o *options) {
		o.sim = sim
	}
}

// WithSchema declares the parameter dimensionality and observation
// schema. Required when creating a durable store without a simulator;
// on load it is validated against the persisted schema.
func WithSchema(zdim int, shapes map[string][]int) Option {
	return func(o *options) {
		o.zdim = zdim
		o.shapes = shapes
	}
}

// WithAllowNonFinite disables the default policy of failing entries
// whose observations contain NaN or Inf values.
func WithAllowNonFinite() Option {
	return func(o *options) {
		o.allowNonFinite = true
	}
}

func newRNG() *rand.Rand {
	return rand.New(rand.NewSource(uint64(time.Now().UnixNano())))
}
