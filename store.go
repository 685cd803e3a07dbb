package swyft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/exp/rand"

	"github.com/swyftgo/swyft/array"
	"github.com/swyftgo/swyft/intensity"
	"github.com/swyftgo/swyft/internal/filelock"
	"github.com/swyftgo/swyft/prior"
	"github.com/swyftgo/swyft/simulator"
)

const (
	storeMetaFile   = "store.json"
	intensitiesFile = "intensities.json"
	storeLockFile   = "LOCK"

	parsDir   = "pars"
	logwDir   = "logw"
	statusDir = "status"
	simsDir   = "sims"
)

const storeVersion = 1

type storeMeta struct {
	Version int              `json:"version"`
	Zdim    int              `json:"zdim"`
	Shapes  map[string][]int `json:"shapes"`
	Codec   string           `json:"codec"`
}

// Store is a simulation cache: an append-only table of (parameters,
// observation, status) entries plus the Poisson intensity accounting that
// decides how many fresh simulator runs a sample request needs.
//
// A Store is either in-memory (New) or directory-backed (Open, Load).
// Directory-backed stores may be held open by several processes at once;
// appends and status transitions coordinate through advisory file locks,
// so workers can complete entries while another process keeps adding.
type Store struct {
	logger    *Logger
	path      string // empty for in-memory stores
	codec     array.Codec
	chunkRows int

	allowNonFinite bool

	tab *table

	rngMu sync.Mutex
	rng   *rand.Rand

	simMu sync.RWMutex
	sim   simulator.Simulator

	// intens is authoritative for in-memory stores only; directory-backed
	// stores re-read intensities.json so records added by other processes
	// are visible.
	intensMu sync.Mutex
	intens   *intensity.Stack

	// inflight tracks entries this process has claimed and not yet
	// finalized, so Reclaim never steals an entry from a live local worker.
	inflightMu sync.Mutex
	inflight   map[int]struct{}

	bg sync.WaitGroup
}

// Entry is one simulation unit read back from a store.
type Entry struct {
	Index       int
	Params      []float64
	Observation simulator.Observation
	LogWeight   float64
	Status      Status
}

// New creates an in-memory store with the given parameter dimensionality
// and observation schema. With WithSimulator and no explicit schema, the
// simulator's declared shapes serve as the schema.
func New(zdim int, shapes map[string][]int, opts ...Option) (*Store, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}

	if shapes == nil && o.sim != nil {
		shapes = o.sim.Shapes()
	}
	if err := validateSchema(zdim, shapes); err != nil {
		return nil, err
	}
	if o.sim != nil && !shapesEqual(o.sim.Shapes(), shapes) {
		return nil, fmt.Errorf("%w: simulator shapes disagree with declared schema", ErrSchemaMismatch)
	}

	s := newStore(o, "", newMemTable(zdim, copyShapes(shapes)))
	s.intens = intensity.NewStack(nil)
	return s, nil
}

// Open opens the durable store at path, creating the directory layout if
// it does not exist yet. Creation requires a schema, supplied either via
// WithSchema or through an attached simulator's declared shapes. On the
// simulator path the parameter dimensionality is not known yet; it is
// fixed by the first Add, from the distribution's parameter count.
func Open(path string, opts ...Option) (*Store, error) {
	if _, err := os.Stat(filepath.Join(path, storeMetaFile)); err == nil {
		return Load(path, opts...)
	}

	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}

	zdim, shapes := o.zdim, o.shapes
	if shapes == nil && o.sim != nil {
		shapes = o.sim.Shapes()
	}
	if o.shapes != nil {
		if err := validateSchema(zdim, shapes); err != nil {
			return nil, err
		}
	} else if err := validateShapes(shapes); err != nil {
		return nil, err
	}
	if o.sim != nil && !shapesEqual(o.sim.Shapes(), shapes) {
		return nil, fmt.Errorf("%w: simulator shapes disagree with declared schema", ErrSchemaMismatch)
	}

	tab, err := createDirTable(path, zdim, copyShapes(shapes), o.codec, o.chunkRows)
	if err != nil {
		return nil, err
	}
	if err := writeJSONAtomic(filepath.Join(path, intensitiesFile), intensity.NewStack(nil)); err != nil {
		return nil, err
	}

	s := newStore(o, path, tab)
	s.logger.WithPath(path).Info("created durable store", "zdim", zdim)
	return s, nil
}

// Load opens an existing durable store; it fails if path does not hold
// one. A schema passed via WithSchema, or an attached simulator's shapes,
// is validated against the persisted schema.
func Load(path string, opts ...Option) (*Store, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}

	meta, err := readStoreMeta(path)
	if err != nil {
		return nil, err
	}
	if o.shapes != nil && ((meta.Zdim != 0 && o.zdim != meta.Zdim) || !shapesEqual(o.shapes, meta.Shapes)) {
		return nil, fmt.Errorf("%w: supplied schema disagrees with persisted schema", ErrSchemaMismatch)
	}
	if o.sim != nil && !shapesEqual(o.sim.Shapes(), meta.Shapes) {
		return nil, fmt.Errorf("%w: simulator shapes disagree with persisted schema", ErrSchemaMismatch)
	}

	codec, err := array.ParseCodec(meta.Codec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	o.codec = codec

	tab, err := openDirTable(path, meta, o.chunkRows, codec)
	if err != nil {
		return nil, err
	}

	s := newStore(o, path, tab)
	return s, nil
}

func newStore(o options, path string, tab *table) *Store {
	rng := o.rng
	if rng == nil {
		rng = newRNG()
	}
	return &Store{
		logger:         o.logger,
		path:           path,
		codec:          o.codec,
		chunkRows:      o.chunkRows,
		allowNonFinite: o.allowNonFinite,
		tab:            tab,
		rng:            rng,
		sim:            o.sim,
		inflight:       make(map[int]struct{}),
	}
}

func validateSchema(zdim int, shapes map[string][]int) error {
	if zdim <= 0 {
		return fmt.Errorf("%w: parameter dimensionality must be positive, got %d", ErrInvalidRequest, zdim)
	}
	return validateShapes(shapes)
}

func validateShapes(shapes map[string][]int) error {
	if len(shapes) == 0 {
		return fmt.Errorf("%w: observation schema is empty", ErrInvalidRequest)
	}
	for name, shape := range shapes {
		if simulator.NumElements(shape) <= 0 {
			return fmt.Errorf("%w: field %q has empty shape", ErrInvalidRequest, name)
		}
	}
	return nil
}

func copyShapes(shapes map[string][]int) map[string][]int {
	out := make(map[string][]int, len(shapes))
	for name, shape := range shapes {
		s := make([]int, len(shape))
		copy(s, shape)
		out[name] = s
	}
	return out
}

func shapesEqual(a, b map[string][]int) bool {
	if len(a) != len(b) {
		return false
	}
	for name, sa := range a {
		sb, ok := b[name]
		if !ok || len(sa) != len(sb) {
			return false
		}
		for i := range sa {
			if sa[i] != sb[i] {
				return false
			}
		}
	}
	return true
}

// createDirTable lays out a fresh durable store at path. Observation
// arrays use one row per chunk so a completed simulation rewrites exactly
// one file; parameter and weight columns use the configured chunk size.
// A zdim of zero defers the parameter column until the first append.
func createDirTable(path string, zdim int, shapes map[string][]int, codec array.Codec, chunkRows int) (*table, error) {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, err
	}

	logw, err := array.CreateDirFloat64(filepath.Join(path, logwDir), 1, chunkRows, codec)
	if err != nil {
		return nil, err
	}
	status, err := array.CreateDirInt64(filepath.Join(path, statusDir))
	if err != nil {
		return nil, err
	}

	t := &table{
		shapes: shapes,
		fields: sortedFields(shapes),
		logw:   logw,
		status: status,
		sims:   make(map[string]array.Float64, len(shapes)),
	}
	t.makePars = dirParsFactory(path, shapes, codec, chunkRows)
	if zdim > 0 {
		pars, err := array.CreateDirFloat64(filepath.Join(path, parsDir), zdim, chunkRows, codec)
		if err != nil {
			return nil, err
		}
		t.zdim = zdim
		t.pars = pars
	}
	for _, name := range t.fields {
		a, err := array.CreateDirFloat64(
			filepath.Join(path, simsDir, name), simulator.NumElements(shapes[name]), 1, codec)
		if err != nil {
			return nil, err
		}
		t.sims[name] = a
	}
	t.lock = dirTableLock(path)

	meta := storeMeta{Version: storeVersion, Zdim: zdim, Shapes: shapes, Codec: codec.String()}
	if err := writeJSONAtomic(filepath.Join(path, storeMetaFile), meta); err != nil {
		return nil, err
	}
	return t, nil
}

func openDirTable(path string, meta storeMeta, chunkRows int, codec array.Codec) (*table, error) {
	logw, err := array.OpenDirFloat64(filepath.Join(path, logwDir))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	status, err := array.OpenDirInt64(filepath.Join(path, statusDir))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}

	t := &table{
		shapes: meta.Shapes,
		fields: sortedFields(meta.Shapes),
		logw:   logw,
		status: status,
		sims:   make(map[string]array.Float64, len(meta.Shapes)),
	}
	t.makePars = dirParsFactory(path, meta.Shapes, codec, chunkRows)
	if meta.Zdim > 0 {
		pars, err := array.OpenDirFloat64(filepath.Join(path, parsDir))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
		}
		if pars.Width() != meta.Zdim {
			return nil, fmt.Errorf("%w: parameter width %d, schema says %d", ErrCorruptStore, pars.Width(), meta.Zdim)
		}
		t.zdim = meta.Zdim
		t.pars = pars
	}
	for _, name := range t.fields {
		a, err := array.OpenDirFloat64(filepath.Join(path, simsDir, name))
		if err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", ErrCorruptStore, name, err)
		}
		if a.Width() != simulator.NumElements(meta.Shapes[name]) {
			return nil, fmt.Errorf("%w: field %s width disagrees with schema", ErrCorruptStore, name)
		}
		t.sims[name] = a
	}
	t.lock = dirTableLock(path)
	return t, nil
}

// dirParsFactory materializes the parameter column of a durable store
// whose dimensionality was not declared at creation. The first append
// fixes the width and rewrites store.json so later Loads open the column
// directly. Runs under the store append lock, so a concurrent appender in
// another process finds the column already created and just opens it.
func dirParsFactory(path string, shapes map[string][]int, codec array.Codec, chunkRows int) func(int) (array.Float64, error) {
	return func(width int) (array.Float64, error) {
		dir := filepath.Join(path, parsDir)
		a, err := array.OpenDirFloat64(dir)
		switch {
		case err == nil:
			if a.Width() != width {
				return nil, fmt.Errorf("%w: got %d parameters, store has %d", array.ErrRowWidth, width, a.Width())
			}
		case errors.Is(err, fs.ErrNotExist):
			if a, err = array.CreateDirFloat64(dir, width, chunkRows, codec); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
		}

		meta := storeMeta{Version: storeVersion, Zdim: width, Shapes: shapes, Codec: codec.String()}
		if err := writeJSONAtomic(filepath.Join(path, storeMetaFile), meta); err != nil {
			return nil, err
		}
		return a, nil
	}
}

// dirTableLock scopes multi-column appends with the store-level lock file,
// which also guards intensities.json updates.
func dirTableLock(path string) func() (func(), error) {
	lockPath := filepath.Join(path, storeLockFile)
	return func() (func(), error) {
		l, err := filelock.Acquire(lockPath)
		if err != nil {
			return nil, err
		}
		return func() { _ = l.Release() }, nil
	}
}

func readStoreMeta(path string) (storeMeta, error) {
	data, err := os.ReadFile(filepath.Join(path, storeMetaFile)) //nolint:gosec // G304: caller-supplied store path
	if err != nil {
		return storeMeta{}, err
	}
	var meta storeMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return storeMeta{}, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	if meta.Version != storeVersion {
		return storeMeta{}, fmt.Errorf("%w: layout version %d, want %d", ErrCorruptStore, meta.Version, storeVersion)
	}
	// Zdim zero means the parameter column is still deferred.
	if meta.Zdim < 0 {
		return storeMeta{}, fmt.Errorf("%w: negative parameter dimensionality %d", ErrCorruptStore, meta.Zdim)
	}
	if err := validateShapes(meta.Shapes); err != nil {
		return storeMeta{}, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	return meta, nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Zdim returns the parameter dimensionality. For a store created from a
// simulator alone it is zero until the first Add fixes it.
func (s *Store) Zdim() int { return s.tab.paramWidth() }

// Shapes returns a copy of the observation schema.
func (s *Store) Shapes() map[string][]int { return copyShapes(s.tab.shapes) }

// Path returns the durable layout directory, empty for in-memory stores.
func (s *Store) Path() string { return s.path }

// Len returns the number of entries.
func (s *Store) Len() (int, error) { return s.tab.count() }

// Entry reads entry i in full.
func (s *Store) Entry(i int) (Entry, error) {
	params, err := s.tab.params(i)
	if err != nil {
		return Entry{}, err
	}
	obs, err := s.tab.observation(i)
	if err != nil {
		return Entry{}, err
	}
	logw, err := s.tab.logWeight(i)
	if err != nil {
		return Entry{}, err
	}
	st, err := s.tab.statusOf(i)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Index: i, Params: params, Observation: obs, LogWeight: logw, Status: st}, nil
}

// RequiresSim reports whether any entry still requires simulation.
func (s *Store) RequiresSim() (bool, error) {
	bm, err := s.tab.pending()
	if err != nil {
		return false, err
	}
	return !bm.IsEmpty(), nil
}

// SimulationStatus returns the status of every entry in index order. The
// numeric codes are externally stable: 0 pending, 1 running, 2 done,
// 3 failed.
func (s *Store) SimulationStatus() ([]Status, error) {
	return s.tab.statusVector()
}

// PendingIndices returns the entries requiring simulation in ascending
// index order, identical for every process reading the same state.
func (s *Store) PendingIndices() ([]int, error) {
	bm, err := s.tab.pending()
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out, nil
}

// SetSimulator attaches or replaces the simulator. Its declared shapes
// must match the store's schema.
func (s *Store) SetSimulator(sim simulator.Simulator) error {
	if sim == nil {
		return fmt.Errorf("%w: nil simulator", ErrInvalidRequest)
	}
	if !shapesEqual(sim.Shapes(), s.tab.shapes) {
		return fmt.Errorf("%w: simulator shapes disagree with store schema", ErrSchemaMismatch)
	}
	s.simMu.Lock()
	s.sim = sim
	s.simMu.Unlock()
	return nil
}

func (s *Store) simulatorRef() simulator.Simulator {
	s.simMu.RLock()
	defer s.simMu.RUnlock()
	return s.sim
}

// loadStack returns the store's intensity records. Directory-backed
// stores re-read the file so records appended by other processes count.
func (s *Store) loadStack() (*intensity.Stack, error) {
	if s.path == "" {
		s.intensMu.Lock()
		defer s.intensMu.Unlock()
		return intensity.NewStack(s.intens.Records()), nil
	}

	data, err := os.ReadFile(filepath.Join(s.path, intensitiesFile)) //nolint:gosec // G304: path is store-internal
	if os.IsNotExist(err) {
		return intensity.NewStack(nil), nil
	}
	if err != nil {
		return nil, err
	}
	st := intensity.NewStack(nil)
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	return st, nil
}

// appendRecord durably registers a sample request. For directory-backed
// stores the read-append-write runs under the store lock so concurrent
// requesters cannot drop each other's records.
func (s *Store) appendRecord(rec intensity.Record) error {
	if s.path == "" {
		s.intensMu.Lock()
		s.intens.Append(rec)
		s.intensMu.Unlock()
		return nil
	}

	release, err := s.tab.lock()
	if err != nil {
		return err
	}
	defer release()

	st, err := s.loadStack()
	if err != nil {
		return err
	}
	st.Append(rec)
	return writeJSONAtomic(filepath.Join(s.path, intensitiesFile), st)
}

type addOptions struct {
	skipCoverage bool
}

// AddOption configures Add and Sample.
type AddOption func(*addOptions)

// WithoutCoverage skips the coverage accounting: a full Poisson(n) draw is
// appended regardless of what the store already holds.
func WithoutCoverage() AddOption {
	return func(o *addOptions) {
		o.skipCoverage = true
	}
}

// Add draws parameters for an expected n samples under dist and appends
// the shortfall as pending entries. The actual appended count is
// Poisson-distributed: draws from the store are themselves Poisson, so
// the request over-provisions to keep combined counts Poisson with the
// right mean. Returns the number of entries appended.
func (s *Store) Add(ctx context.Context, n float64, dist prior.Distribution, opts ...AddOption) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if dist == nil {
		return 0, fmt.Errorf("%w: nil distribution", ErrInvalidRequest)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: negative sample count %g", ErrInvalidRequest, n)
	}
	if zdim := s.tab.paramWidth(); zdim != 0 && dist.NumParameters() != zdim {
		return 0, fmt.Errorf("%w: distribution over %d parameters, store has %d",
			ErrInvalidRequest, dist.NumParameters(), zdim)
	}

	var o addOptions
	for _, fn := range opts {
		fn(&o)
	}

	stack := intensity.NewStack(nil)
	if !o.skipCoverage {
		var err error
		stack, err = s.loadStack()
		if err != nil {
			return 0, err
		}
	}

	target := intensity.Record{Dist: dist, N: n}

	s.rngMu.Lock()
	points, logw := stack.Propose(target, s.rng)
	s.rngMu.Unlock()

	if len(points) > 0 {
		if _, err := s.tab.append(points, logw); err != nil {
			return 0, err
		}
	}
	if err := s.appendRecord(target); err != nil {
		return 0, err
	}

	s.logger.WithCount(len(points)).Info("adding new samples")
	return len(points), nil
}

// Coverage returns the fraction in [0, 1] of a request for n samples
// under dist already answerable from stored entries. Failed entries never
// count. An empty store covers nothing; n ≤ 0 is fully covered.
func (s *Store) Coverage(n float64, dist prior.Distribution) (float64, error) {
	if dist == nil {
		return 0, fmt.Errorf("%w: nil distribution", ErrInvalidRequest)
	}
	points, logw, err := s.liveEntries()
	if err != nil {
		return 0, err
	}
	return intensity.Coverage(points, logw, intensity.Record{Dist: dist, N: n}), nil
}

// Sample grows the store to cover an expected n samples under dist and
// returns the indices of all entries usable for the request, whatever
// their simulation status. Simulate the pending ones before training.
func (s *Store) Sample(ctx context.Context, n float64, dist prior.Distribution, opts ...AddOption) ([]int, error) {
	if _, err := s.Add(ctx, n, dist, opts...); err != nil {
		return nil, err
	}
	return s.selectIndices(intensity.Record{Dist: dist, N: n})
}

// selectIndices thins stored entries against a target request: entry i is
// selected iff it is not failed and its stored log-weight lies below the
// target log-intensity at its parameters.
func (s *Store) selectIndices(target intensity.Record) ([]int, error) {
	statuses, err := s.tab.statusVector()
	if err != nil {
		return nil, err
	}

	var idx []int
	for i, st := range statuses {
		if st == StatusFailed {
			continue
		}
		v, err := s.tab.params(i)
		if err != nil {
			return nil, err
		}
		w, err := s.tab.logWeight(i)
		if err != nil {
			return nil, err
		}
		if w < target.LogIntensity(v) {
			idx = append(idx, i)
		}
	}
	return idx, nil
}

// liveEntries returns parameters and log-weights of all non-failed
// entries, for coverage computation.
func (s *Store) liveEntries() (points [][]float64, logw []float64, err error) {
	statuses, err := s.tab.statusVector()
	if err != nil {
		return nil, nil, err
	}
	for i, st := range statuses {
		if st == StatusFailed {
			continue
		}
		v, err := s.tab.params(i)
		if err != nil {
			return nil, nil, err
		}
		w, err := s.tab.logWeight(i)
		if err != nil {
			return nil, nil, err
		}
		points = append(points, v)
		logw = append(logw, w)
	}
	return points, logw, nil
}

func hasNonFinite(obs simulator.Observation) bool {
	for _, vals := range obs {
		for _, v := range vals {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return true
			}
		}
	}
	return false
}

// Wait blocks until all background simulation batches started with
// WithNoWait have completed.
func (s *Store) Wait() {
	s.bg.Wait()
}

// Close waits for in-flight background work. The store must not be used
// afterwards.
func (s *Store) Close() error {
	s.bg.Wait()
	return nil
}
