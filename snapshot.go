package swyft

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/swyftgo/swyft/blobstore"
	"github.com/swyftgo/swyft/intensity"
)

// snapshot reads a point-in-time copy of the table. The status vector is
// read first and bounds every column, so an append racing the snapshot is
// simply not included.
type snapshot struct {
	statuses []Status
	points   [][]float64
	logw     []float64
	sims     map[string][][]float64
	records  []intensity.Record
}

func (s *Store) snapshot() (*snapshot, error) {
	statuses, err := s.tab.statusVector()
	if err != nil {
		return nil, err
	}
	n := len(statuses)

	snap := &snapshot{
		statuses: statuses,
		points:   make([][]float64, n),
		logw:     make([]float64, n),
		sims:     make(map[string][][]float64, len(s.tab.fields)),
	}
	for i := 0; i < n; i++ {
		if snap.points[i], err = s.tab.params(i); err != nil {
			return nil, err
		}
		if snap.logw[i], err = s.tab.logWeight(i); err != nil {
			return nil, err
		}
	}
	for _, name := range s.tab.fields {
		rows := make([][]float64, n)
		for i := 0; i < n; i++ {
			if rows[i], err = s.tab.sims[name].Row(i); err != nil {
				return nil, err
			}
		}
		snap.sims[name] = rows
	}

	stack, err := s.loadStack()
	if err != nil {
		return nil, err
	}
	snap.records = stack.Records()
	return snap, nil
}

// restore writes a snapshot into an empty table.
func (snap *snapshot) restore(t *table) error {
	n := len(snap.statuses)
	if n == 0 {
		return nil
	}

	pars, err := t.ensurePars(len(snap.points[0]))
	if err != nil {
		return err
	}
	if _, err := pars.Append(snap.points); err != nil {
		return err
	}
	logwRows := make([][]float64, n)
	for i, w := range snap.logw {
		logwRows[i] = []float64{w}
	}
	if _, err := t.logw.Append(logwRows); err != nil {
		return err
	}
	for _, name := range t.fields {
		if _, err := t.sims[name].Append(snap.sims[name]); err != nil {
			return err
		}
	}
	vals := make([]int64, n)
	for i, st := range snap.statuses {
		vals[i] = int64(st)
	}
	if _, err := t.status.Append(vals); err != nil {
		return err
	}
	return nil
}

// Save serializes the store's current state into a durable layout at
// path. Works for in-memory stores too, which is how a memory store
// becomes resumable.
func (s *Store) Save(path string) error {
	if s.path != "" && filepath.Clean(path) == filepath.Clean(s.path) {
		return fmt.Errorf("%w: store already lives at %s", ErrInvalidRequest, path)
	}

	snap, err := s.snapshot()
	if err != nil {
		return err
	}

	dst, err := createDirTable(path, s.tab.paramWidth(), copyShapes(s.tab.shapes), s.codec, s.chunkRows)
	if err != nil {
		return err
	}
	if err := snap.restore(dst); err != nil {
		return err
	}
	if err := writeJSONAtomic(filepath.Join(path, intensitiesFile), intensity.NewStack(snap.records)); err != nil {
		return err
	}

	s.logger.WithPath(path).WithCount(len(snap.statuses)).Info("saved store")
	return nil
}

// ToMemory returns an in-memory copy of the store's current state. The
// copy is a point-in-time snapshot: later writes to the source are not
// reflected. The simulator reference carries over.
func (s *Store) ToMemory() (*Store, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}

	tab := newMemTable(s.tab.paramWidth(), copyShapes(s.tab.shapes))
	if err := snap.restore(tab); err != nil {
		return nil, err
	}

	m := &Store{
		logger:         s.logger,
		codec:          s.codec,
		chunkRows:      s.chunkRows,
		allowNonFinite: s.allowNonFinite,
		tab:            tab,
		rng:            newRNG(),
		sim:            s.simulatorRef(),
		intens:         intensity.NewStack(snap.records),
		inflight:       make(map[int]struct{}),
	}
	return m, nil
}

// Push copies the store into a blob archive under prefix, for
// distribution to other machines. In-memory stores are serialized through
// a temporary directory first.
func (s *Store) Push(ctx context.Context, bs blobstore.BlobStore, prefix string) error {
	dir := s.path
	if dir == "" {
		tmp, err := os.MkdirTemp("", "swyft-push-*")
		if err != nil {
			return err
		}
		defer func() { _ = os.RemoveAll(tmp) }()
		if err := s.Save(tmp); err != nil {
			return err
		}
		dir = tmp
	}

	if err := blobstore.Upload(ctx, bs, prefix, dir); err != nil {
		return err
	}
	s.logger.Info("pushed store snapshot", "prefix", prefix)
	return nil
}

// Pull restores an archived store snapshot into a durable layout at path
// and loads it.
func Pull(ctx context.Context, bs blobstore.BlobStore, prefix, path string, opts ...Option) (*Store, error) {
	if err := blobstore.Download(ctx, bs, prefix, path); err != nil {
		return nil, err
	}
	return Load(path, opts...)
}
