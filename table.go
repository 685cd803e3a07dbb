package swyft

import (
	"fmt"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/swyftgo/swyft/array"
	"github.com/swyftgo/swyft/simulator"
)

// table is the indexed record store behind a Store: one column per
// logical field, each backed by a memory or directory array.
//
// The status column is authoritative for the entry count. Appends write
// the data columns first and the status column last, all under the
// table-level append lock, so a crash between column writes leaves only
// an over-long data column, which the next append truncates back into
// agreement before assigning indices.
// Stores created from a simulator alone do not know the parameter
// dimensionality up front: pars stays nil and zdim zero until the first
// append fixes the width through makePars.
type table struct {
	shapes map[string][]int
	fields []string // sorted field names, deterministic iteration order

	// parsMu guards zdim and pars until the first append materializes
	// the parameter column.
	parsMu   sync.RWMutex
	zdim     int
	pars     array.Float64
	makePars func(width int) (array.Float64, error)

	logw   array.Float64
	status array.Int64
	sims   map[string]array.Float64

	// lock serializes multi-column appends. In-process mutex for memory
	// tables, advisory file lock for directory tables.
	lock func() (release func(), err error)
}

func sortedFields(shapes map[string][]int) []string {
	fields := make([]string, 0, len(shapes))
	for name := range shapes {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return fields
}

// newMemTable builds an in-memory table for the given schema. A zdim of
// zero defers the parameter column until the first append.
func newMemTable(zdim int, shapes map[string][]int) *table {
	t := &table{
		shapes: shapes,
		fields: sortedFields(shapes),
		logw:   array.NewMemFloat64(1),
		status: array.NewMemInt64(),
		sims:   make(map[string]array.Float64, len(shapes)),
	}
	t.makePars = func(width int) (array.Float64, error) {
		return array.NewMemFloat64(width), nil
	}
	if zdim > 0 {
		t.zdim = zdim
		t.pars = array.NewMemFloat64(zdim)
	}
	for _, name := range t.fields {
		t.sims[name] = array.NewMemFloat64(simulator.NumElements(shapes[name]))
	}

	var mu sync.Mutex
	t.lock = func() (func(), error) {
		mu.Lock()
		return mu.Unlock, nil
	}
	return t
}

// count returns the number of entries (status column length).
func (t *table) count() (int, error) {
	return t.status.Len()
}

// paramWidth returns the parameter dimensionality, zero while no append
// has fixed it yet.
func (t *table) paramWidth() int {
	t.parsMu.RLock()
	defer t.parsMu.RUnlock()
	return t.zdim
}

// parsArray returns the parameter column, nil while deferred.
func (t *table) parsArray() array.Float64 {
	t.parsMu.RLock()
	defer t.parsMu.RUnlock()
	return t.pars
}

// ensurePars materializes the parameter column on first use. The caller
// holds the table append lock, which serializes materialization across
// processes for directory tables.
func (t *table) ensurePars(width int) (array.Float64, error) {
	t.parsMu.Lock()
	defer t.parsMu.Unlock()

	if t.pars != nil {
		if t.pars.Width() != width {
			return nil, fmt.Errorf("%w: got %d parameters, table has %d", array.ErrRowWidth, width, t.pars.Width())
		}
		return t.pars, nil
	}
	a, err := t.makePars(width)
	if err != nil {
		return nil, err
	}
	t.pars = a
	t.zdim = width
	return a, nil
}

// append assigns dense indices to new entries: parameters, log-weights,
// zeroed observation slots, then pending statuses. Returns the index of
// the first appended entry.
func (t *table) append(points [][]float64, logw []float64) (int, error) {
	if len(points) != len(logw) {
		return 0, fmt.Errorf("%w: %d points with %d weights", ErrInvalidRequest, len(points), len(logw))
	}
	if len(points) == 0 {
		return t.status.Len()
	}

	release, err := t.lock()
	if err != nil {
		return 0, err
	}
	defer release()

	pars, err := t.ensurePars(len(points[0]))
	if err != nil {
		return 0, err
	}

	start, err := t.status.Len()
	if err != nil {
		return 0, err
	}

	// Repair columns a crashed appender left ahead of the status column.
	if err := pars.Truncate(start); err != nil {
		return 0, err
	}
	if err := t.logw.Truncate(start); err != nil {
		return 0, err
	}
	for _, name := range t.fields {
		if err := t.sims[name].Truncate(start); err != nil {
			return 0, err
		}
	}

	if _, err := pars.Append(points); err != nil {
		return 0, err
	}

	logwRows := make([][]float64, len(logw))
	for i, w := range logw {
		logwRows[i] = []float64{w}
	}
	if _, err := t.logw.Append(logwRows); err != nil {
		return 0, err
	}

	for _, name := range t.fields {
		width := simulator.NumElements(t.shapes[name])
		slots := make([][]float64, len(points))
		for i := range slots {
			slots[i] = make([]float64, width)
		}
		if _, err := t.sims[name].Append(slots); err != nil {
			return 0, err
		}
	}

	statuses := make([]int64, len(points))
	for i := range statuses {
		statuses[i] = int64(StatusPending)
	}
	if _, err := t.status.Append(statuses); err != nil {
		return 0, err
	}
	return start, nil
}

// params returns the parameter vector of entry i.
func (t *table) params(i int) ([]float64, error) {
	pars := t.parsArray()
	if pars == nil {
		return nil, fmt.Errorf("%w: row %d of 0", array.ErrOutOfRange, i)
	}
	return pars.Row(i)
}

// logWeight returns the thinning log-weight of entry i.
func (t *table) logWeight(i int) (float64, error) {
	row, err := t.logw.Row(i)
	if err != nil {
		return 0, err
	}
	return row[0], nil
}

// observation returns the observation of entry i, one slice per field.
func (t *table) observation(i int) (simulator.Observation, error) {
	obs := make(simulator.Observation, len(t.fields))
	for _, name := range t.fields {
		row, err := t.sims[name].Row(i)
		if err != nil {
			return nil, err
		}
		obs[name] = row
	}
	return obs, nil
}

// statusOf returns the status of entry i.
func (t *table) statusOf(i int) (Status, error) {
	v, err := t.status.Get(i)
	if err != nil {
		return 0, err
	}
	return Status(v), nil
}

// statusVector returns the status of every entry, in index order.
func (t *table) statusVector() ([]Status, error) {
	vals, err := t.status.All()
	if err != nil {
		return nil, err
	}
	out := make([]Status, len(vals))
	for i, v := range vals {
		out[i] = Status(v)
	}
	return out, nil
}

// pending returns the set of entries requiring simulation.
func (t *table) pending() (*roaring.Bitmap, error) {
	vals, err := t.status.All()
	if err != nil {
		return nil, err
	}
	bm := roaring.New()
	for i, v := range vals {
		if Status(v) == StatusPending {
			bm.Add(uint32(i))
		}
	}
	return bm, nil
}

// claim transitions entry i from pending to running. Returns false when
// another writer already owns the entry.
func (t *table) claim(i int) (bool, error) {
	return t.status.CompareAndSwap(i, int64(StatusPending), int64(StatusRunning))
}

// release transitions entry i from running back to pending (stale-lease
// reclamation). Returns false when the entry moved on in the meantime.
func (t *table) release(i int) (bool, error) {
	return t.status.CompareAndSwap(i, int64(StatusRunning), int64(StatusPending))
}

// setResult stores a validated observation and finalizes entry i as done.
// The observation data is committed before the status flips, so an entry
// is never counted done without valid data for every declared field.
func (t *table) setResult(i int, obs simulator.Observation) error {
	if err := simulator.Validate(obs, t.shapes); err != nil {
		return err
	}

	for _, name := range t.fields {
		if err := t.sims[name].SetRow(i, obs[name]); err != nil {
			return err
		}
	}

	swapped, err := t.status.CompareAndSwap(i, int64(StatusRunning), int64(StatusDone))
	if err != nil {
		return err
	}
	if !swapped {
		cur, _ := t.statusOf(i)
		return fmt.Errorf("%w: entry %d is %s, expected running", ErrConcurrencyConflict, i, cur)
	}
	return nil
}

// markFailed finalizes entry i as failed.
func (t *table) markFailed(i int) error {
	swapped, err := t.status.CompareAndSwap(i, int64(StatusRunning), int64(StatusFailed))
	if err != nil {
		return err
	}
	if !swapped {
		cur, _ := t.statusOf(i)
		return fmt.Errorf("%w: entry %d is %s, expected running", ErrConcurrencyConflict, i, cur)
	}
	return nil
}
