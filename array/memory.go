package array

import (
	"fmt"
	"sync"
)

// MemFloat64 is an in-memory Float64 array.
// Thread-safe for concurrent readers and writers within one process.
type MemFloat64 struct {
	mu    sync.RWMutex
	width int
	data  []float64 // row-major
}

// NewMemFloat64 creates an empty in-memory array with the given row width.
func NewMemFloat64(width int) *MemFloat64 {
	return &MemFloat64{width: width}
}

// Width returns the number of values per row.
func (a *MemFloat64) Width() int { return a.width }

// Len returns the number of rows.
func (a *MemFloat64) Len() (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.data) / a.width, nil
}

// Append appends rows and returns the index of the first appended row.
func (a *MemFloat64) Append(rows [][]float64) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := len(a.data) / a.width
	for _, row := range rows {
		if len(row) != a.width {
			return 0, fmt.Errorf("%w: got %d, want %d", ErrRowWidth, len(row), a.width)
		}
	}
	for _, row := range rows {
		a.data = append(a.data, row...)
	}
	return start, nil
}

// Row returns a copy of row i.
func (a *MemFloat64) Row(i int) ([]float64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if i < 0 || (i+1)*a.width > len(a.data) {
		return nil, fmt.Errorf("%w: row %d", ErrOutOfRange, i)
	}
	out := make([]float64, a.width)
	copy(out, a.data[i*a.width:(i+1)*a.width])
	return out, nil
}

// SetRow overwrites row i.
func (a *MemFloat64) SetRow(i int, row []float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(row) != a.width {
		return fmt.Errorf("%w: got %d, want %d", ErrRowWidth, len(row), a.width)
	}
	if i < 0 || (i+1)*a.width > len(a.data) {
		return fmt.Errorf("%w: row %d", ErrOutOfRange, i)
	}
	copy(a.data[i*a.width:(i+1)*a.width], row)
	return nil
}

// Truncate shrinks the array to at most n rows.
func (a *MemFloat64) Truncate(n int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n < 0 {
		n = 0
	}
	if n*a.width < len(a.data) {
		a.data = a.data[:n*a.width]
	}
	return nil
}

// MemInt64 is an in-memory Int64 array.
type MemInt64 struct {
	mu   sync.RWMutex
	data []int64
}

// NewMemInt64 creates an empty in-memory Int64 array.
func NewMemInt64() *MemInt64 {
	return &MemInt64{}
}

// Len returns the number of values.
func (a *MemInt64) Len() (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.data), nil
}

// Append appends values and returns the index of the first appended value.
func (a *MemInt64) Append(vals []int64) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := len(a.data)
	a.data = append(a.data, vals...)
	return start, nil
}

// Get returns value i.
func (a *MemInt64) Get(i int) (int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if i < 0 || i >= len(a.data) {
		return 0, fmt.Errorf("%w: index %d", ErrOutOfRange, i)
	}
	return a.data[i], nil
}

// Set overwrites value i.
func (a *MemInt64) Set(i int, v int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if i < 0 || i >= len(a.data) {
		return fmt.Errorf("%w: index %d", ErrOutOfRange, i)
	}
	a.data[i] = v
	return nil
}

// CompareAndSwap sets value i to new iff it equals old.
func (a *MemInt64) CompareAndSwap(i int, old, new int64) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if i < 0 || i >= len(a.data) {
		return false, fmt.Errorf("%w: index %d", ErrOutOfRange, i)
	}
	if a.data[i] != old {
		return false, nil
	}
	a.data[i] = new
	return true, nil
}

// All returns a copy of all values.
func (a *MemInt64) All() ([]int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]int64, len(a.data))
	copy(out, a.data)
	return out, nil
}

// Truncate shrinks the array to at most n values.
func (a *MemInt64) Truncate(n int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n < 0 {
		n = 0
	}
	if n < len(a.data) {
		a.data = a.data[:n]
	}
	return nil
}

// Compile-time interface checks
var (
	_ Float64 = (*MemFloat64)(nil)
	_ Int64   = (*MemInt64)(nil)
)
