package array

import "errors"

var (
	// ErrRowWidth is returned when a row does not match the array width.
	ErrRowWidth = errors.New("array: row width mismatch")

	// ErrOutOfRange is returned when an index is beyond the committed length.
	ErrOutOfRange = errors.New("array: index out of range")

	// ErrCorrupt is returned when on-disk state fails validation.
	ErrCorrupt = errors.New("array: corrupt data")
)

// Float64 is a growable array of fixed-width float64 rows.
//
// Len re-reads the committed length on every call for directory-backed
// arrays, so a process always observes appends committed by others before
// acting on the array.
type Float64 interface {
	// Width returns the number of float64 values per row.
	Width() int

	// Len returns the committed number of rows.
	Len() (int, error)

	// Append atomically appends rows and returns the index of the first
	// appended row. Safe against concurrent appenders from separate
	// processes for directory-backed arrays.
	Append(rows [][]float64) (int, error)

	// Row returns a copy of row i.
	Row(i int) ([]float64, error)

	// SetRow overwrites row i in place.
	SetRow(i int, row []float64) error

	// Truncate shrinks the committed length to at most n rows. Used to
	// repair a column that ran ahead of its table after a crashed
	// multi-column append; it never grows the array.
	Truncate(n int) error
}

// Int64 is a growable array of int64 values with in-place updates.
//
// It backs the per-entry simulation status column, so it additionally
// supports an atomic compare-and-swap used for status transitions.
type Int64 interface {
	// Len returns the committed number of values.
	Len() (int, error)

	// Append atomically appends values and returns the index of the first
	// appended value.
	Append(vals []int64) (int, error)

	// Get returns value i.
	Get(i int) (int64, error)

	// Set overwrites value i.
	Set(i int, v int64) error

	// CompareAndSwap sets value i to new iff it currently equals old.
	// Returns whether the swap happened.
	CompareAndSwap(i int, old, new int64) (bool, error)

	// All returns a copy of all committed values.
	All() ([]int64, error)

	// Truncate shrinks the committed length to at most n values.
	Truncate(n int) error
}
