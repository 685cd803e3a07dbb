package array

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/swyftgo/swyft/internal/filelock"
)

const int64DataFile = "data.bin"

// DirInt64 is a directory-backed Int64 array.
//
// Values are stored uncompressed at fixed offsets in a single data file so
// a single value (one entry's simulation status) can be updated in place
// without rewriting its neighbors. Mutations hold the array lock; the
// write itself touches only the 8 bytes of the target value, never the
// whole store.
type DirInt64 struct {
	dir string
}

// CreateDirInt64 initializes a new directory array.
func CreateDirInt64(dir string) (*DirInt64, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(dir, metaFile)); err == nil {
		return nil, fmt.Errorf("array: %s already contains an array", dir)
	}

	m := dirMeta{Version: metaVersion, Dtype: "int64", Width: 1}
	if err := writeMeta(dir, m); err != nil {
		return nil, err
	}
	if err := writeLength(dir, 0); err != nil {
		return nil, err
	}
	return &DirInt64{dir: dir}, nil
}

// OpenDirInt64 opens an existing directory array.
func OpenDirInt64(dir string) (*DirInt64, error) {
	m, err := readMeta(dir)
	if err != nil {
		return nil, err
	}
	if m.Dtype != "int64" {
		return nil, fmt.Errorf("%w: dtype %q, want int64", ErrCorrupt, m.Dtype)
	}
	return &DirInt64{dir: dir}, nil
}

func (a *DirInt64) dataPath() string {
	return filepath.Join(a.dir, int64DataFile)
}

// Len returns the committed number of values.
func (a *DirInt64) Len() (int, error) {
	return readLength(a.dir)
}

// Append appends values under the array lock.
func (a *DirInt64) Append(vals []int64) (int, error) {
	lock, err := filelock.Acquire(filepath.Join(a.dir, lockFile))
	if err != nil {
		return 0, err
	}
	defer func() { _ = lock.Release() }()

	start, err := readLength(a.dir)
	if err != nil {
		return 0, err
	}

	f, err := os.OpenFile(a.dataPath(), os.O_CREATE|os.O_RDWR, 0o600) //nolint:gosec // G304: path is store-internal
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
	}
	if _, err := f.WriteAt(buf, int64(start)*8); err != nil {
		return 0, err
	}
	if err := f.Sync(); err != nil {
		return 0, err
	}

	if err := writeLength(a.dir, start+len(vals)); err != nil {
		return 0, err
	}
	return start, nil
}

// Get returns value i.
func (a *DirInt64) Get(i int) (int64, error) {
	n, err := readLength(a.dir)
	if err != nil {
		return 0, err
	}
	if i < 0 || i >= n {
		return 0, fmt.Errorf("%w: index %d of %d", ErrOutOfRange, i, n)
	}

	f, err := os.Open(a.dataPath()) //nolint:gosec // G304: path is store-internal
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	var buf [8]byte
	if _, err := f.ReadAt(buf[:], int64(i)*8); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}

// Set overwrites value i under the array lock.
func (a *DirInt64) Set(i int, v int64) error {
	lock, err := filelock.Acquire(filepath.Join(a.dir, lockFile))
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	return a.writeValue(i, v)
}

// CompareAndSwap sets value i to new iff it currently equals old. The
// read-compare-write sequence runs under the array lock, so concurrent
// processes cannot both win the same transition.
func (a *DirInt64) CompareAndSwap(i int, old, new int64) (bool, error) {
	lock, err := filelock.Acquire(filepath.Join(a.dir, lockFile))
	if err != nil {
		return false, err
	}
	defer func() { _ = lock.Release() }()

	cur, err := a.Get(i)
	if err != nil {
		return false, err
	}
	if cur != old {
		return false, nil
	}
	if err := a.writeValue(i, new); err != nil {
		return false, err
	}
	return true, nil
}

// All returns a copy of all committed values.
func (a *DirInt64) All() ([]int64, error) {
	n, err := readLength(a.dir)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	f, err := os.Open(a.dataPath()) //nolint:gosec // G304: path is store-internal
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 8*n)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	vals := make([]int64, n)
	for i := range vals {
		vals[i] = int64(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vals, nil
}

// writeValue writes the 8 bytes of value i. Caller holds the array lock.
func (a *DirInt64) writeValue(i int, v int64) error {
	n, err := readLength(a.dir)
	if err != nil {
		return err
	}
	if i < 0 || i >= n {
		return fmt.Errorf("%w: index %d of %d", ErrOutOfRange, i, n)
	}

	f, err := os.OpenFile(a.dataPath(), os.O_RDWR, 0o600) //nolint:gosec // G304: path is store-internal
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	if _, err := f.WriteAt(buf[:], int64(i)*8); err != nil {
		return err
	}
	return f.Sync()
}

// Truncate shrinks the committed length to at most n values.
func (a *DirInt64) Truncate(n int) error {
	lock, err := filelock.Acquire(filepath.Join(a.dir, lockFile))
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	cur, err := readLength(a.dir)
	if err != nil {
		return err
	}
	if n < 0 {
		n = 0
	}
	if n >= cur {
		return nil
	}
	return writeLength(a.dir, n)
}

var _ Int64 = (*DirInt64)(nil)
