package array

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/swyftgo/swyft/internal/filelock"
)

// DirFloat64 is a directory-backed Float64 array.
//
// Rows live in block-compressed chunk files of chunkRows rows each. The
// committed row count lives in a separate length file; it is only
// advanced after the chunk data it refers to has been committed, so a
// reader (or a crashed writer's successor) never observes rows that were
// not fully written.
//
// Multiple processes may hold the same directory open. Mutations take an
// advisory lock on the LOCK file for their duration; reads are lock-free
// and bounded by the committed length.
type DirFloat64 struct {
	dir       string
	width     int
	chunkRows int
	codec     Codec
}

// CreateDirFloat64 initializes a new directory array. The directory is
// created if needed and must not already contain an array.
func CreateDirFloat64(dir string, width, chunkRows int, codec Codec) (*DirFloat64, error) {
	if width <= 0 {
		return nil, fmt.Errorf("array: width must be positive, got %d", width)
	}
	if chunkRows <= 0 {
		chunkRows = 1
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(dir, metaFile)); err == nil {
		return nil, fmt.Errorf("array: %s already contains an array", dir)
	}

	m := dirMeta{
		Version:   metaVersion,
		Dtype:     "float64",
		Width:     width,
		ChunkRows: chunkRows,
		Codec:     codec.String(),
	}
	if err := writeMeta(dir, m); err != nil {
		return nil, err
	}
	if err := writeLength(dir, 0); err != nil {
		return nil, err
	}

	return &DirFloat64{dir: dir, width: width, chunkRows: chunkRows, codec: codec}, nil
}

// OpenDirFloat64 opens an existing directory array.
func OpenDirFloat64(dir string) (*DirFloat64, error) {
	m, err := readMeta(dir)
	if err != nil {
		return nil, err
	}
	if m.Dtype != "float64" {
		return nil, fmt.Errorf("%w: dtype %q, want float64", ErrCorrupt, m.Dtype)
	}
	codec, err := ParseCodec(m.Codec)
	if err != nil {
		return nil, err
	}
	return &DirFloat64{dir: dir, width: m.Width, chunkRows: m.ChunkRows, codec: codec}, nil
}

// Width returns the number of values per row.
func (a *DirFloat64) Width() int { return a.width }

// Len returns the committed number of rows.
func (a *DirFloat64) Len() (int, error) {
	return readLength(a.dir)
}

func (a *DirFloat64) chunkPath(ci int) string {
	return filepath.Join(a.dir, fmt.Sprintf("c%08d.bin", ci))
}

// readChunk returns the decoded values of chunk ci, or nil if the chunk
// file does not exist yet.
func (a *DirFloat64) readChunk(ci int) ([]float64, error) {
	data, err := os.ReadFile(a.chunkPath(ci)) //nolint:gosec // G304: path is store-internal
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	raw, err := decompressBlock(data, a.codec)
	if err != nil {
		return nil, err
	}
	vals, err := bytesToFloats(raw)
	if err != nil {
		return nil, err
	}
	if len(vals)%a.width != 0 {
		return nil, fmt.Errorf("%w: chunk %d not row-aligned", ErrCorrupt, ci)
	}
	return vals, nil
}

func (a *DirFloat64) writeChunk(ci int, vals []float64) error {
	framed, err := compressBlock(floatsToBytes(vals), a.codec)
	if err != nil {
		return err
	}
	return writeFileAtomic(a.chunkPath(ci), framed)
}

// Append appends rows under the array lock and returns the index of the
// first appended row. The length file is advanced only after all chunk
// writes have been committed.
func (a *DirFloat64) Append(rows [][]float64) (int, error) {
	for _, row := range rows {
		if len(row) != a.width {
			return 0, fmt.Errorf("%w: got %d, want %d", ErrRowWidth, len(row), a.width)
		}
	}

	lock, err := filelock.Acquire(filepath.Join(a.dir, lockFile))
	if err != nil {
		return 0, err
	}
	defer func() { _ = lock.Release() }()

	start, err := readLength(a.dir)
	if err != nil {
		return 0, err
	}

	idx := start
	remaining := rows
	for len(remaining) > 0 {
		ci := idx / a.chunkRows
		off := idx % a.chunkRows

		var chunk []float64
		if off > 0 {
			chunk, err = a.readChunk(ci)
			if err != nil {
				return 0, err
			}
			// Discard rows beyond the committed length: leftovers from a
			// writer that died between chunk write and length commit.
			if len(chunk) > off*a.width {
				chunk = chunk[:off*a.width]
			}
		}

		take := a.chunkRows - off
		if take > len(remaining) {
			take = len(remaining)
		}
		for _, row := range remaining[:take] {
			chunk = append(chunk, row...)
		}
		if err := a.writeChunk(ci, chunk); err != nil {
			return 0, err
		}

		idx += take
		remaining = remaining[take:]
	}

	if err := writeLength(a.dir, start+len(rows)); err != nil {
		return 0, err
	}
	return start, nil
}

// Row returns a copy of row i.
func (a *DirFloat64) Row(i int) ([]float64, error) {
	n, err := readLength(a.dir)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= n {
		return nil, fmt.Errorf("%w: row %d of %d", ErrOutOfRange, i, n)
	}

	chunk, err := a.readChunk(i / a.chunkRows)
	if err != nil {
		return nil, err
	}
	off := (i % a.chunkRows) * a.width
	if len(chunk) < off+a.width {
		return nil, fmt.Errorf("%w: row %d missing from chunk", ErrCorrupt, i)
	}
	out := make([]float64, a.width)
	copy(out, chunk[off:off+a.width])
	return out, nil
}

// SetRow overwrites row i. The enclosing chunk is rewritten atomically
// under the array lock.
func (a *DirFloat64) SetRow(i int, row []float64) error {
	if len(row) != a.width {
		return fmt.Errorf("%w: got %d, want %d", ErrRowWidth, len(row), a.width)
	}

	lock, err := filelock.Acquire(filepath.Join(a.dir, lockFile))
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	n, err := readLength(a.dir)
	if err != nil {
		return err
	}
	if i < 0 || i >= n {
		return fmt.Errorf("%w: row %d of %d", ErrOutOfRange, i, n)
	}

	ci := i / a.chunkRows
	chunk, err := a.readChunk(ci)
	if err != nil {
		return err
	}
	off := (i % a.chunkRows) * a.width
	if len(chunk) < off+a.width {
		return fmt.Errorf("%w: row %d missing from chunk", ErrCorrupt, i)
	}
	copy(chunk[off:off+a.width], row)
	return a.writeChunk(ci, chunk)
}

// Truncate shrinks the committed length to at most n rows. Stale chunk
// data beyond the new length becomes unreachable and is overwritten by
// the next append.
func (a *DirFloat64) Truncate(n int) error {
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

var _ Float64 = (*DirFloat64)(nil)
