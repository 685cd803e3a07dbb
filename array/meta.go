package array

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

const (
	metaFile   = "meta.json"
	lengthFile = "length"
	lockFile   = "LOCK"

	// metaVersion is the on-disk array format version.
	metaVersion = 1
)

type dirMeta struct {
	Version   int    `json:"version"`
	Dtype     string `json:"dtype"`
	Width     int    `json:"width"`
	ChunkRows int    `json:"chunkRows,omitempty"`
	Codec     string `json:"codec,omitempty"`
}

func writeMeta(dir string, m dirMeta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, metaFile), data)
}

func readMeta(dir string) (dirMeta, error) {
	data, err := os.ReadFile(filepath.Join(dir, metaFile)) //nolint:gosec // G304: path is store-internal
	if err != nil {
		return dirMeta{}, err
	}
	var m dirMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return dirMeta{}, fmt.Errorf("%w: %s", ErrCorrupt, err)
	}
	if m.Version != metaVersion {
		return dirMeta{}, fmt.Errorf("%w: unsupported array version %d", ErrCorrupt, m.Version)
	}
	return m, nil
}

// readLength returns the committed row count. A missing length file means
// the array was just created and holds zero rows.
func readLength(dir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(dir, lengthFile)) //nolint:gosec // G304: path is store-internal
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: malformed length file", ErrCorrupt)
	}
	return int(binary.LittleEndian.Uint64(data)), nil
}

func writeLength(dir string, n int) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(n))
	return writeFileAtomic(filepath.Join(dir, lengthFile), buf)
}

// writeFileAtomic commits data to path with a same-directory tmp+rename,
// fsyncing the tmp file first so a crash never exposes a torn file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func floatsToBytes(vals []float64) []byte {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func bytesToFloats(data []byte) ([]float64, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("%w: odd chunk payload", ErrCorrupt)
	}
	vals := make([]float64, len(data)/8)
	for i := range vals {
		vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return vals, nil
}
