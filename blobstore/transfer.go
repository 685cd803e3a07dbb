package blobstore

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// transferParallelism bounds concurrent blob transfers during Upload and
// Download.
const transferParallelism = 8

// Upload copies every file below dir into the blob store under prefix,
// preserving relative paths. Lock files are host-local and skipped.
func Upload(ctx context.Context, bs BlobStore, prefix, dir string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(transferParallelism)

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if skipTransfer(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		name := path.Join(prefix, filepath.ToSlash(rel))
		g.Go(func() error {
			data, err := os.ReadFile(p) //nolint:gosec // G304: path walked below caller-supplied dir
			if err != nil {
				return err
			}
			return bs.Put(ctx, name, data)
		})
		return nil
	})
	if err != nil {
		_ = g.Wait()
		return err
	}
	return g.Wait()
}

// Download copies every blob under prefix into dir, recreating relative
// paths.
func Download(ctx context.Context, bs BlobStore, prefix, dir string) error {
	names, err := bs.List(ctx, prefix)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(transferParallelism)

	for _, name := range names {
		rel := strings.TrimPrefix(name, prefix)
		rel = strings.TrimPrefix(rel, "/")
		if rel == "" {
			continue
		}
		dst := filepath.Join(dir, filepath.FromSlash(rel))
		g.Go(func() error {
			data, err := ReadAll(ctx, bs, name)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
				return err
			}
			return os.WriteFile(dst, data, 0o600)
		})
	}
	return g.Wait()
}

func skipTransfer(base string) bool {
	return base == "LOCK" || strings.HasPrefix(base, ".tmp-") || strings.HasPrefix(base, ".blob-")
}
