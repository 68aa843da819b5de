package source

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// LocalSource reads raw files from a site's converted-files directory.
type LocalSource struct {
	basePath string
	log      *slog.Logger
}

// NewLocalSource creates a new local filesystem source.
func NewLocalSource(basePath string) (*LocalSource, error) {
	info, err := os.Stat(basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissingDirectory, basePath)
		}
		return nil, fmt.Errorf("invalid local path %s: %w", basePath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrMissingDirectory, basePath)
	}

	return &LocalSource{
		basePath: basePath,
		log:      slog.With("component", "source:local", "dir", basePath),
	}, nil
}

// Index walks the directory tree and indexes all raw data files.
func (s *LocalSource) Index(ctx context.Context) (*FileIndex, error) {
	index := NewFileIndex()
	skipped := 0

	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		if !IsRawFile(d.Name()) {
			skipped++
			return nil
		}
		return index.AddFile(path)
	})
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", s.basePath, err)
	}

	index.Sort()
	s.log.Debug("indexed raw files", "files", index.Count(), "skipped", skipped)
	return index, nil
}

// Open opens a raw file, decompressing .zst files.
func (s *LocalSource) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return decompress(f, path)
}

// Close is a no-op for local files.
func (s *LocalSource) Close() error {
	return nil
}
