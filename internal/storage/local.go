package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const tempDir = "_tmp"

// LocalStore writes interval outputs to the local filesystem.
type LocalStore struct {
	baseDir string
	prefix  string
}

// NewLocalStore creates a new local filesystem store.
func NewLocalStore(baseDir, prefix string) (*LocalStore, error) {
	// Ensure base directory exists
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base directory %s: %w", baseDir, err)
	}

	return &LocalStore{
		baseDir: baseDir,
		prefix:  NormalizePrefix(prefix),
	}, nil
}

func (s *LocalStore) Prefix() string { return s.prefix }

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(key))
}

// writeFile writes data atomically using a temp file and rename.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file %s: %w", tempPath, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		// Clean up temp file on rename failure
		os.Remove(tempPath)
		return fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
	}
	return nil
}

// WriteParquet writes parquet bytes to the local filesystem.
func (s *LocalStore) WriteParquet(_ context.Context, ref IntervalRef, data []byte) error {
	return writeFile(s.path(ref.Path(s.prefix)), data)
}

// WriteManifest writes a manifest file to the local filesystem.
func (s *LocalStore) WriteManifest(_ context.Context, ref IntervalRef, manifest *Manifest) error {
	data, err := manifest.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return writeFile(s.path(ref.ManifestPath(s.prefix)), data)
}

// WriteObject writes data under the store prefix.
func (s *LocalStore) WriteObject(_ context.Context, key string, data []byte) error {
	return writeFile(s.path(s.prefix+key), data)
}

// ReadObject reads a file by its full key.
func (s *LocalStore) ReadObject(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return data, err
}

// Exists checks if an interval already exists.
func (s *LocalStore) Exists(_ context.Context, ref IntervalRef) (bool, error) {
	_, err := os.Stat(s.path(ref.Path(s.prefix)))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// URI returns the canonical URI for the given key.
func (s *LocalStore) URI(key string) string {
	absPath, err := filepath.Abs(s.path(key))
	if err != nil {
		absPath = s.path(key)
	}
	return "file://" + filepath.ToSlash(absPath)
}

// Close is a no-op for local storage.
func (s *LocalStore) Close() error {
	return nil
}

func (s *LocalStore) writeTemp(data []byte) (string, error) {
	path := filepath.Join(s.baseDir, tempDir, uuid.NewString())
	if err := writeFile(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// WriteParquetTemp writes parquet bytes under the store's temp directory.
// The returned key is a filesystem path.
func (s *LocalStore) WriteParquetTemp(_ context.Context, _ IntervalRef, data []byte) (string, error) {
	return s.writeTemp(data)
}

// WriteManifestTemp writes a manifest under the store's temp directory.
func (s *LocalStore) WriteManifestTemp(_ context.Context, _ IntervalRef, manifest *Manifest) (string, error) {
	data, err := manifest.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	return s.writeTemp(data)
}

// Finalize renames temp files into place. tempKeys holds the parquet temp
// key first and optionally the manifest temp key second.
func (s *LocalStore) Finalize(_ context.Context, ref IntervalRef, tempKeys []string) error {
	finals, err := finalKeys(ref, s.prefix, tempKeys)
	if err != nil {
		return err
	}
	for i, tmp := range tempKeys {
		dst := s.path(finals[i])
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return fmt.Errorf("create directory for %s: %w", dst, err)
		}
		if err := os.Rename(tmp, dst); err != nil {
			// Roll back files already moved
			for j := 0; j < i; j++ {
				os.Remove(s.path(finals[j]))
			}
			return fmt.Errorf("finalize %s: %w", dst, err)
		}
	}
	return nil
}

// Abort removes temporary files without publishing.
func (s *LocalStore) Abort(_ context.Context, tempKeys []string) error {
	var errs []error
	for _, k := range tempKeys {
		if err := os.Remove(k); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Head returns metadata about a stored object.
func (s *LocalStore) Head(_ context.Context, key string) (*ObjectInfo, error) {
	st, err := os.Stat(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return &ObjectInfo{Key: key, Size: st.Size(), ModTime: st.ModTime()}, nil
}

// List returns all keys with the given prefix, skipping temp files.
func (s *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.baseDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == tempDir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) && !strings.HasSuffix(key, ".tmp") {
			keys = append(keys, key)
		}
		return nil
	})
	return keys, err
}

// finalKeys maps temp keys to canonical keys in parquet, manifest order.
func finalKeys(ref IntervalRef, prefix string, tempKeys []string) ([]string, error) {
	all := []string{ref.Path(prefix), ref.ManifestPath(prefix)}
	if len(tempKeys) == 0 || len(tempKeys) > len(all) {
		return nil, fmt.Errorf("finalize: expected 1 or 2 temp keys, got %d", len(tempKeys))
	}
	return all[:len(tempKeys)], nil
}
