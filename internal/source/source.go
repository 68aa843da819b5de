// Package source indexes and reads the raw TOA5 files of one site, from a
// local directory or a blob bucket.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/withObsrvr/obsrvr-fast-flux/internal/frame"
)

var (
	// ErrInvalidSourceMode is returned when neither a directory nor a bucket is configured.
	ErrInvalidSourceMode = errors.New("invalid source mode")

	// ErrMissingDirectory is returned when a site's input directory does not exist.
	ErrMissingDirectory = errors.New("input directory does not exist")
)

// Source lists and opens the raw files of one site.
type Source interface {
	// Index lists every raw data file. Names that look like data files but do
	// not parse fail the whole index with a FilenameFormatError.
	Index(ctx context.Context) (*FileIndex, error)

	// Open returns the decompressed contents of a file.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	Close() error
}

// SourceConfig selects where a site's raw files live.
type SourceConfig struct {
	Dir       string
	BucketURL string
	Prefix    string
}

// NewSource constructs a source from configuration.
func NewSource(ctx context.Context, cfg SourceConfig) (Source, error) {
	switch {
	case cfg.BucketURL != "":
		return NewBucketSource(ctx, cfg.BucketURL, cfg.Prefix)
	case cfg.Dir != "":
		return NewLocalSource(cfg.Dir)
	default:
		return nil, ErrInvalidSourceMode
	}
}

// BuildIndex lists src and keeps the closed window [start, end]. Files sharing
// a timestamp are rejected.
func BuildIndex(ctx context.Context, src Source, start, end time.Time) (*FileIndex, error) {
	all, err := src.Index(ctx)
	if err != nil {
		return nil, err
	}
	idx := all.Window(start, end)
	if err := idx.ValidateUnique(); err != nil {
		return nil, err
	}
	return idx, nil
}

// Loader reads raw files into frames.
type Loader interface {
	Load(ctx context.Context, f RawFile) (*frame.Frame, Header, error)
}

// FileLoader loads raw files through a Source.
type FileLoader struct {
	Source Source
}

// Load opens and parses one raw file.
func (l FileLoader) Load(ctx context.Context, f RawFile) (*frame.Frame, Header, error) {
	rc, err := l.Source.Open(ctx, f.Path)
	if err != nil {
		return nil, Header{}, err
	}
	defer rc.Close()
	return ReadTOA5(rc, f.Path)
}

// decompress wraps r in a zstd decoder when name ends in .zst.
func decompress(r io.ReadCloser, name string) (io.ReadCloser, error) {
	if !IsCompressed(name) {
		return r, nil
	}
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("create zstd decoder for %s: %w", name, err)
	}
	return &zstdReadCloser{dec: dec, src: r}, nil
}

type zstdReadCloser struct {
	dec *zstd.Decoder
	src io.Closer
}

func (z *zstdReadCloser) Read(p []byte) (int, error) { return z.dec.Read(p) }

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.src.Close()
}
