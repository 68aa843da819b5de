package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownBackend = errors.New("unknown storage backend")
	ErrNotFound       = errors.New("object not found")
)

// IntervalRef identifies the output of one interval.
type IntervalRef struct {
	Start    time.Time
	Duration time.Duration
}

// Name returns the base name shared by the interval's parquet file and
// manifest, e.g. fast_20200101_0005.
func (r IntervalRef) Name() string {
	return "fast_" + r.Start.UTC().Format("20060102_1504")
}

// DirPath returns the day directory of this interval.
func (r IntervalRef) DirPath(prefix string) string {
	return prefix + r.Start.UTC().Format("2006/01/02")
}

// Path returns the storage path for this interval's parquet file.
func (r IntervalRef) Path(prefix string) string {
	return r.DirPath(prefix) + "/" + r.Name() + ".parquet"
}

// ManifestPath returns the storage path for this interval's manifest.
func (r IntervalRef) ManifestPath(prefix string) string {
	return r.DirPath(prefix) + "/" + r.Name() + "_manifest.json"
}

// Manifest describes one committed interval.
type Manifest struct {
	Interval  IntervalInfo         `json:"interval"`
	Sites     map[string]SiteInfo  `json:"sites"`
	Tables    map[string]TableInfo `json:"tables"`
	Producer  ProducerInfo         `json:"producer"`
	RunID     string               `json:"run_id,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

// IntervalInfo describes the interval boundaries and cadence.
type IntervalInfo struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	NRecords int       `json:"n_records"`
	AcqFreq  float64   `json:"acq_freq_hz"`
}

// SiteInfo records where one site's rows came from.
type SiteInfo struct {
	Files        []string         `json:"files"`
	Rule         string           `json:"rule"`
	Placeholder  bool             `json:"placeholder,omitempty"`
	Maintenance  bool             `json:"maintenance,omitempty"`
	RowsMatched  int              `json:"rows_matched"`
	Duplicates   int              `json:"duplicates,omitempty"`
	OffAxis      int              `json:"off_axis,omitempty"`
	LoggerModel  string           `json:"logger_model,omitempty"`
	LoggerSerial string           `json:"logger_serial,omitempty"`
	Instruments  []InstrumentInfo `json:"instruments,omitempty"`
}

// InstrumentInfo names an instrument installed at a site.
type InstrumentInfo struct {
	Family string  `json:"family"`
	Model  string  `json:"model,omitempty"`
	Serial string  `json:"serial,omitempty"`
	Height float64 `json:"height_m,omitempty"`
}

// TableInfo describes a single table in the interval.
type TableInfo struct {
	File     string `json:"file"`
	Checksum string `json:"checksum"`
	RowCount int64  `json:"row_count"`
	ByteSize int64  `json:"byte_size"`
}

// ProducerInfo describes the software that produced the interval.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha,omitempty"`
}

// MarshalJSON returns the manifest as JSON bytes.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	type Alias Manifest
	return json.MarshalIndent((*Alias)(m), "", "  ")
}

// Store abstracts writing interval outputs to storage.
type Store interface {
	// WriteParquet writes parquet bytes to storage.
	WriteParquet(ctx context.Context, ref IntervalRef, parquetBytes []byte) error

	// WriteManifest writes a manifest file to storage.
	WriteManifest(ctx context.Context, ref IntervalRef, manifest *Manifest) error

	// WriteObject writes run-level objects such as the summary table.
	// The key is relative to the store prefix.
	WriteObject(ctx context.Context, key string, data []byte) error

	// ReadObject reads an object by its full key.
	ReadObject(ctx context.Context, key string) ([]byte, error)

	// Exists checks if an interval already exists.
	Exists(ctx context.Context, ref IntervalRef) (bool, error)

	// URI returns the canonical URI for the given key.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(key string) string

	// Prefix returns the key prefix applied to every object.
	Prefix() string

	// Close releases any resources.
	Close() error
}

// AtomicStore extends Store with atomic publish capabilities.
type AtomicStore interface {
	Store

	// WriteParquetTemp writes parquet bytes to a temporary location.
	// Returns the temp key that can be passed to Finalize.
	WriteParquetTemp(ctx context.Context, ref IntervalRef, parquetBytes []byte) (tempKey string, err error)

	// WriteManifestTemp writes a manifest to a temporary location.
	WriteManifestTemp(ctx context.Context, ref IntervalRef, manifest *Manifest) (tempKey string, err error)

	// Finalize moves temp files to their canonical location.
	// If any file fails to finalize, the ones already moved are removed.
	Finalize(ctx context.Context, ref IntervalRef, tempKeys []string) error

	// Abort removes temporary files without publishing.
	Abort(ctx context.Context, tempKeys []string) error

	// Head returns metadata about a stored object.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// List returns all keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ETag    string // MD5 for S3/GCS, empty for local
	ModTime time.Time
}

// StorageConfig configures the storage backend.
type StorageConfig struct {
	Backend string `yaml:"backend"` // "local" | "gcs" | "s3" | "bucket"

	// Local filesystem
	LocalDir string `yaml:"dir"`

	// GCS and S3 bucket name
	Bucket string `yaml:"bucket"`

	// S3 (also works for B2, R2, MinIO)
	S3Endpoint string `yaml:"s3_endpoint" split_words:"true"`
	S3Region   string `yaml:"s3_region" split_words:"true"`

	// Any gocloud bucket URL (file://, mem://, s3://, gs://)
	BucketURL string `yaml:"bucket_url" split_words:"true"`

	// Common
	Prefix string `yaml:"prefix"` // "fast/" (path prefix within bucket or local dir)
}

// NormalizePrefix makes a non-empty prefix end with a single slash.
func NormalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// NewStore creates a storage backend based on configuration.
func NewStore(ctx context.Context, cfg StorageConfig) (AtomicStore, error) {
	switch cfg.Backend {
	case "local", "":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("dir required for local backend")
		}
		return NewLocalStore(cfg.LocalDir, cfg.Prefix)
	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for gcs backend")
		}
		return NewGCSStore(ctx, cfg.Bucket, cfg.Prefix)
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for s3 backend")
		}
		return NewS3Store(ctx, cfg.Bucket, cfg.Prefix, cfg.S3Endpoint, cfg.S3Region)
	case "bucket":
		if cfg.BucketURL == "" {
			return nil, fmt.Errorf("bucket_url required for bucket backend")
		}
		return OpenBlobStore(ctx, cfg.BucketURL, cfg.Prefix)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}

// AsAtomic attempts to cast a Store to AtomicStore.
// Returns nil if the store doesn't support atomic operations.
func AsAtomic(store Store) AtomicStore {
	if atomic, ok := store.(AtomicStore); ok {
		return atomic
	}
	return nil
}
