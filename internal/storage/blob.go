package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
	"gocloud.dev/gcerrors"
)

// BlobStore writes interval outputs to any gocloud bucket.
type BlobStore struct {
	bucket *blob.Bucket
	base   string // URI of the bucket root, without query
	prefix string
}

// OpenBlobStore opens a bucket URL such as s3://bucket?region=x, gs://bucket,
// file:///dir or mem://.
func OpenBlobStore(ctx context.Context, bucketURL, prefix string) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	base := bucketURL
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base = base[:i]
	}
	return NewBlobStore(bucket, base, prefix), nil
}

// NewBlobStore wraps an already opened bucket. The store takes ownership of
// the bucket and closes it on Close.
func NewBlobStore(bucket *blob.Bucket, base, prefix string) *BlobStore {
	return &BlobStore{
		bucket: bucket,
		base:   strings.TrimSuffix(base, "/"),
		prefix: NormalizePrefix(prefix),
	}
}

// NewGCSStore creates a store on a Google Cloud Storage bucket.
func NewGCSStore(ctx context.Context, bucketName, prefix string) (*BlobStore, error) {
	return OpenBlobStore(ctx, "gs://"+bucketName, prefix)
}

// NewS3Store creates a store on an S3-compatible bucket.
// Works with AWS S3, Backblaze B2, Cloudflare R2, and MinIO.
func NewS3Store(ctx context.Context, bucketName, prefix, endpoint, region string) (*BlobStore, error) {
	bucketURL := "s3://" + bucketName

	params := url.Values{}
	if region != "" {
		params.Set("region", region)
	}
	if endpoint != "" {
		params.Set("endpoint", endpoint)
		params.Set("use_path_style", "true")
	}
	if len(params) > 0 {
		bucketURL += "?" + params.Encode()
	}
	return OpenBlobStore(ctx, bucketURL, prefix)
}

func (s *BlobStore) Prefix() string { return s.prefix }

func (s *BlobStore) write(ctx context.Context, key string, data []byte) error {
	if err := s.bucket.WriteAll(ctx, key, data, nil); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// WriteParquet writes parquet bytes to the bucket.
func (s *BlobStore) WriteParquet(ctx context.Context, ref IntervalRef, data []byte) error {
	return s.write(ctx, ref.Path(s.prefix), data)
}

// WriteManifest writes a manifest file to the bucket.
func (s *BlobStore) WriteManifest(ctx context.Context, ref IntervalRef, manifest *Manifest) error {
	data, err := manifest.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return s.write(ctx, ref.ManifestPath(s.prefix), data)
}

// WriteObject writes data under the store prefix.
func (s *BlobStore) WriteObject(ctx context.Context, key string, data []byte) error {
	return s.write(ctx, s.prefix+key, data)
}

// ReadObject reads an object by its full key.
func (s *BlobStore) ReadObject(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, key)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Exists checks if an interval already exists.
func (s *BlobStore) Exists(ctx context.Context, ref IntervalRef) (bool, error) {
	return s.bucket.Exists(ctx, ref.Path(s.prefix))
}

// URI returns the canonical URI for the given key.
func (s *BlobStore) URI(key string) string {
	return s.base + "/" + key
}

// Close releases the bucket.
func (s *BlobStore) Close() error {
	return s.bucket.Close()
}

// --- AtomicStore implementation ---

func (s *BlobStore) tempKey(final string) string {
	return final + ".tmp." + uuid.NewString()
}

// WriteParquetTemp writes parquet bytes to a temporary key.
func (s *BlobStore) WriteParquetTemp(ctx context.Context, ref IntervalRef, data []byte) (string, error) {
	key := s.tempKey(ref.Path(s.prefix))
	if err := s.write(ctx, key, data); err != nil {
		return "", err
	}
	return key, nil
}

// WriteManifestTemp writes a manifest to a temporary key.
func (s *BlobStore) WriteManifestTemp(ctx context.Context, ref IntervalRef, manifest *Manifest) (string, error) {
	data, err := manifest.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	key := s.tempKey(ref.ManifestPath(s.prefix))
	if err := s.write(ctx, key, data); err != nil {
		return "", err
	}
	return key, nil
}

// Finalize copies temp objects to their canonical keys, then deletes the
// temp objects.
func (s *BlobStore) Finalize(ctx context.Context, ref IntervalRef, tempKeys []string) error {
	finals, err := finalKeys(ref, s.prefix, tempKeys)
	if err != nil {
		return err
	}

	for i, tmp := range tempKeys {
		if err := s.bucket.Copy(ctx, finals[i], tmp, nil); err != nil {
			// Rollback: delete any copied objects
			for j := 0; j < i; j++ {
				s.bucket.Delete(ctx, finals[j])
			}
			s.Abort(ctx, tempKeys)
			return fmt.Errorf("finalize %s -> %s: %w", tmp, finals[i], err)
		}
	}

	for _, tmp := range tempKeys {
		s.bucket.Delete(ctx, tmp) // ignore errors
	}
	return nil
}

// Abort removes temporary objects without publishing.
func (s *BlobStore) Abort(ctx context.Context, tempKeys []string) error {
	var errs []error
	for _, key := range tempKeys {
		if err := s.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Head returns metadata about a stored object.
func (s *BlobStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	attrs, err := s.bucket.Attributes(ctx, key)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get attributes for %s: %w", key, err)
	}

	return &ObjectInfo{
		Key:     key,
		Size:    attrs.Size,
		ETag:    attrs.ETag,
		ModTime: attrs.ModTime,
	}, nil
}

// List returns all keys with the given prefix, skipping temp objects.
func (s *BlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		if obj.IsDir || strings.Contains(obj.Key, ".tmp.") {
			continue
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

var (
	_ AtomicStore = (*BlobStore)(nil)
	_ AtomicStore = (*LocalStore)(nil)
)
