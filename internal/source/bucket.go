package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
)

// BucketSource reads raw files from a blob bucket. Works with any URL
// gocloud.dev understands, e.g. s3://bucket?region=us-west-2, gs://bucket or
// file:///data/converted.
type BucketSource struct {
	bucket *blob.Bucket
	prefix string
	log    *slog.Logger
}

// NewBucketSource opens the bucket at bucketURL.
func NewBucketSource(ctx context.Context, bucketURL, prefix string) (*BucketSource, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return NewBucketSourceFrom(bucket, prefix), nil
}

// NewBucketSourceFrom wraps an already opened bucket. The source takes
// ownership and closes it.
func NewBucketSourceFrom(bucket *blob.Bucket, prefix string) *BucketSource {
	return &BucketSource{
		bucket: bucket,
		prefix: prefix,
		log:    slog.With("component", "source:bucket", "prefix", prefix),
	}
}

// Index lists all objects with the prefix and indexes the raw data files.
func (s *BucketSource) Index(ctx context.Context) (*FileIndex, error) {
	index := NewFileIndex()

	iter := s.bucket.List(&blob.ListOptions{
		Prefix: s.prefix,
	})

	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}

		if obj.IsDir {
			continue
		}
		if !IsRawFile(path.Base(obj.Key)) {
			continue
		}
		if err := index.AddFile(obj.Key); err != nil {
			return nil, err
		}
	}

	index.Sort()
	s.log.Debug("indexed raw files", "files", index.Count())
	return index, nil
}

// Open opens an object, decompressing .zst objects.
func (s *BucketSource) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	return decompress(reader, key)
}

// Close releases the bucket.
func (s *BucketSource) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}
