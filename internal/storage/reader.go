package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
)

// readCloser closes every layer of a stacked reader, innermost last
type readCloser struct {
	io.Reader
	closers []func() error
}

func (r *readCloser) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open returns a reader for the location, decompressing when the name ends
// in .gz or .zst. The caller must Close it.
func Open(ctx context.Context, raw string) (io.ReadCloser, error) {
	loc, err := ParseLocation(raw)
	if err != nil {
		return nil, err
	}

	rc := &readCloser{}

	if loc.IsLocal() {
		f, err := os.Open(loc.Key)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", loc.Key, err)
		}
		rc.Reader = f
		rc.closers = append(rc.closers, f.Close)
	} else {
		bucket, err := blob.OpenBucket(ctx, loc.BucketURL)
		if err != nil {
			return nil, fmt.Errorf("open bucket %s: %w", loc.BucketURL, err)
		}
		r, err := bucket.NewReader(ctx, loc.Key, nil)
		if err != nil {
			bucket.Close()
			return nil, fmt.Errorf("open object %s: %w", loc.Key, err)
		}
		rc.Reader = r
		rc.closers = append(rc.closers, r.Close, bucket.Close)
	}

	switch loc.Compression {
	case CompressionGzip:
		zr, err := gzip.NewReader(rc.Reader)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("gzip header %s: %w", raw, err)
		}
		rc.closers = append([]func() error{zr.Close}, rc.closers...)
		rc.Reader = zr
	case CompressionZstd:
		zr, err := zstd.NewReader(rc.Reader, zstd.WithDecoderConcurrency(1))
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		rc.closers = append([]func() error{func() error { zr.Close(); return nil }}, rc.closers...)
		rc.Reader = zr
	}

	return rc, nil
}
