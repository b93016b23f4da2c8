package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"gocloud.dev/blob"
)

// Object is a pending write to a location. Nothing is visible at the location
// until Commit succeeds; Abort discards the bytes written so far.
type Object struct {
	w          io.Writer
	compressor io.WriteCloser
	commit     func() error
	abort      func() error
	done       bool
}

// Write writes p to the pending object
func (o *Object) Write(p []byte) (int, error) {
	return o.w.Write(p)
}

// Commit flushes compression and publishes the object, replacing any
// existing one.
func (o *Object) Commit() error {
	if o.done {
		return fmt.Errorf("object already finished")
	}
	o.done = true

	if o.compressor != nil {
		if err := o.compressor.Close(); err != nil {
			o.abort()
			return fmt.Errorf("flush compressor: %w", err)
		}
	}
	return o.commit()
}

// Abort discards the pending object. Safe to call after Commit.
func (o *Object) Abort() error {
	if o.done {
		return nil
	}
	o.done = true
	return o.abort()
}

// Create starts a write to the location. Local paths are written to a temp
// file in the target directory and renamed on Commit.
func Create(ctx context.Context, raw string) (*Object, error) {
	loc, err := ParseLocation(raw)
	if err != nil {
		return nil, err
	}

	var obj *Object
	if loc.IsLocal() {
		obj, err = createLocal(loc.Key)
	} else {
		obj, err = createBlob(ctx, loc)
	}
	if err != nil {
		return nil, err
	}

	switch loc.Compression {
	case CompressionGzip:
		zw := gzip.NewWriter(obj.w)
		obj.compressor = zw
		obj.w = zw
	case CompressionZstd:
		zw, err := zstd.NewWriter(obj.w)
		if err != nil {
			obj.Abort()
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		obj.compressor = zw
		obj.w = zw
	}

	return obj, nil
}

func createLocal(path string) (*Object, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tempPath := f.Name()

	return &Object{
		w: f,
		commit: func() error {
			if err := f.Close(); err != nil {
				os.Remove(tempPath)
				return fmt.Errorf("close temp file %s: %w", tempPath, err)
			}
			if err := os.Chmod(tempPath, 0644); err != nil {
				os.Remove(tempPath)
				return fmt.Errorf("chmod %s: %w", tempPath, err)
			}
			if err := os.Rename(tempPath, path); err != nil {
				os.Remove(tempPath)
				return fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
			}
			return nil
		},
		abort: func() error {
			f.Close()
			return os.Remove(tempPath)
		},
	}, nil
}

func createBlob(ctx context.Context, loc Location) (*Object, error) {
	bucket, err := blob.OpenBucket(ctx, loc.BucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", loc.BucketURL, err)
	}

	// Cancelling the writer's context before Close discards the upload.
	wctx, cancel := context.WithCancel(ctx)
	w, err := bucket.NewWriter(wctx, loc.Key, nil)
	if err != nil {
		cancel()
		bucket.Close()
		return nil, fmt.Errorf("create writer for %s: %w", loc.Key, err)
	}

	return &Object{
		w: w,
		commit: func() error {
			defer cancel()
			defer bucket.Close()
			if err := w.Close(); err != nil {
				return fmt.Errorf("close writer for %s: %w", loc.Key, err)
			}
			return nil
		},
		abort: func() error {
			cancel()
			w.Close()
			return bucket.Close()
		},
	}, nil
}
