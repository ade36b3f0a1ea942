// Package storage syncs pipeline inputs and results with object storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type Object struct {
	Key  string
	Size int64
}

// Store is the subset of an object storage API the pipeline needs.
type Store interface {
	List(ctx context.Context, bucket string) ([]Object, error)
	Download(ctx context.Context, bucket, key, dst string) error
	Upload(ctx context.Context, bucket, key, src string) error
	// EnsureBucket creates the bucket when missing and reports whether
	// it did.
	EnsureBucket(ctx context.Context, bucket string) (bool, error)
	Versioning(ctx context.Context, bucket string) (string, error)
}

// writeFile streams r into dst through a temporary file so a failed
// download never leaves a truncated file behind.
func writeFile(dst string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	if _, err = io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
