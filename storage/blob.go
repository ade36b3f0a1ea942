package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/s3blob"
)

// BlobStore keeps every bucket under a prefix of one Go CDK bucket, such
// as file:///srv/buckets or s3://my-bucket?region=eu-west-1.
type BlobStore struct {
	bucket *blob.Bucket
}

func OpenBlobStore(ctx context.Context, url string) (*BlobStore, error) {
	b, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", url, err)
	}
	return &BlobStore{bucket: b}, nil
}

func (s *BlobStore) Close() error {
	return s.bucket.Close()
}

func objectKey(bucket, key string) string {
	return path.Join(bucket, key)
}

func (s *BlobStore) List(ctx context.Context, bucket string) ([]Object, error) {
	prefix := bucket + "/"
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix})

	var objects []Object
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return objects, fmt.Errorf("listing %s: %w", bucket, err)
		}
		if obj.IsDir {
			continue
		}
		objects = append(objects, Object{Key: strings.TrimPrefix(obj.Key, prefix), Size: obj.Size})
	}
	return objects, nil
}

func (s *BlobStore) Download(ctx context.Context, bucket, key, dst string) error {
	r, err := s.bucket.NewReader(ctx, objectKey(bucket, key), nil)
	if err != nil {
		return err
	}
	defer r.Close()
	return writeFile(dst, r)
}

func (s *BlobStore) Upload(ctx context.Context, bucket, key, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	// cancelling before Close discards a partial object
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w, err := s.bucket.NewWriter(wctx, objectKey(bucket, key), nil)
	if err != nil {
		return err
	}
	if _, err = io.Copy(w, f); err != nil {
		cancel()
		w.Close()
		return err
	}
	return w.Close()
}

// EnsureBucket is a no-op, prefixes exist once written to.
func (s *BlobStore) EnsureBucket(ctx context.Context, bucket string) (bool, error) {
	return false, nil
}

func (s *BlobStore) Versioning(ctx context.Context, bucket string) (string, error) {
	return "Unsupported", nil
}
