package storage

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ad4gd/bioconn/utils"
)

type MinioStore struct {
	client *minio.Client
	region string
}

// splitEndpoint accepts host[:port] or a URL and returns the host and
// whether TLS should be used.
func splitEndpoint(endpoint string, secure bool) (string, bool) {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint, secure = strings.TrimPrefix(endpoint, "https://"), true
	case strings.HasPrefix(endpoint, "http://"):
		endpoint, secure = strings.TrimPrefix(endpoint, "http://"), false
	}
	return strings.TrimSuffix(endpoint, "/"), secure
}

func NewMinioStore(cfg utils.StorageConfig) (*MinioStore, error) {
	if len(cfg.Endpoint) == 0 {
		return nil, fmt.Errorf("storage endpoint is not set")
	}
	endpoint, secure := splitEndpoint(cfg.Endpoint, cfg.Secure)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport, err := minio.DefaultTransport(secure)
	if err != nil {
		return nil, err
	}
	transport.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	transport.ResponseHeaderTimeout = timeout

	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    secure,
		Region:    cfg.Region,
		Transport: http.RoundTripper(transport),
	})
	if err != nil {
		return nil, fmt.Errorf("creating storage client for %s: %w", endpoint, err)
	}
	return &MinioStore{client: client, region: cfg.Region}, nil
}

func (s *MinioStore) List(ctx context.Context, bucket string) ([]Object, error) {
	var objects []Object
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return objects, fmt.Errorf("listing %s: %w", bucket, obj.Err)
		}
		objects = append(objects, Object{Key: obj.Key, Size: obj.Size})
	}
	return objects, nil
}

func (s *MinioStore) Download(ctx context.Context, bucket, key, dst string) error {
	return s.client.FGetObject(ctx, bucket, key, dst, minio.GetObjectOptions{})
}

func (s *MinioStore) Upload(ctx context.Context, bucket, key, src string) error {
	_, err := s.client.FPutObject(ctx, bucket, key, src, minio.PutObjectOptions{})
	return err
}

func (s *MinioStore) EnsureBucket(ctx context.Context, bucket string) (bool, error) {
	found, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return false, err
	}
	if found {
		return false, nil
	}
	if err = s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *MinioStore) Versioning(ctx context.Context, bucket string) (string, error) {
	cfg, err := s.client.GetBucketVersioning(ctx, bucket)
	if err != nil {
		return "", err
	}
	if len(cfg.Status) == 0 {
		return "Off", nil
	}
	return cfg.Status, nil
}
