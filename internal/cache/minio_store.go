package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	// Prefix namespaces the cache objects inside the bucket.
	Prefix string
}

func (c MinioConfig) Validate() error {
	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, errors.New("minio endpoint is required"))
	}
	if c.Bucket == "" {
		errs = append(errs, errors.New("minio bucket is required"))
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		errs = append(errs, errors.New("minio access key and secret key are required"))
	}
	return errors.Join(errs...)
}

// MinioStore keeps cache entries in an S3 compatible bucket so that
// several orchestrator hosts can share them.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("err creating minio client: %w", err)
	}
	if err := ensureBucket(ctx, client, cfg.Bucket, cfg.Region); err != nil {
		return nil, fmt.Errorf("err ensuring cache bucket %s: %w", cfg.Bucket, err)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

func (s *MinioStore) objectName(key string) string {
	return s.prefix + key
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey"
}

func (s *MinioStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if _, err := s.Stat(ctx, key); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("err getting cache object: %w", err)
	}
	return obj, nil
}

func (s *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.objectName(key), r, size, minio.PutObjectOptions{
		ContentType: "application/zip",
	})
	if err != nil {
		return fmt.Errorf("err putting cache object: %w", err)
	}
	return nil
}

func (s *MinioStore) Stat(ctx context.Context, key string) (*Entry, error) {
	info, err := s.client.StatObject(ctx, s.bucket, s.objectName(key), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("err stating cache object: %w", err)
	}
	return &Entry{Key: key, Size: info.Size, CreatedOn: info.LastModified}, nil
}

func (s *MinioStore) list(ctx context.Context, prefix string) ([]Entry, error) {
	var entries []Entry
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.objectName(prefix),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("err listing cache objects: %w", obj.Err)
		}
		entries = append(entries, Entry{
			Key:       obj.Key[len(s.prefix):],
			Size:      obj.Size,
			CreatedOn: obj.LastModified,
		})
	}
	return entries, nil
}

func (s *MinioStore) Latest(ctx context.Context, prefix string) (*Entry, error) {
	entries, err := s.list(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return latest(entries, prefix)
}

func (s *MinioStore) List(ctx context.Context) ([]Entry, error) {
	entries, err := s.list(ctx, "")
	if err != nil {
		return nil, err
	}
	sortNewestFirst(entries)
	return entries, nil
}

func (s *MinioStore) Delete(ctx context.Context, key string) error {
	if _, err := s.Stat(ctx, key); err != nil {
		return err
	}
	return s.client.RemoveObject(ctx, s.bucket, s.objectName(key), minio.RemoveObjectOptions{})
}
