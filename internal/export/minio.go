package export

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const ndjsonContentType = "application/x-ndjson"

type MinioOpts func(c *minioConfig)

type minioConfig struct {
	endpoint        string
	bucket          string
	accessKey       string
	secretAccessKey string
	useSSL          bool
}

func newConfig(opts ...MinioOpts) *minioConfig {
	cfg := &minioConfig{
		useSSL: false,
	}

	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// MinioStore implements ObjectStore on top of the minio core API.
type MinioStore struct {
	cfg  *minioConfig
	core *minio.Core
}

var _ ObjectStore = (*MinioStore)(nil)

func NewMinioStore(opts ...MinioOpts) (*MinioStore, error) {
	cfg := newConfig(opts...)

	core, err := minio.NewCore(cfg.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.accessKey, cfg.secretAccessKey, ""),
		Secure: cfg.useSSL,
	})
	if err != nil {
		return nil, err
	}

	return &MinioStore{cfg: cfg, core: core}, nil
}

func (s *MinioStore) Bucket() string {
	return s.cfg.bucket
}

func (s *MinioStore) InitiateMultipartUpload(ctx context.Context, key string) (string, error) {
	uploadID, err := s.core.NewMultipartUpload(ctx, s.cfg.bucket, key, minio.PutObjectOptions{
		ContentType: ndjsonContentType,
	})
	if err != nil {
		return "", fmt.Errorf("initiating multipart upload for %s: %w", key, err)
	}
	return uploadID, nil
}

func (s *MinioStore) UploadPart(ctx context.Context, key, uploadID string, partNumber int, path string, size int64) (CompletedPart, error) {
	f, err := os.Open(path)
	if err != nil {
		return CompletedPart{}, fmt.Errorf("opening part buffer %s: %w", path, err)
	}
	defer f.Close()

	part, err := s.core.PutObjectPart(ctx, s.cfg.bucket, key, uploadID, partNumber, f, size, minio.PutObjectPartOptions{})
	if err != nil {
		return CompletedPart{}, fmt.Errorf("uploading part %d of %s: %w", partNumber, key, err)
	}
	return CompletedPart{PartNumber: part.PartNumber, ETag: part.ETag}, nil
}

func (s *MinioStore) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) error {
	completeParts := make([]minio.CompletePart, 0, len(parts))
	for _, p := range parts {
		completeParts = append(completeParts, minio.CompletePart{PartNumber: p.PartNumber, ETag: p.ETag})
	}

	if _, err := s.core.CompleteMultipartUpload(ctx, s.cfg.bucket, key, uploadID, completeParts, minio.PutObjectOptions{}); err != nil {
		return fmt.Errorf("completing multipart upload for %s: %w", key, err)
	}
	return nil
}

func (s *MinioStore) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	return s.core.AbortMultipartUpload(ctx, s.cfg.bucket, key, uploadID)
}

func (s *MinioStore) PutObject(ctx context.Context, key string, body io.Reader, size int64) error {
	if _, err := s.core.Client.PutObject(ctx, s.cfg.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: ndjsonContentType,
	}); err != nil {
		return fmt.Errorf("writing object %s: %w", key, err)
	}
	return nil
}

func WithEndpoint(endpoint string) MinioOpts {
	return func(c *minioConfig) {
		c.endpoint = endpoint
	}
}

func WithBucket(bucket string) MinioOpts {
	return func(c *minioConfig) {
		c.bucket = bucket
	}
}

func WithAccessKey(accessKey string) MinioOpts {
	return func(c *minioConfig) {
		c.accessKey = accessKey
	}
}

func WithSecretKey(secretKey string) MinioOpts {
	return func(c *minioConfig) {
		c.secretAccessKey = secretKey
	}
}

func WithSSL(useSSL bool) MinioOpts {
	return func(c *minioConfig) {
		c.useSSL = useSSL
	}
}
