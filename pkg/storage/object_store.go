package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const coverPrefix = "covers"

// CoverStore persists book cover images in object storage. Keys returned by
// PutCover are opaque to callers; the book record stores them as-is.
type CoverStore interface {
	PutCover(ctx context.Context, bookID string, r io.Reader, size int64, contentType string) (string, error)
	CoverURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	DeleteCover(ctx context.Context, key string) error
}

// MinioConfig holds connection settings for MinIO/S3 compatible storage.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore implements CoverStore on a single bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// PutCover uploads the image under the book's cover key, replacing any
// previous cover for the book.
func (m *MinioStore) PutCover(ctx context.Context, bookID string, r io.Reader, size int64, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := path.Join(coverPrefix, bookID)
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put cover: %w", err)
	}
	return key, nil
}

// CoverURL generates a pre-signed GET URL for the cover.
func (m *MinioStore) CoverURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	url, err := m.client.PresignedGetObject(ctx, m.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign cover: %w", err)
	}
	return url.String(), nil
}

// DeleteCover removes the cover object.
func (m *MinioStore) DeleteCover(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete cover: %w", err)
	}
	return nil
}
