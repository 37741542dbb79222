package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	apperrors "github.com/Skryldev/grsync/errors"
)

// MinioConfig holds connection parameters for an S3-compatible endpoint.
type MinioConfig struct {
	Endpoint        string // host[:port]
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// MinioClient implements S3Client with minio-go.
type MinioClient struct {
	client *minio.Client
}

// NewMinioClient dials nothing; connectivity problems surface on first use.
func NewMinioClient(cfg MinioConfig) (*MinioClient, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "minio.new", err)
	}
	return &MinioClient{client: client}, nil
}

func (m *MinioClient) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, meta map[string]string) error {
	_, err := m.client.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{
		ContentType:  meta["content-type"],
		UserMetadata: userMetadata(meta),
	})
	return translate(err)
}

// GetObject stats the object before returning it; minio-go defers errors
// to the first Read otherwise.
func (m *MinioClient) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, translate(err)
	}
	return obj, nil
}

func (m *MinioClient) DeleteObject(ctx context.Context, bucket, key string) error {
	return translate(m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}))
}

func (m *MinioClient) HeadObject(ctx context.Context, bucket, key string) (bool, error) {
	_, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if err = translate(err); apperrors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func userMetadata(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		if k != "content-type" {
			out[k] = v
		}
	}
	return out
}

// translate maps minio error responses onto the sentinel errors.
func translate(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %v", apperrors.ErrNotFound, err)
	}
	return fmt.Errorf("minio: %w", err)
}

var _ S3Client = (*MinioClient)(nil)
