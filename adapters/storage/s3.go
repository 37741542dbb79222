package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Skryldev/grsync/core"
	apperrors "github.com/Skryldev/grsync/errors"
)

// S3Client defines the minimal object-store interface used by the adapter.
// Missing objects must be reported with an error matching
// apperrors.ErrNotFound.  NewMinioClient provides the production
// implementation; tests inject doubles.
type S3Client interface {
	PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, meta map[string]string) error
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	DeleteObject(ctx context.Context, bucket, key string) error
	HeadObject(ctx context.Context, bucket, key string) (bool, error)
}

// S3 is the StorageAdapter backed by an S3-compatible object store.
type S3 struct {
	client S3Client
	bucket string
	prefix string
}

// NewS3 creates an S3 adapter.  client must not be nil.  prefix, when set,
// is prepended to every object key.
func NewS3(client S3Client, defaultBucket, prefix string) (*S3, error) {
	if client == nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "s3.new", errors.New("client must not be nil"))
	}
	if defaultBucket == "" {
		return nil, apperrors.New(apperrors.CategoryConfig, "s3.new", errors.New("bucket must not be empty"))
	}
	return &S3{client: client, bucket: defaultBucket, prefix: prefix}, nil
}

func (s *S3) target(key core.StorageKey) (bucket, object string) {
	bucket = s.bucket
	if key.Bucket != "" {
		bucket = key.Bucket
	}
	object = key.Path
	if s.prefix != "" {
		object = s.prefix + "/" + key.Path
	}
	return bucket, object
}

// Put uploads r.  Objects are content addressed, so an overwrite stores
// identical bytes.
func (s *S3) Put(ctx context.Context, key core.StorageKey, r io.Reader, meta map[string]string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "s3.put", err)
	}
	size := int64(-1)
	if l, ok := r.(interface{ Len() int }); ok {
		size = int64(l.Len())
	}
	bucket, object := s.target(key)
	if err := s.client.PutObject(ctx, bucket, object, r, size, meta); err != nil {
		return apperrors.Transient("s3.put", err)
	}
	return nil
}

func (s *S3) Get(ctx context.Context, key core.StorageKey) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "s3.get", err)
	}
	bucket, object := s.target(key)
	rc, err := s.client.GetObject(ctx, bucket, object)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.New(apperrors.CategoryStorage, "s3.get", fmt.Errorf("%w: %s", apperrors.ErrNotFound, object))
		}
		return nil, apperrors.Transient("s3.get", err)
	}
	return rc, nil
}

func (s *S3) Delete(ctx context.Context, key core.StorageKey) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "s3.delete", err)
	}
	bucket, object := s.target(key)
	return apperrors.Wrap(apperrors.CategoryStorage, "s3.delete", s.client.DeleteObject(ctx, bucket, object))
}

func (s *S3) Exists(ctx context.Context, key core.StorageKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryStorage, "s3.exists", err)
	}
	bucket, object := s.target(key)
	ok, err := s.client.HeadObject(ctx, bucket, object)
	if err != nil {
		return false, apperrors.Transient("s3.exists", err)
	}
	return ok, nil
}

var _ core.StorageAdapter = (*S3)(nil)
