package mock

import (
	"context"
	"time"
)

type BlobStore struct {
	UploadFn func(ctx context.Context, data []byte, contentType string, namePrefix string, filename string) (string, error)

	SignedUrlFn func(ctx context.Context, key string, ttl time.Duration) (string, error)
}

func (s BlobStore) Upload(ctx context.Context, data []byte, contentType string, namePrefix string, filename string) (string, error) {
	return s.UploadFn(ctx, data, contentType, namePrefix, filename)
}

func (s BlobStore) SignedUrl(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return s.SignedUrlFn(ctx, key, ttl)
}
