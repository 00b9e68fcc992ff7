package profiles

import (
	"context"
	"time"
)

type BlobStore interface {
	// Upload stores the bytes under a fresh random name below namePrefix and
	// returns the object key. Fails with ErrUnresolvableType when no file
	// extension can be derived from contentType or filename.
	Upload(ctx context.Context, data []byte, contentType string, namePrefix string, filename string) (string, error)

	// SignedUrl issues a time limited retrieval url. Empty keys fail with
	// ErrInvalidKey, transport or auth problems with ErrBackend.
	SignedUrl(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// AvatarLink is a resolved avatar url. Url is empty when the profile has no
// avatar or when resolution degraded.
type AvatarLink struct {
	Url string
	Outcome
}
