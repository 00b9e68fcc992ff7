package inmem

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/buzkaaclicker/profiles"
	"github.com/buzkaaclicker/profiles/objstore"
)

type Object struct {
	Data        []byte
	ContentType string
}

// BlobStore keeps objects in memory and signs urls against BaseUrl.
type BlobStore struct {
	BaseUrl string
	objects map[string]Object
	mutex   sync.RWMutex
}

var _ profiles.BlobStore = (*BlobStore)(nil)

func NewBlobStore(baseUrl string) *BlobStore {
	return &BlobStore{
		BaseUrl: baseUrl,
		objects: make(map[string]Object),
	}
}

func (s *BlobStore) Upload(ctx context.Context, data []byte, contentType string, namePrefix string, filename string) (string, error) {
	ext, err := objstore.Extension(contentType, filename)
	if err != nil {
		return "", err
	}
	key := objstore.ObjectKey(namePrefix, ext)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.objects[key] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	return key, nil
}

func (s *BlobStore) SignedUrl(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", profiles.ErrInvalidKey
	}
	expires := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("%s/%s?expires=%d", s.BaseUrl, url.PathEscape(key), expires), nil
}

func (s *BlobStore) Object(key string) (Object, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	o, ok := s.objects[key]
	return o, ok
}

func (s *BlobStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.objects)
}
