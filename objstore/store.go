package objstore

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"time"

	"github.com/buzkaaclicker/profiles"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Endpoint        string
	AccessKeyId     string
	SecretAccessKey string
	Bucket          string
	Region          string
	UseSSL          bool
}

// Store keeps avatar objects in an S3 compatible bucket.
type Store struct {
	Client *minio.Client
	Bucket string
}

var _ profiles.BlobStore = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyId, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	logrus.
		WithField("bucket", cfg.Bucket).
		WithField("region", cfg.Region).
		Infoln("Object storage client initialized.")
	return &Store{Client: client, Bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context, region string) error {
	exists, err := s.Client.BucketExists(ctx, s.Bucket)
	if err != nil {
		return fmt.Errorf("%w: bucket exists: %w", profiles.ErrBackend, err)
	}
	if exists {
		return nil
	}
	err = s.Client.MakeBucket(ctx, s.Bucket, minio.MakeBucketOptions{Region: region})
	if err != nil {
		return fmt.Errorf("%w: make bucket: %w", profiles.ErrBackend, err)
	}
	logrus.WithField("bucket", s.Bucket).Infoln("Created bucket.")
	return nil
}

func (s *Store) Upload(ctx context.Context, data []byte, contentType string, namePrefix string, filename string) (string, error) {
	ext, err := Extension(contentType, filename)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = mime.TypeByExtension(ext)
	}
	key := ObjectKey(namePrefix, ext)

	_, err = s.Client.PutObject(ctx, s.Bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("%w: put object %s: %w", profiles.ErrBackend, key, err)
	}
	logrus.
		WithField("bucket", s.Bucket).
		WithField("key", key).
		WithField("content_type", contentType).
		Infoln("Uploaded object.")
	return key, nil
}

func (s *Store) SignedUrl(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", profiles.ErrInvalidKey
	}
	signed, err := s.Client.PresignedGetObject(ctx, s.Bucket, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("%w: presign %s: %w", profiles.ErrBackend, key, err)
	}
	return signed.String(), nil
}
