// Package storage wraps the S3-compatible object store holding uploaded pet
// images and generated videos. Upload and download access is handed out as
// presigned URLs with bounded validity so the API never proxies media bytes.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"petdance/internal/domain"
)

// Options configures the object store client.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ObjectStore persists job media in an S3-compatible bucket.
type ObjectStore struct {
	client *minio.Client
	bucket string
}

// NewObjectStore creates a store backed by the configured bucket.
func NewObjectStore(opts Options) (*ObjectStore, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("storage: bucket is required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: create client: %w", err)
	}
	return &ObjectStore{client: client, bucket: opts.Bucket}, nil
}

// IssueUploadURL returns a presigned PUT URL for the given key.
func (s *ObjectStore) IssueUploadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	u, err := s.client.PresignedPutObject(ctx, s.bucket, cleanKey, ttl)
	if err != nil {
		return "", wrapUnavailable("presign upload", err)
	}
	return u.String(), nil
}

// IssueDownloadURL returns a presigned GET URL for the given key.
func (s *ObjectStore) IssueDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, cleanKey, ttl, url.Values{})
	if err != nil {
		return "", wrapUnavailable("presign download", err)
	}
	return u.String(), nil
}

// Exists reports whether an object is present at the key. A missing object is
// not an error; only an unreachable store is.
func (s *ObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return false, err
	}
	_, err = s.client.StatObject(ctx, s.bucket, cleanKey, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
			return false, nil
		}
		return false, wrapUnavailable("stat object", err)
	}
	return true, nil
}

// Write persists the provided bytes at the given key.
func (s *ObjectStore) Write(ctx context.Context, key string, data []byte, contentType string) error {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, s.bucket, cleanKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return wrapUnavailable("put object", err)
	}
	return nil
}

func wrapUnavailable(op string, err error) error {
	return fmt.Errorf("storage: %s: %w: %w", op, domain.ErrStorageUnavailable, err)
}

// sanitizeKey normalizes a key and prevents escaping the bucket namespace.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
