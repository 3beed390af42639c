// Package minio reads files from MinIO or any other S3-compatible store.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/IvanBrykalov/respcache/storage"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store implements storage.Reader for MinIO.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// New creates a store reading bucket through client. prefix is prepended
// to every key.
func New(client *minio.Client, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

// Dial connects to endpoint (host:port) with static V4 credentials.
func Dial(endpoint, accessKey, secretKey string, secure bool, bucket, prefix string) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: client for %s: %w", endpoint, err)
	}
	return New(client, bucket, prefix), nil
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// ReadFile fetches the whole object. GetObject is lazy, so the existence
// check happens on Stat.
func (s *Store) ReadFile(ctx context.Context, name string) ([]byte, error) {
	clean, ok := storage.Clean(name)
	if !ok {
		return nil, fmt.Errorf("minio: %q: %w", name, storage.ErrNotFound)
	}
	key := s.key(clean)

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapErr(key, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, mapErr(key, err)
	}

	var buf bytes.Buffer
	buf.Grow(int(info.Size))
	if _, err := buf.ReadFrom(obj); err != nil {
		return nil, mapErr(key, err)
	}
	return buf.Bytes(), nil
}

// Put uploads data under name. The server never writes; this exists for
// seeding buckets in tests and tools.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	return err
}

func mapErr(key string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("minio: %q: %w", key, storage.ErrNotFound)
	}
	return fmt.Errorf("minio: get %q: %w", key, err)
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return true
	}
	return false
}

var _ storage.Reader = (*Store)(nil)
