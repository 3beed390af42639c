// Package s3 reads files from an AWS S3 bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/IvanBrykalov/respcache/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Client is the subset of the S3 API the store needs. *s3.Client
// satisfies it; tests substitute a mock.
type Client interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store implements storage.Reader for S3.
type Store struct {
	client     Client
	downloader *manager.Downloader
	bucket     string
	prefix     string
}

// New creates a store reading bucket. prefix is prepended to every key
// (e.g. "site/").
func New(client Client, bucket, prefix string) *Store {
	return &Store{
		client:     client,
		downloader: manager.NewDownloader(client),
		bucket:     bucket,
		prefix:     prefix,
	}
}

// NewFromConfig builds an S3 client from the default credential chain
// (environment, shared config, instance role) and wraps it in a Store.
func NewFromConfig(ctx context.Context, bucket, prefix string, optFns ...func(*config.LoadOptions) error) (*Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("s3: load config: %w", err)
	}
	return New(s3.NewFromConfig(cfg), bucket, prefix), nil
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// ReadFile fetches the whole object. The size from HeadObject sizes the
// download buffer up front; large objects are fetched in parallel parts
// by the manager's Downloader.
func (s *Store) ReadFile(ctx context.Context, name string) ([]byte, error) {
	clean, ok := storage.Clean(name)
	if !ok {
		return nil, fmt.Errorf("s3: %q: %w", name, storage.ErrNotFound)
	}
	key := s.key(clean)

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapErr(key, err)
	}
	size := aws.ToInt64(head.ContentLength)
	if size == 0 {
		return []byte{}, nil
	}

	buf := manager.NewWriteAtBuffer(make([]byte, 0, size))
	n, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapErr(key, err)
	}
	return buf.Bytes()[:n], nil
}

func mapErr(key string, err error) error {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return fmt.Errorf("s3: %q: %w", key, storage.ErrNotFound)
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return fmt.Errorf("s3: %q: %w", key, storage.ErrNotFound)
	}
	return fmt.Errorf("s3: get %q: %w", key, err)
}

var _ storage.Reader = (*Store)(nil)
