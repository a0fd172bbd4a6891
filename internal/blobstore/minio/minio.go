// Package minio stores photos in MinIO or any S3-compatible service via minio-go.
package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/kozaktomas/face-registry/internal/blobstore"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Options configures New.
type Options struct {
	Endpoint  string // host:port
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	Bucket    string
	BaseURL   string // locator prefix; defaults to <scheme>://<endpoint>/<bucket>
}

// Store implements blobstore.Store for MinIO.
type Store struct {
	client   *minio.Client
	bucket   string
	resolver blobstore.URLResolver
}

// New connects to MinIO and creates the bucket if it does not exist.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, errors.New("minio endpoint and bucket are required")
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = client.EndpointURL().String() + "/" + opts.Bucket
	}
	return NewStore(client, opts.Bucket, baseURL), nil
}

// NewStore creates a store around an existing client.
func NewStore(client *minio.Client, bucket, baseURL string) *Store {
	return &Store{
		client:   client,
		bucket:   bucket,
		resolver: blobstore.NewURLResolver(baseURL),
	}
}

// Put writes a blob atomically.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := blobstore.ValidateKey(key); err != nil {
		return "", err
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return s.resolver.URL(key), nil
}

// Get downloads the object behind locator.
func (s *Store) Get(ctx context.Context, locator string) ([]byte, error) {
	key, err := s.resolver.Key(locator)
	if err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapError(key, err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key surfaces on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapError(key, err)
	}
	return data, nil
}

// Delete removes the object behind locator.
func (s *Store) Delete(ctx context.Context, locator string) error {
	key, err := s.resolver.Key(locator)
	if err != nil {
		return err
	}

	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		return mapError(key, err)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func mapError(key string, err error) error {
	errResp := minio.ToErrorResponse(err)
	if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
		return blobstore.ErrNotFound
	}
	return fmt.Errorf("get %s: %w", key, err)
}

var _ blobstore.Store = (*Store)(nil)
