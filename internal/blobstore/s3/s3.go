// Package s3 stores photos in Amazon S3 (or any S3-compatible endpoint)
// using aws-sdk-go-v2 and the s3 manager uploader.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/kozaktomas/face-registry/internal/blobstore"
)

// Client is the subset of *s3.Client used by Store.
type Client interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Options configures New.
type Options struct {
	Bucket    string
	Region    string
	Endpoint  string // custom endpoint, enables path-style addressing
	AccessKey string // static credentials; empty uses the default chain
	SecretKey string
	BaseURL   string // locator prefix; defaults to the bucket's public URL
}

// Store implements blobstore.Store for S3.
type Store struct {
	client   Client
	uploader *manager.Uploader
	bucket   string
	resolver blobstore.URLResolver
}

// New loads the AWS configuration and creates a store.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	baseURL := opts.BaseURL
	if baseURL == "" {
		if opts.Endpoint != "" {
			baseURL = strings.TrimRight(opts.Endpoint, "/") + "/" + opts.Bucket
		} else {
			baseURL = blobstore.S3BaseURL(opts.Bucket)
		}
	}
	return NewStore(client, opts.Bucket, baseURL), nil
}

// NewStore creates a store around an existing client.
func NewStore(client Client, bucket, baseURL string) *Store {
	return &Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		resolver: blobstore.NewURLResolver(baseURL),
	}
}

// Put uploads data under key.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := blobstore.ValidateKey(key); err != nil {
		return "", err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.uploader.Upload(ctx, input); err != nil {
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

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, blobstore.ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Delete removes the object behind locator. S3 deletes are idempotent, so
// existence is checked first to report ErrNotFound.
func (s *Store) Delete(ctx context.Context, locator string) error {
	key, err := s.resolver.Key(locator)
	if err != nil {
		return err
	}

	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		if isNotFound(err) {
			return blobstore.ErrNotFound
		}
		return fmt.Errorf("head %s: %w", key, err)
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}

var _ blobstore.Store = (*Store)(nil)
