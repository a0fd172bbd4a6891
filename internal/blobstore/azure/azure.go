// Package azure stores photos in Azure Blob Storage.
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/kozaktomas/face-registry/internal/blobstore"
)

// Client is the subset of *azblob.Client used by Store.
type Client interface {
	UploadBuffer(ctx context.Context, containerName string, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
	DownloadStream(ctx context.Context, containerName string, blobName string, o *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error)
	DeleteBlob(ctx context.Context, containerName string, blobName string, o *azblob.DeleteBlobOptions) (azblob.DeleteBlobResponse, error)
}

// Options configures New.
type Options struct {
	AccountName string
	AccountKey  string
	Container   string
	BaseURL     string // locator prefix; defaults to https://<account>.blob.core.windows.net/<container>
}

// Store implements blobstore.Store for Azure Blob Storage.
type Store struct {
	client    Client
	container string
	resolver  blobstore.URLResolver
}

// New creates a store authenticated with a shared account key.
func New(opts Options) (*Store, error) {
	if opts.AccountName == "" || opts.AccountKey == "" || opts.Container == "" {
		return nil, errors.New("azure account name, account key and container are required")
	}

	cred, err := azblob.NewSharedKeyCredential(opts.AccountName, opts.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("create azure shared key credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", opts.AccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create azure blob client: %w", err)
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = serviceURL + opts.Container
	}
	return NewStore(client, opts.Container, baseURL), nil
}

// NewStore creates a store around an existing client.
func NewStore(client Client, container, baseURL string) *Store {
	return &Store{
		client:    client,
		container: container,
		resolver:  blobstore.NewURLResolver(baseURL),
	}
}

// Put uploads data as a block blob.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := blobstore.ValidateKey(key); err != nil {
		return "", err
	}

	opts := &azblob.UploadBufferOptions{}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &contentType}
	}
	if _, err := s.client.UploadBuffer(ctx, s.container, key, data, opts); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return s.resolver.URL(key), nil
}

// Get downloads the blob behind locator.
func (s *Store) Get(ctx context.Context, locator string) ([]byte, error) {
	key, err := s.resolver.Key(locator)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.DownloadStream(ctx, s.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, blobstore.ErrNotFound
		}
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Delete removes the blob and its snapshots.
func (s *Store) Delete(ctx context.Context, locator string) error {
	key, err := s.resolver.Key(locator)
	if err != nil {
		return err
	}

	include := azblob.DeleteSnapshotsOptionTypeInclude
	_, err = s.client.DeleteBlob(ctx, s.container, key, &azblob.DeleteBlobOptions{DeleteSnapshots: &include})
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return blobstore.ErrNotFound
		}
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

var _ blobstore.Store = (*Store)(nil)
