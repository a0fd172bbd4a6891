// Package local stores photos on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/kozaktomas/face-registry/internal/blobstore"
)

// Store writes objects below a root directory.
type Store struct {
	root     string
	resolver blobstore.URLResolver
}

// NewStore creates the root directory if needed. When baseURL is empty,
// locators are file:// URLs of the stored files.
func NewStore(root, baseURL string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve blob directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	if baseURL == "" {
		baseURL = (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
	}
	return &Store{root: abs, resolver: blobstore.NewURLResolver(baseURL)}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Put writes data to a temporary file and renames it into place.
func (s *Store) Put(ctx context.Context, key string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := blobstore.ValidateKey(key); err != nil {
		return "", err
	}

	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return "", fmt.Errorf("create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("rename %s: %w", key, err)
	}
	return s.resolver.URL(key), nil
}

// Get reads the file behind locator.
func (s *Store) Get(_ context.Context, locator string) ([]byte, error) {
	key, err := s.resolver.Key(locator)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, blobstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Delete removes the file behind locator.
func (s *Store) Delete(_ context.Context, locator string) error {
	key, err := s.resolver.Key(locator)
	if err != nil {
		return err
	}
	err = os.Remove(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return blobstore.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

var _ blobstore.Store = (*Store)(nil)
