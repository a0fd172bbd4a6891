// Package blobstore defines the storage used for identity photos.
//
// Photos are addressed by locators: public URLs built from a base URL and the
// object key, e.g. https://faces.s3.amazonaws.com/images/<id>_<ts>.jpg.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned when the referenced object does not exist.
	ErrNotFound = errors.New("blob not found")
	// ErrForeignLocator is returned for locators that do not belong to the store.
	ErrForeignLocator = errors.New("locator does not belong to this store")
	// ErrInvalidKey is returned for empty or path-escaping object keys.
	ErrInvalidKey = errors.New("invalid object key")
)

// Store persists photo bytes and hands out locators for them.
type Store interface {
	// Put writes data under key and returns the object's locator.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Get returns the bytes behind a locator returned by Put.
	Get(ctx context.Context, locator string) ([]byte, error)
	// Delete removes the object behind a locator.
	Delete(ctx context.Context, locator string) error
}

// URLResolver maps object keys to locators and back.
type URLResolver struct {
	BaseURL string
}

// NewURLResolver trims trailing slashes from baseURL.
func NewURLResolver(baseURL string) URLResolver {
	return URLResolver{BaseURL: strings.TrimRight(baseURL, "/")}
}

// S3BaseURL is the virtual-hosted style base URL of an AWS bucket.
func S3BaseURL(bucket string) string {
	return fmt.Sprintf("https://%s.s3.amazonaws.com", bucket)
}

// URL returns the locator for key.
func (r URLResolver) URL(key string) string {
	return r.BaseURL + "/" + strings.TrimLeft(key, "/")
}

// Key extracts and validates the object key from a locator.
func (r URLResolver) Key(locator string) (string, error) {
	prefix := r.BaseURL + "/"
	if !strings.HasPrefix(locator, prefix) {
		return "", fmt.Errorf("%w: %s", ErrForeignLocator, locator)
	}
	key := strings.TrimPrefix(locator, prefix)
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// ValidateKey rejects keys that are empty, absolute or escape the store root.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if path.Clean(key) != key || strings.HasPrefix(key, "../") || key == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
