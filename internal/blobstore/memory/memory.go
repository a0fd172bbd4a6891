// Package memory is an in-process blobstore.Store used by tests and demos.
package memory

import (
	"context"
	"sync"

	"github.com/kozaktomas/face-registry/internal/blobstore"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "mem://blobs"

// Store keeps objects in a map.
type Store struct {
	mu       sync.RWMutex
	objects  map[string][]byte
	resolver blobstore.URLResolver

	// PutError, when set, fails every Put.
	PutError error
}

// NewStore creates an empty store. An empty baseURL selects DefaultBaseURL.
func NewStore(baseURL string) *Store {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Store{
		objects:  make(map[string][]byte),
		resolver: blobstore.NewURLResolver(baseURL),
	}
}

// Put stores a copy of data.
func (s *Store) Put(ctx context.Context, key string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.PutError != nil {
		return "", s.PutError
	}
	if err := blobstore.ValidateKey(key); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return s.resolver.URL(key), nil
}

// Get returns a copy of the stored bytes.
func (s *Store) Get(_ context.Context, locator string) ([]byte, error) {
	key, err := s.resolver.Key(locator)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, blobstore.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Delete removes the object.
func (s *Store) Delete(_ context.Context, locator string) error {
	key, err := s.resolver.Key(locator)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return blobstore.ErrNotFound
	}
	delete(s.objects, key)
	return nil
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

var _ blobstore.Store = (*Store)(nil)
