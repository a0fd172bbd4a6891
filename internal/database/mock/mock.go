// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sort"
	"sync"

	"github.com/kozaktomas/face-registry/internal/database"
)

// MockIdentityStore is an in-memory database.IdentityWriter with brute-force
// cosine search, error injection and call recording.
type MockIdentityStore struct {
	mu         sync.RWMutex
	identities map[string]database.StoredIdentity

	// Error injection
	GetError    error
	QueryError  error
	CountError  error
	UpsertError error

	// BeforeUpsert runs before the version check, outside the store lock.
	// Tests use it to simulate a concurrent writer.
	BeforeUpsert func(identity database.StoredIdentity, expectedVersion int64)

	// Recorded calls
	UpsertCalls int
	QueryCalls  int
	Closed      bool
}

// NewMockIdentityStore creates a new empty mock store
func NewMockIdentityStore() *MockIdentityStore {
	return &MockIdentityStore{
		identities: make(map[string]database.StoredIdentity),
	}
}

// AddIdentity stores an identity directly, bypassing version checks.
// A zero Version is stored as 1.
func (m *MockIdentityStore) AddIdentity(ident database.StoredIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ident.Version == 0 {
		ident.Version = 1
	}
	m.identities[ident.ID] = ident.Clone()
}

// Identities returns a copy of every stored identity, ordered by ID
func (m *MockIdentityStore) Identities() []database.StoredIdentity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.StoredIdentity, 0, len(m.identities))
	for _, ident := range m.identities {
		out = append(out, ident.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get retrieves an identity by ID
func (m *MockIdentityStore) Get(ctx context.Context, id string) (*database.StoredIdentity, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ident, ok := m.identities[id]
	if !ok {
		return nil, nil
	}
	c := ident.Clone()
	return &c, nil
}

// Query scores every stored identity and returns the best topK
func (m *MockIdentityStore) Query(ctx context.Context, embedding []float32, topK int) ([]database.IdentityMatch, error) {
	m.mu.Lock()
	m.QueryCalls++
	m.mu.Unlock()

	if m.QueryError != nil {
		return nil, m.QueryError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]database.IdentityMatch, 0, len(m.identities))
	for _, ident := range m.identities {
		matches = append(matches, database.IdentityMatch{
			Identity: ident.Clone(),
			Score:    database.CosineSimilarity(embedding, ident.Embedding),
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Identity.ID < matches[j].Identity.ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Count returns the total number of identities
func (m *MockIdentityStore) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.identities), nil
}

// Upsert stores the identity when expectedVersion matches
func (m *MockIdentityStore) Upsert(ctx context.Context, identity database.StoredIdentity, expectedVersion int64) (int64, error) {
	m.mu.Lock()
	m.UpsertCalls++
	m.mu.Unlock()

	if m.UpsertError != nil {
		return 0, m.UpsertError
	}
	if m.BeforeUpsert != nil {
		m.BeforeUpsert(identity, expectedVersion)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	if existing, ok := m.identities[identity.ID]; ok {
		current = existing.Version
	}
	if current != expectedVersion {
		return 0, database.ErrVersionConflict
	}

	stored := identity.Clone()
	stored.Version = current + 1
	m.identities[stored.ID] = stored
	return stored.Version, nil
}

// Close marks the store as closed
func (m *MockIdentityStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Verify interface compliance.
var _ database.IdentityWriter = (*MockIdentityStore)(nil)
