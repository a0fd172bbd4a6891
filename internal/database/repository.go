package database

import (
	"context"
	"errors"
)

// ErrVersionConflict is returned by Upsert when the stored version differs from the expected one.
var ErrVersionConflict = errors.New("identity version conflict")

// IdentityReader provides read-only access to the similarity index
type IdentityReader interface {
	// Get retrieves an identity by ID, returns nil if not found
	Get(ctx context.Context, id string) (*StoredIdentity, error)
	// Query returns up to topK identities ordered by descending cosine similarity
	Query(ctx context.Context, embedding []float32, topK int) ([]IdentityMatch, error)
	// Count returns the total number of identities stored
	Count(ctx context.Context) (int, error)
}

// IdentityWriter provides write access to the similarity index
type IdentityWriter interface {
	IdentityReader

	// Upsert stores the identity with its embedding and metadata, replacing the
	// previous metadata entirely. expectedVersion 0 means the identity must not
	// exist yet; any other value must equal the stored version. Returns the new
	// version or ErrVersionConflict.
	Upsert(ctx context.Context, identity StoredIdentity, expectedVersion int64) (int64, error)

	// Close releases the backend's resources.
	Close() error
}

// HNSWRebuilder is an interface for repositories that keep an in-memory HNSW index
type HNSWRebuilder interface {
	// HNSWCount returns the number of items in the HNSW index
	HNSWCount() int
	// SaveHNSWIndex saves the current index to disk (if path configured)
	SaveHNSWIndex() error
}
